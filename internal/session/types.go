package session

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
)

// Turn is one message within a conversation. Turns are immutable once
// appended; insertion order is conversational order.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	TopicTag  string    `json:"topic_tag,omitempty"`
}
