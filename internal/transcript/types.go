package transcript

import (
	"context"
	"time"
)

// Record is one archived conversational turn. The archive is write-behind:
// records are never read back into live sessions, only served for inspection.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	TopicTag  string    `json:"topic_tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store archives completed exchanges.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}
