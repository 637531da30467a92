package session

import (
	"context"
	"sync"
	"time"
)

type state struct {
	// mu serializes whole exchanges (history read through turn append) for one
	// session id. Different sessions never contend on it.
	mu           sync.Mutex
	turns        []Turn
	topic        string
	lastActivity time.Time
}

// Store maps session ids to ordered conversation histories. Sessions are
// created implicitly on first use, bounded by a retention cap per session and
// a process-wide session count cap, and reclaimed by a TTL janitor.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*state
	ttl       time.Duration
	retention int
	maxCount  int
	onEvict   func(count int)
}

func NewStore(ttl time.Duration, retentionTurns, maxSessions int) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if retentionTurns < 2 {
		retentionTurns = 2
	}
	if maxSessions <= 0 {
		maxSessions = 1024
	}
	return &Store{
		sessions:  make(map[string]*state),
		ttl:       ttl,
		retention: retentionTurns,
		maxCount:  maxSessions,
	}
}

// SetEvictHook registers a callback invoked with the number of sessions
// removed by each janitor sweep.
func (s *Store) SetEvictHook(hook func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = hook
}

// Exchange is an exclusive handle on one session, held for the span of a
// single request. At most one Exchange exists per session id at a time.
type Exchange struct {
	store *Store
	st    *state
}

// Begin returns an exclusive handle on the session, creating it if needed.
// Blocks while another exchange for the same id is in flight. The caller must
// Release the handle.
func (s *Store) Begin(id string) *Exchange {
	st := s.getOrCreate(id)
	st.mu.Lock()
	st.lastActivity = time.Now().UTC()
	return &Exchange{store: s, st: st}
}

// History returns a copy of the session's turns in conversational order.
func (e *Exchange) History() []Turn {
	out := make([]Turn, len(e.st.turns))
	copy(out, e.st.turns)
	return out
}

// Topic returns the session's current inferred subject, or "".
func (e *Exchange) Topic() string {
	return e.st.topic
}

// Commit appends the user and tutor turns as an atomic pair, updates the
// current topic, and prunes oldest turns past the retention cap. The pair
// shares the topic tag so a later clear of context keeps attribution intact.
func (e *Exchange) Commit(userText, tutorText, topic string) {
	now := time.Now().UTC()
	e.st.turns = append(e.st.turns,
		Turn{Role: RoleUser, Text: userText, Timestamp: now, TopicTag: topic},
		Turn{Role: RoleTutor, Text: tutorText, Timestamp: now, TopicTag: topic},
	)
	e.st.topic = topic
	if excess := len(e.st.turns) - e.store.retention; excess > 0 {
		e.st.turns = append([]Turn(nil), e.st.turns[excess:]...)
	}
	e.st.lastActivity = now
}

// Release unlocks the session. Safe to call exactly once, including after a
// failed exchange where nothing was committed.
func (e *Exchange) Release() {
	e.st.mu.Unlock()
}

func (s *Store) getOrCreate(id string) *state {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.sessions[id]; ok {
		return st
	}
	if len(s.sessions) >= s.maxCount {
		s.evictOldestLocked()
	}
	st = &state{lastActivity: time.Now().UTC()}
	s.sessions[id] = st
	return st
}

// evictOldestLocked removes the least recently active idle session to keep the
// map under the count cap. Sessions with an exchange in flight are skipped.
func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, st := range s.sessions {
		if !st.mu.TryLock() {
			continue
		}
		last := st.lastActivity
		st.mu.Unlock()
		if oldestID == "" || last.Before(oldest) {
			oldestID = id
			oldest = last
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}

// Clear resets the session's history and topic. Idempotent; clearing an
// unknown id is a no-op.
func (s *Store) Clear(id string) {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.turns = nil
	st.topic = ""
	st.lastActivity = time.Now().UTC()
	st.mu.Unlock()
}

// History returns a copy of a session's turns without acquiring the exchange
// lock for longer than the copy.
func (s *Store) History(id string) []Turn {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out
}

// Topic returns a session's current subject tag, or "".
func (s *Store) Topic(id string) string {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.topic
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictStale removes sessions idle past the TTL and reports how many were
// evicted. Sessions with an exchange in flight are never reclaimed.
func (s *Store) EvictStale(now time.Time) int {
	s.mu.Lock()
	evicted := 0
	for id, st := range s.sessions {
		if !st.mu.TryLock() {
			continue
		}
		stale := now.Sub(st.lastActivity) >= s.ttl
		st.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			evicted++
		}
	}
	hook := s.onEvict
	s.mu.Unlock()

	if hook != nil && evicted > 0 {
		hook(evicted)
	}
	return evicted
}

// StartJanitor sweeps stale sessions on a timer until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictStale(time.Now().UTC())
			}
		}
	}()
}
