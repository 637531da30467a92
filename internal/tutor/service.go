package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aravind45/school-tutor-chatbot/internal/engine"
	"github.com/aravind45/school-tutor-chatbot/internal/observability"
	"github.com/aravind45/school-tutor-chatbot/internal/prompt"
	"github.com/aravind45/school-tutor-chatbot/internal/session"
	"github.com/aravind45/school-tutor-chatbot/internal/transcript"
)

var (
	// ErrEmptyMessage rejects empty or whitespace-only input.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrMessageTooLong rejects input over the configured length cap.
	ErrMessageTooLong = errors.New("message too long")
)

// Reply is a successful chat outcome.
type Reply struct {
	Text      string
	SessionID string
	FollowUp  bool
	Truncated bool
}

// HealthStatus is the answer to /health; it is assembled without touching the
// inference gate so health stays responsive during a long generation.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	Backend     string `json:"backend,omitempty"`
	Model       string `json:"model,omitempty"`
}

// Service orchestrates one chat exchange: validate, read history, decide
// follow-up, render the prompt, generate, commit the turn pair.
type Service struct {
	store           *session.Store
	builder         *prompt.Builder
	engine          *engine.Engine
	archive         transcript.Store
	metrics         *observability.Metrics
	params          engine.Params
	maxMessageChars int
}

func NewService(
	store *session.Store,
	builder *prompt.Builder,
	eng *engine.Engine,
	archive transcript.Store,
	metrics *observability.Metrics,
	params engine.Params,
	maxMessageChars int,
) *Service {
	if maxMessageChars <= 0 {
		maxMessageChars = 2000
	}
	return &Service{
		store:           store,
		builder:         builder,
		engine:          eng,
		archive:         archive,
		metrics:         metrics,
		params:          params,
		maxMessageChars: maxMessageChars,
	}
}

// Chat processes one user message. Validation happens before any session
// state is touched. On generation failure or timeout the whole exchange is
// discarded, so history never holds an unanswered question.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (Reply, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Reply{}, ErrEmptyMessage
	}
	if len(message) > s.maxMessageChars {
		return Reply{}, fmt.Errorf("%w (max %d characters)", ErrMessageTooLong, s.maxMessageChars)
	}
	if !s.engine.Ready() {
		return Reply{}, engine.ErrNotLoaded
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	started := time.Now()

	// The exchange lock is held across the whole read-generate-commit span:
	// concurrent messages on one session serialize here, sessions stay
	// independent until the inference gate.
	ex := s.store.Begin(sessionID)
	defer ex.Release()
	s.metrics.ActiveSessions.Set(float64(s.store.Count()))

	decision := s.builder.Build(ex.History(), ex.Topic(), trimmed)
	rendered := prompt.Render(trimmed, decision.ContextBlock, decision.Topic)

	res, err := s.engine.Generate(ctx, rendered, s.params)
	if err != nil {
		s.metrics.ChatRequests.WithLabelValues(outcomeOf(err)).Inc()
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Bool("follow_up", decision.FollowUp).
			Msg("exchange discarded")
		return Reply{}, err
	}

	s.metrics.ObserveQueueWait(res.QueueWait)
	s.metrics.ObserveGeneration(res.Compute)
	s.metrics.ObserveTurnTotal(time.Since(started))
	if res.Truncated {
		s.metrics.TruncatedGenerations.Inc()
	}
	s.metrics.ChatRequests.WithLabelValues("success").Inc()

	ex.Commit(trimmed, res.Answer, decision.Topic)
	s.archiveExchange(ctx, sessionID, trimmed, res.Answer, decision.Topic)

	log.Info().
		Str("session_id", sessionID).
		Str("topic", decision.Topic).
		Bool("follow_up", decision.FollowUp).
		Bool("truncated", res.Truncated).
		Dur("queue_wait", res.QueueWait).
		Dur("compute", res.Compute).
		Msg("exchange completed")

	return Reply{
		Text:      res.Answer,
		SessionID: sessionID,
		FollowUp:  decision.FollowUp,
		Truncated: res.Truncated,
	}, nil
}

// Clear wipes a session's history. Always succeeds, including for ids that
// were never seen.
func (s *Service) Clear(sessionID string) {
	s.store.Clear(strings.TrimSpace(sessionID))
	s.metrics.SessionEvents.WithLabelValues("cleared").Inc()
}

// Transcript returns archived turns for a session, oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID string, limit int) ([]transcript.Record, error) {
	return s.archive.Recent(ctx, strings.TrimSpace(sessionID), limit)
}

// Health reports engine readiness without contending on the inference gate.
func (s *Service) Health() HealthStatus {
	snap := s.engine.Snapshot()
	status := "healthy"
	if !snap.Loaded {
		status = "degraded"
	}
	device := snap.Device
	if device == "" {
		device = "unknown"
	}
	return HealthStatus{
		Status:      status,
		ModelLoaded: snap.Loaded,
		Device:      device,
		Backend:     snap.Backend,
		Model:       snap.Model,
	}
}

// archiveExchange writes the committed pair to the transcript store. The
// archive is best-effort: a storage fault must not fail a served answer.
func (s *Service) archiveExchange(ctx context.Context, sessionID, userText, tutorText, topic string) {
	if s.archive == nil {
		return
	}
	records := []transcript.Record{
		{SessionID: sessionID, Role: string(session.RoleUser), Text: userText, TopicTag: topic},
		{SessionID: sessionID, Role: string(session.RoleTutor), Text: tutorText, TopicTag: topic},
	}
	for _, rec := range records {
		if err := s.archive.SaveTurn(ctx, rec); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("transcript archive write failed")
			return
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, engine.ErrGenerationTimeout):
		return "timeout"
	case errors.Is(err, engine.ErrNotLoaded):
		return "unavailable"
	case errors.Is(err, engine.ErrGenerationFailed):
		return "failure"
	default:
		return "error"
	}
}
