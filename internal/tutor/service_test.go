package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aravind45/school-tutor-chatbot/internal/engine"
	"github.com/aravind45/school-tutor-chatbot/internal/observability"
	"github.com/aravind45/school-tutor-chatbot/internal/prompt"
	"github.com/aravind45/school-tutor-chatbot/internal/session"
	"github.com/aravind45/school-tutor-chatbot/internal/topic"
	"github.com/aravind45/school-tutor-chatbot/internal/transcript"
)

type scriptRunner struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) string
	err     error
}

func (r *scriptRunner) Complete(_ context.Context, req engine.CompletionRequest) (engine.CompletionResult, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, req.Prompt)
	r.mu.Unlock()
	if r.err != nil {
		return engine.CompletionResult{}, r.err
	}
	text := "stub answer"
	if r.reply != nil {
		text = r.reply(req.Prompt)
	}
	return engine.CompletionResult{Text: text, CompletionTokens: -1, FinishReason: "stop"}, nil
}

func (r *scriptRunner) Info() engine.Info {
	return engine.Info{Backend: "stub", Device: "cpu", Model: "stub-model"}
}

func (r *scriptRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.prompts))
	copy(out, r.prompts)
	return out
}

func newTestService(t *testing.T, runner engine.Runner) (*Service, *session.Store, transcript.Store) {
	t.Helper()
	store := session.NewStore(30*time.Minute, 64, 128)
	builder := prompt.NewBuilder(topic.NewKeywordClassifier(), 1600, 2)
	var eng *engine.Engine
	if runner != nil {
		eng = engine.New(runner, 5*time.Second)
	}
	archive := transcript.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("tutor_test_%s_%d", t.Name(), time.Now().UnixNano()))
	params := engine.Params{MaxNewTokens: 500, Temperature: 0.7, TopP: 0.9}
	return NewService(store, builder, eng, archive, metrics, params, 2000), store, archive
}

func TestChatValidationRunsBeforeSessionState(t *testing.T) {
	runner := &scriptRunner{}
	svc, store, _ := newTestService(t, runner)
	ctx := context.Background()

	if _, err := svc.Chat(ctx, "s1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank message error = %v, want ErrEmptyMessage", err)
	}
	if _, err := svc.Chat(ctx, "s1", strings.Repeat("x", 2001)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("long message error = %v, want ErrMessageTooLong", err)
	}
	if store.Count() != 0 {
		t.Fatalf("rejected messages created %d sessions, want 0", store.Count())
	}
	if got := runner.seen(); len(got) != 0 {
		t.Fatalf("rejected messages reached the model: %v", got)
	}
}

func TestChatIssuesSessionIDWhenMissing(t *testing.T) {
	svc, _, _ := newTestService(t, &scriptRunner{})

	reply, err := svc.Chat(context.Background(), "", "what is a vector?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.SessionID == "" {
		t.Fatal("expected generated session id")
	}

	again, err := svc.Chat(context.Background(), reply.SessionID, "tell me about newton's laws")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if again.SessionID != reply.SessionID {
		t.Fatalf("session id changed: %q -> %q", reply.SessionID, again.SessionID)
	}
}

func TestChatFollowUpCarriesRecentContext(t *testing.T) {
	runner := &scriptRunner{reply: func(p string) string {
		if strings.Contains(p, "newton") {
			return "### Response:\nAn object in motion stays in motion."
		}
		return "### Response:\nSure, here is an example."
	}}
	svc, store, _ := newTestService(t, runner)
	ctx := context.Background()

	first, err := svc.Chat(ctx, "phys", "Can you explain newton's laws of motion?")
	if err != nil {
		t.Fatalf("first Chat() error = %v", err)
	}
	if first.FollowUp {
		t.Fatal("subject-bearing message classified as follow-up")
	}
	if first.Text != "An object in motion stays in motion." {
		t.Fatalf("answer = %q, want cleaned response section", first.Text)
	}

	second, err := svc.Chat(ctx, "phys", "can you give me an example")
	if err != nil {
		t.Fatalf("second Chat() error = %v", err)
	}
	if !second.FollowUp {
		t.Fatal("example request after a topic should be a follow-up")
	}

	prompts := runner.seen()
	if len(prompts) != 2 {
		t.Fatalf("model saw %d prompts, want 2", len(prompts))
	}
	if !strings.Contains(prompts[1], "Recent conversation:") {
		t.Fatalf("follow-up prompt missing context block:\n%s", prompts[1])
	}
	if !strings.Contains(prompts[1], "User asked: Can you explain newton's laws of motion?") {
		t.Fatalf("follow-up prompt missing prior user turn:\n%s", prompts[1])
	}

	turns := store.History("phys")
	if len(turns) != 4 {
		t.Fatalf("history length = %d, want 4", len(turns))
	}
	for i, want := range []session.Role{session.RoleUser, session.RoleTutor, session.RoleUser, session.RoleTutor} {
		if turns[i].Role != want {
			t.Fatalf("turn %d role = %q, want %q", i, turns[i].Role, want)
		}
	}
	if store.Topic("phys") == "" {
		t.Fatal("topic tag lost across the follow-up")
	}
}

func TestChatDiscardsExchangeOnGenerationFailure(t *testing.T) {
	runner := &scriptRunner{err: errors.New("backend exploded")}
	svc, store, _ := newTestService(t, runner)

	_, err := svc.Chat(context.Background(), "s1", "explain projectile motion")
	if !errors.Is(err, engine.ErrGenerationFailed) {
		t.Fatalf("Chat() error = %v, want ErrGenerationFailed", err)
	}
	if turns := store.History("s1"); len(turns) != 0 {
		t.Fatalf("failed exchange left %d turns in history, want 0", len(turns))
	}
}

func TestChatUnavailableWithoutRunner(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	if _, err := svc.Chat(context.Background(), "s1", "hello"); !errors.Is(err, engine.ErrNotLoaded) {
		t.Fatalf("Chat() error = %v, want ErrNotLoaded", err)
	}
}

func TestChatArchivesCommittedPair(t *testing.T) {
	svc, _, archive := newTestService(t, &scriptRunner{})

	reply, err := svc.Chat(context.Background(), "arch", "what is kinetic energy?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	recs, err := archive.Recent(context.Background(), "arch", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("archived %d records, want user+tutor pair", len(recs))
	}
	if recs[0].Role != string(session.RoleUser) || recs[0].Text != "what is kinetic energy?" {
		t.Fatalf("first record = %+v, want the user turn", recs[0])
	}
	if recs[1].Role != string(session.RoleTutor) || recs[1].Text != reply.Text {
		t.Fatalf("second record = %+v, want the tutor turn", recs[1])
	}
}

func TestChatConcurrentMessagesKeepPairsAdjacent(t *testing.T) {
	runner := &scriptRunner{reply: func(p string) string {
		q := p
		if i := strings.Index(q, "### Instruction:\n"); i >= 0 {
			q = q[i+len("### Instruction:\n"):]
		}
		if i := strings.Index(q, "\n\n### Response:"); i >= 0 {
			q = q[:i]
		}
		return "answer to: " + q
	}}
	svc, store, _ := newTestService(t, runner)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("question number %d about energy", i)
			if _, err := svc.Chat(context.Background(), "busy", msg); err != nil {
				t.Errorf("Chat(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	turns := store.History("busy")
	if len(turns) != 2*n {
		t.Fatalf("history length = %d, want %d", len(turns), 2*n)
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != session.RoleUser || turns[i+1].Role != session.RoleTutor {
			t.Fatalf("turns %d/%d roles = %q/%q, want user/tutor", i, i+1, turns[i].Role, turns[i+1].Role)
		}
		if !strings.Contains(turns[i+1].Text, turns[i].Text) {
			t.Fatalf("reply %q does not answer adjacent question %q", turns[i+1].Text, turns[i].Text)
		}
	}
}

func TestClearIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t, &scriptRunner{})
	ctx := context.Background()

	if _, err := svc.Chat(ctx, "wipe", "explain acids and bases"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	svc.Clear("wipe")
	if turns := store.History("wipe"); len(turns) != 0 {
		t.Fatalf("history after clear = %d turns, want 0", len(turns))
	}
	if store.Topic("wipe") != "" {
		t.Fatal("topic survived clear")
	}

	svc.Clear("wipe")
	svc.Clear("never-existed")
}

func TestHealthReflectsEngineState(t *testing.T) {
	svc, _, _ := newTestService(t, &scriptRunner{})
	h := svc.Health()
	if h.Status != "healthy" || !h.ModelLoaded || h.Device != "cpu" {
		t.Fatalf("health = %+v, want healthy/loaded/cpu", h)
	}

	down, _, _ := newTestService(t, nil)
	h = down.Health()
	if h.Status != "degraded" || h.ModelLoaded {
		t.Fatalf("health without runner = %+v, want degraded", h)
	}
	if h.Device != "unknown" {
		t.Fatalf("device = %q, want unknown fallback", h.Device)
	}
}
