package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"q1", "a1", "q2", "a2"} {
		if err := s.SaveTurn(ctx, Record{SessionID: "sess", Role: "user", Text: text}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.Recent(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].Text != "q2" || got[1].Text != "a2" {
		t.Fatalf("Recent = %+v, want last two records in order", got)
	}
	for _, r := range got {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("record missing id/timestamp: %+v", r)
		}
	}
}

func TestInMemoryStoreUnknownSessionIsEmpty(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Recent = %+v, want empty", got)
	}
}
