package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

func TestBuildBoundsHistoryNewestFirst(t *testing.T) {
	store := newFakeMessageStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		if err := store.AppendTurn(context.Background(), domain.Turn{
			ID:        fmt.Sprintf("t%d", i),
			ChatID:    "chat-1",
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	builder := NewContextWindowBuilder(store, &fakeEntityStore{}, &fakeSummaryStore{}, &fakeFileStore{}, 5)
	window, err := builder.Build(context.Background(), "chat-1", "user-1", "client-1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(window.RecentHistory) != 5 {
		t.Fatalf("expected history bounded to 5, got %d", len(window.RecentHistory))
	}
	if window.RecentHistory[0].Content != "message 19" {
		t.Fatalf("expected newest message first, got %q", window.RecentHistory[0].Content)
	}
	if window.Summary != nil {
		t.Fatalf("fresh chat should have no summary, got %+v", window.Summary)
	}
}

func TestEstimatedTokensGrowMonotonically(t *testing.T) {
	window := &domain.ContextWindow{}
	previous := estimateTokens(window)

	grow := []func(){
		func() {
			window.RecentHistory = append(window.RecentHistory, domain.Turn{Role: "user", Content: "tell me about the deployment"})
		},
		func() {
			window.Entities = append(window.Entities, domain.Entity{Type: domain.EntityEmail, Value: "alice@example.com"})
		},
		func() {
			window.Summary = &domain.Summary{Text: "The user is debugging a failing deployment."}
		},
		func() {
			window.Files = append(window.Files, domain.FileRef{ID: "f1", Kind: domain.FileRefArtifact})
		},
		func() {
			window.RecentHistory = append(window.RecentHistory, domain.Turn{Role: "assistant", Content: "Checked the logs."})
		},
	}

	for i, step := range grow {
		step()
		current := estimateTokens(window)
		if current < previous {
			t.Fatalf("step %d: estimate shrank from %d to %d", i, previous, current)
		}
		if current == previous {
			// Every growth step above adds at least four characters or a file.
			t.Fatalf("step %d: estimate did not grow (%d)", i, current)
		}
		previous = current
	}
}
