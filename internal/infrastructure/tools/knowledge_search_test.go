package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

func TestKnowledgeSearchRanksTitleHitsAboveBodyHits(t *testing.T) {
	storage := newMemStorage()
	files := &stubFileStore{}
	ctx := context.Background()

	_ = storage.Save(ctx, "documents/doc-1", strings.NewReader("general notes about deployments"))
	_ = files.InsertFileRef(ctx, domain.FileRef{
		ID:       "doc-1",
		ChatID:   "chat-1",
		Kind:     domain.FileRefArtifact,
		Metadata: map[string]string{"title": "Meeting notes"},
	})

	_ = storage.Save(ctx, "documents/doc-2", strings.NewReader("unrelated content, deployments mentioned once"))
	_ = files.InsertFileRef(ctx, domain.FileRef{
		ID:       "doc-2",
		ChatID:   "chat-1",
		Kind:     domain.FileRefArtifact,
		Metadata: map[string]string{"title": "Deployments runbook"},
	})

	search := NewKnowledgeSearch(files, storage)
	out, err := search.Invoke(ctx, map[string]any{"query": "deployments", "chat_id": "chat-1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	var payload struct {
		Hits []knowledgeHit `json:"hits"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not json: %v", err)
	}
	if len(payload.Hits) != 2 {
		t.Fatalf("expected two hits, got %d", len(payload.Hits))
	}
	if payload.Hits[0].FileID != "doc-2" {
		t.Fatalf("title match should rank first, got %+v", payload.Hits)
	}
	if payload.Hits[0].Score <= payload.Hits[1].Score {
		t.Fatalf("hits are not score-ordered: %+v", payload.Hits)
	}
	if !strings.Contains(payload.Hits[1].Excerpt, "deployments") {
		t.Fatalf("excerpt missing the matched term: %+v", payload.Hits[1])
	}
}

func TestKnowledgeSearchSkipsNonMatchingFiles(t *testing.T) {
	storage := newMemStorage()
	files := &stubFileStore{}
	ctx := context.Background()

	_ = files.InsertFileRef(ctx, domain.FileRef{
		ID:       "doc-1",
		ChatID:   "chat-1",
		Kind:     domain.FileRefUploaded,
		Metadata: map[string]string{"title": "Shopping list"},
	})

	search := NewKnowledgeSearch(files, storage)
	out, err := search.Invoke(ctx, map[string]any{"query": "kubernetes", "chat_id": "chat-1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	var payload struct {
		Hits []knowledgeHit `json:"hits"`
	}
	_ = json.Unmarshal([]byte(out), &payload)
	if len(payload.Hits) != 0 {
		t.Fatalf("expected no hits, got %+v", payload.Hits)
	}
}

func TestKnowledgeSearchValidatesInput(t *testing.T) {
	search := NewKnowledgeSearch(&stubFileStore{}, newMemStorage())
	for _, args := range []map[string]any{
		{"query": "", "chat_id": "chat-1"},
		{"query": "x", "chat_id": ""},
	} {
		if _, err := search.Invoke(context.Background(), args); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("args %v: expected invalid input, got %v", args, err)
		}
	}
}
