package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

// KnowledgeSearch scans the chat's stored files for query terms. Matching is
// lexical over titles and document bodies; scoring is term-hit count.
type KnowledgeSearch struct {
	files      ports.FileStore
	storage    ports.ObjectStorage
	maxResults int
	maxBytes   int64
}

func NewKnowledgeSearch(files ports.FileStore, storage ports.ObjectStorage) *KnowledgeSearch {
	return &KnowledgeSearch{
		files:      files,
		storage:    storage,
		maxResults: 5,
		maxBytes:   256 << 10,
	}
}

func (t *KnowledgeSearch) Name() string { return "knowledge_search" }

func (t *KnowledgeSearch) Description() string {
	return "Search documents and files stored for this chat. Input: {\"query\": string, \"chat_id\": string, \"user_id\"?: string}."
}

func (t *KnowledgeSearch) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"chat_id": {"type": "string"},
			"user_id": {"type": "string"}
		},
		"required": ["query", "chat_id"]
	}`)
}

type knowledgeHit struct {
	FileID  string `json:"file_id"`
	Title   string `json:"title,omitempty"`
	Kind    string `json:"kind"`
	Score   int    `json:"score"`
	Excerpt string `json:"excerpt,omitempty"`
}

func (t *KnowledgeSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	chatID, _ := args["chat_id"].(string)
	userID, _ := args["user_id"].(string)
	query = strings.TrimSpace(query)
	if query == "" || strings.TrimSpace(chatID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "knowledge search", fmt.Errorf("query and chat_id are required"))
	}

	refs, err := t.files.SelectFileRefs(ctx, chatID, userID)
	if err != nil {
		return "", fmt.Errorf("list chat files: %w", err)
	}

	terms := strings.Fields(strings.ToLower(query))
	var hits []knowledgeHit
	for _, ref := range refs {
		title := ref.Metadata["title"]
		body := t.readBody(ctx, ref)
		score, excerpt := scoreContent(terms, title, body)
		if score == 0 {
			continue
		}
		hits = append(hits, knowledgeHit{
			FileID:  ref.ID,
			Title:   title,
			Kind:    string(ref.Kind),
			Score:   score,
			Excerpt: excerpt,
		})
	}

	// Highest score first; insertion order breaks ties.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if len(hits) > t.maxResults {
		hits = hits[:t.maxResults]
	}

	return marshalResult(map[string]any{"query": query, "hits": hits})
}

func (t *KnowledgeSearch) readBody(ctx context.Context, ref domain.FileRef) string {
	if t.storage == nil || ref.Kind != domain.FileRefArtifact {
		return ""
	}
	for _, prefix := range []string{"documents/", "artifacts/"} {
		reader, err := t.storage.Open(ctx, prefix+ref.ID)
		if err != nil {
			continue
		}
		data, readErr := io.ReadAll(io.LimitReader(reader, t.maxBytes))
		reader.Close()
		if readErr != nil {
			return ""
		}
		return string(data)
	}
	return ""
}

func scoreContent(terms []string, title, body string) (int, string) {
	lowerTitle := strings.ToLower(title)
	lowerBody := strings.ToLower(body)

	score := 0
	firstHit := -1
	for _, term := range terms {
		if strings.Contains(lowerTitle, term) {
			score += 2
		}
		if idx := strings.Index(lowerBody, term); idx >= 0 {
			score++
			if firstHit < 0 || idx < firstHit {
				firstHit = idx
			}
		}
	}

	excerpt := ""
	if firstHit >= 0 {
		start := firstHit - 80
		if start < 0 {
			start = 0
		}
		end := firstHit + 160
		if end > len(body) {
			end = len(body)
		}
		excerpt = strings.TrimSpace(body[start:end])
	}
	return score, excerpt
}
