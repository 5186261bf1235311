package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

// CreateDocument generates a document with the utility model, stores the
// payload, and registers a file ref so the client can fetch it later.
type CreateDocument struct {
	model   ports.ModelClient
	storage ports.ObjectStorage
	files   ports.FileStore
	timeout time.Duration
}

func NewCreateDocument(model ports.ModelClient, storage ports.ObjectStorage, files ports.FileStore) *CreateDocument {
	return &CreateDocument{
		model:   model,
		storage: storage,
		files:   files,
		timeout: 60 * time.Second,
	}
}

func (t *CreateDocument) Name() string { return "create_document" }

func (t *CreateDocument) Description() string {
	return "Generate a document and store it. Input: {\"title\": string, \"brief\": string, \"chat_id\": string, \"user_id\"?: string}."
}

func (t *CreateDocument) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"brief": {"type": "string", "description": "What the document should contain."},
			"chat_id": {"type": "string"},
			"user_id": {"type": "string"}
		},
		"required": ["title", "brief", "chat_id"]
	}`)
}

func (t *CreateDocument) Invoke(ctx context.Context, args map[string]any) (string, error) {
	title, _ := args["title"].(string)
	brief, _ := args["brief"].(string)
	chatID, _ := args["chat_id"].(string)
	userID, _ := args["user_id"].(string)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(brief) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("title and brief are required"))
	}

	genCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	content, err := t.model.GenerateFromPrompt(genCtx, fmt.Sprintf(
		"Write the full content of a document titled %q.\nReturn only the content itself, no preamble.\n\nBrief:\n%s", title, brief))
	if err != nil {
		return "", fmt.Errorf("generate document: %w", err)
	}

	documentID := uuid.NewString()
	if err := t.storage.Save(ctx, "documents/"+documentID, strings.NewReader(content)); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	if t.files != nil && strings.TrimSpace(chatID) != "" {
		ref := domain.FileRef{
			ID:     documentID,
			ChatID: chatID,
			UserID: userID,
			Kind:   domain.FileRefArtifact,
			Metadata: map[string]string{
				"title": title,
				"bytes": fmt.Sprintf("%d", len(content)),
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := t.files.InsertFileRef(ctx, ref); err != nil {
			return "", fmt.Errorf("register document ref: %w", err)
		}
	}

	var preview bytes.Buffer
	previewRunes := []rune(content)
	if len(previewRunes) > 280 {
		previewRunes = previewRunes[:280]
	}
	preview.WriteString(string(previewRunes))

	return marshalResult(map[string]any{
		"document_id": documentID,
		"title":       title,
		"preview":     preview.String(),
	})
}
