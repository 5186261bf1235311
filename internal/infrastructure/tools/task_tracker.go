package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

// TaskTracker keeps a per-chat task list as a JSON document in object
// storage. Reads and writes are serialized; concurrent goals within one turn
// may touch the same list.
type TaskTracker struct {
	storage ports.ObjectStorage
	mu      sync.Mutex
}

func NewTaskTracker(storage ports.ObjectStorage) *TaskTracker {
	return &TaskTracker{storage: storage}
}

func (t *TaskTracker) Name() string { return "task_tracker" }

func (t *TaskTracker) Description() string {
	return "Create, complete, or list tasks. Input: {\"action\": \"add\"|\"complete\"|\"list\", \"chat_id\": string, \"title\"?: string, \"due\"?: string, \"task_id\"?: string}."
}

func (t *TaskTracker) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "complete", "list"]},
			"chat_id": {"type": "string"},
			"title": {"type": "string"},
			"due": {"type": "string"},
			"task_id": {"type": "string"}
		},
		"required": ["action", "chat_id"]
	}`)
}

type trackedTask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Due       string    `json:"due,omitempty"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *TaskTracker) Invoke(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	chatID, _ := args["chat_id"].(string)
	if strings.TrimSpace(chatID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "task tracker", fmt.Errorf("chat_id is required"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := "tasks/" + chatID + ".json"
	tasks, err := t.load(ctx, key)
	if err != nil {
		return "", err
	}

	switch action {
	case "add":
		title, _ := args["title"].(string)
		if strings.TrimSpace(title) == "" {
			return "", domain.WrapError(domain.ErrInvalidInput, "task tracker", fmt.Errorf("title is required for add"))
		}
		due, _ := args["due"].(string)
		task := trackedTask{
			ID:        uuid.NewString(),
			Title:     strings.TrimSpace(title),
			Due:       strings.TrimSpace(due),
			CreatedAt: time.Now().UTC(),
		}
		tasks = append(tasks, task)
		if err := t.store(ctx, key, tasks); err != nil {
			return "", err
		}
		return marshalResult(map[string]any{"status": "added", "task": task})

	case "complete":
		taskID, _ := args["task_id"].(string)
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i].Done = true
				if err := t.store(ctx, key, tasks); err != nil {
					return "", err
				}
				return marshalResult(map[string]any{"status": "completed", "task": tasks[i]})
			}
		}
		return "", domain.WrapError(domain.ErrNotFound, "task tracker", fmt.Errorf("task not found: %s", taskID))

	case "list":
		return marshalResult(map[string]any{"tasks": tasks})

	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "task tracker", fmt.Errorf("unknown action: %q", action))
	}
}

func (t *TaskTracker) load(ctx context.Context, key string) ([]trackedTask, error) {
	reader, err := t.storage.Open(ctx, key)
	if err != nil {
		// A chat without tasks has no file yet.
		if errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file") {
			return nil, nil
		}
		return nil, fmt.Errorf("open task list: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read task list: %w", err)
	}
	var tasks []trackedTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	return tasks, nil
}

func (t *TaskTracker) store(ctx context.Context, key string, tasks []trackedTask) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode task list: %w", err)
	}
	if err := t.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save task list: %w", err)
	}
	return nil
}

func marshalResult(payload map[string]any) (string, error) {
	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(out), nil
}
