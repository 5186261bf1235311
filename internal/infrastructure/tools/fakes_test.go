package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	payload, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = payload
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", key)
	}
	return io.NopCloser(strings.NewReader(string(payload))), nil
}

type stubFileStore struct {
	mu   sync.Mutex
	refs []domain.FileRef
}

func (s *stubFileStore) InsertFileRef(_ context.Context, ref domain.FileRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return nil
}

func (s *stubFileStore) SelectFileRefs(_ context.Context, _, _ string) ([]domain.FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FileRef, len(s.refs))
	copy(out, s.refs)
	return out, nil
}

type stubModel struct {
	generated   string
	generateErr error
}

func (m *stubModel) ChatStep(context.Context, []ports.ChatMessage, []ports.ToolSpec, *domain.ToolForce) (*ports.ChatStep, error) {
	return &ports.ChatStep{}, nil
}

func (m *stubModel) GenerateFromPrompt(context.Context, string) (string, error) {
	return m.generated, m.generateErr
}

func (m *stubModel) GenerateJSONFromPrompt(context.Context, string) (string, error) {
	return m.generated, m.generateErr
}

type namedTool struct {
	name string
}

func (t *namedTool) Name() string                 { return t.name }
func (t *namedTool) Description() string          { return t.name }
func (t *namedTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *namedTool) Invoke(context.Context, map[string]any) (string, error) {
	return "{}", nil
}
