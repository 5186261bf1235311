package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

type fakeModelClient struct {
	mu    sync.Mutex
	steps []*ports.ChatStep
	calls int

	stepErr     error
	generated   string
	generateErr error
	jsonOut     string
	jsonOuts    []string
	jsonErr     error
	jsonPrompts []string
}

func (f *fakeModelClient) ChatStep(_ context.Context, _ []ports.ChatMessage, _ []ports.ToolSpec, _ *domain.ToolForce) (*ports.ChatStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	if len(f.steps) == 0 {
		return &ports.ChatStep{Content: "done"}, nil
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	f.calls++
	return step, nil
}

func (f *fakeModelClient) GenerateFromPrompt(_ context.Context, _ string) (string, error) {
	return f.generated, f.generateErr
}

func (f *fakeModelClient) GenerateJSONFromPrompt(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonPrompts = append(f.jsonPrompts, prompt)
	if f.jsonErr != nil {
		return "", f.jsonErr
	}
	if len(f.jsonOuts) > 0 {
		out := f.jsonOuts[0]
		f.jsonOuts = f.jsonOuts[1:]
		return out, nil
	}
	return f.jsonOut, nil
}

type fakeTool struct {
	name   string
	invoke func(ctx context.Context, args map[string]any) (string, error)
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake " + f.name }
func (f *fakeTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if f.invoke == nil {
		return `{"ok":true}`, nil
	}
	return f.invoke(ctx, args)
}

type fakeRegistry struct {
	tools []ports.Tool
}

func (f *fakeRegistry) List() []ports.Tool {
	out := make([]ports.Tool, len(f.tools))
	copy(out, f.tools)
	return out
}

func (f *fakeRegistry) Get(name string) (ports.Tool, bool) {
	for _, tool := range f.tools {
		if tool.Name() == name {
			return tool, true
		}
	}
	return nil, false
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*domain.AssistantMessage
	turns    []domain.Turn
	inserts  int

	selectErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*domain.AssistantMessage)}
}

func messageKey(chatID, turnID, role string) string {
	return chatID + "|" + turnID + "|" + role
}

func (f *fakeMessageStore) InsertMessageIfAbsent(_ context.Context, msg domain.AssistantMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageKey(msg.ChatID, msg.TurnID, msg.Role)
	if _, exists := f.messages[key]; exists {
		return false, nil
	}
	stored := msg
	f.messages[key] = &stored
	f.inserts++
	return true, nil
}

func (f *fakeMessageStore) UpdateMessageParts(_ context.Context, id string, parts []domain.MessagePart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.ID == id {
			msg.Parts = parts
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "update message parts", fmt.Errorf("message not found: %s", id))
}

func (f *fakeMessageStore) SelectMessageByTurn(_ context.Context, chatID, turnID, role string) (*domain.AssistantMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	msg, ok := f.messages[messageKey(chatID, turnID, role)]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "select message by turn", fmt.Errorf("no %s message for turn %s", role, turnID))
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessageStore) AppendTurn(_ context.Context, turn domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeMessageStore) SelectRecentMessages(_ context.Context, chatID string, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Turn
	for i := len(f.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if f.turns[i].ChatID == chatID {
			out = append(out, f.turns[i])
		}
	}
	return out, nil
}

func (f *fakeMessageStore) assistantRows(chatID, turnID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.messages {
		if msg.ChatID == chatID && msg.TurnID == turnID && msg.Role == "assistant" {
			count++
		}
	}
	return count
}

type fakeEntityStore struct {
	mu       sync.Mutex
	entities []domain.Entity
}

func (f *fakeEntityStore) InsertEntity(_ context.Context, entity domain.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = append(f.entities, entity)
	return nil
}

func (f *fakeEntityStore) SelectEntities(_ context.Context, _, _ string) ([]domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Entity, len(f.entities))
	copy(out, f.entities)
	return out, nil
}

type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries []domain.Summary
}

func (f *fakeSummaryStore) InsertSummary(_ context.Context, summary domain.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeSummaryStore) SelectLatestSummary(_ context.Context, _, _ string) (*domain.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.summaries) == 0 {
		return nil, nil
	}
	latest := f.summaries[len(f.summaries)-1]
	return &latest, nil
}

type fakeFileStore struct {
	mu   sync.Mutex
	refs []domain.FileRef
}

func (f *fakeFileStore) InsertFileRef(_ context.Context, ref domain.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return nil
}

func (f *fakeFileStore) SelectFileRefs(_ context.Context, _, _ string) ([]domain.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.FileRef, len(f.refs))
	copy(out, f.refs)
	return out, nil
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (f *fakeObjectStorage) Save(_ context.Context, key string, data io.Reader) error {
	payload, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = payload
	return nil
}

func (f *fakeObjectStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", key)
	}
	return io.NopCloser(strings.NewReader(string(payload))), nil
}

type captureSink struct {
	mu     sync.Mutex
	frames []domain.Frame
	err    error
}

func (s *captureSink) WriteFrame(frame domain.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSink) kinds() []domain.FrameKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FrameKind, 0, len(s.frames))
	for _, frame := range s.frames {
		out = append(out, frame.Kind)
	}
	return out
}

type fakeQueue struct {
	mu     sync.Mutex
	events []domain.TurnCompletedEvent
}

func (f *fakeQueue) PublishTurnCompleted(_ context.Context, event domain.TurnCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeQueue) SubscribeTurnCompleted(_ context.Context, _ func(context.Context, domain.TurnCompletedEvent) error) error {
	return nil
}

type fakePromptLoader struct {
	prompt string
	err    error
}

func (f *fakePromptLoader) LoadPrompt(_, _ string, _ map[string]string, _ time.Time) (string, error) {
	return f.prompt, f.err
}
