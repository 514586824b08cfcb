package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeTurnStore is an in-memory sessions.Store that actually appends, unlike
// runtime_test.go's historyStore/stubStore which are read-only fakes; the
// orchestrator's runLoop re-reads history every iteration so a no-op
// AppendMessage would hide a real tool-call round trip.
type fakeTurnStore struct {
	mu      sync.Mutex
	history map[string][]*models.Message
}

func newFakeTurnStore() *fakeTurnStore {
	return &fakeTurnStore{history: make(map[string][]*models.Message)}
}

func (s *fakeTurnStore) Create(ctx context.Context, session *models.Session) error { return nil }
func (s *fakeTurnStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return nil, nil
}
func (s *fakeTurnStore) Update(ctx context.Context, session *models.Session) error { return nil }
func (s *fakeTurnStore) Delete(ctx context.Context, id string) error               { return nil }
func (s *fakeTurnStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	return nil, nil
}
func (s *fakeTurnStore) GetOrCreate(ctx context.Context, key, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	return nil, nil
}
func (s *fakeTurnStore) List(ctx context.Context, agentID string, opts sessions.ListOptions) ([]*models.Session, error) {
	return nil, nil
}

func (s *fakeTurnStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], msg)
	return nil
}

func (s *fakeTurnStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Message(nil), s.history[sessionID]...), nil
}

func newTestPolicy() *policy.TieredPolicy {
	return policy.NewTieredPolicy(policy.NewResolver(), time.Minute)
}

func newTestOrchestrator(provider LLMProvider, registry *ToolRegistry, pol *policy.TieredPolicy, store sessions.Store, bus *eventbus.Bus) *TurnOrchestrator {
	cfg := DefaultTurnOrchestratorConfig()
	cfg.MaxWallTime = 2 * time.Second
	cfg.MaxToolIterations = 4
	return NewTurnOrchestrator(provider, registry, pol, NewPendingStore(), store, bus, "you are a helpful assistant", cfg)
}

func TestTurnOrchestrator_RunTurn_DirectResponse(t *testing.T) {
	provider := &recordingProvider{}
	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, NewToolRegistry(), newTestPolicy(), store, nil)

	result, err := orch.RunTurn(context.Background(), "sess-1", "agent-1", "hello there")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Phase != TurnCommittingTurn {
		t.Fatalf("expected TurnCommittingTurn, got %v (err=%v)", result.Phase, result.Err)
	}
	if result.Text != "ok" {
		t.Fatalf("expected response text %q, got %q", "ok", result.Text)
	}

	history, _ := store.GetHistory(context.Background(), "sess-1", 10)
	if len(history) != 2 {
		t.Fatalf("expected user+assistant messages recorded, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hello there" {
		t.Fatalf("unexpected first message: %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "ok" {
		t.Fatalf("unexpected second message: %+v", history[1])
	}
}

func TestTurnOrchestrator_RunTurn_AllowedToolExecutes(t *testing.T) {
	toolCall := &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}
	provider := &onceToolProvider{toolCall: toolCall}
	tool := &testTool{name: "echo", description: "echoes"}
	registry := NewToolRegistry()
	registry.Register(tool)

	pol := newTestPolicy()
	pol.AllowTool(policy.TierSession, "echo")

	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, registry, pol, store, nil)

	result, err := orch.RunTurn(context.Background(), "sess-2", "agent-1", "run the echo tool")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Phase != TurnCommittingTurn {
		t.Fatalf("expected TurnCommittingTurn after tool round trip, got %v (err=%v)", result.Phase, result.Err)
	}
	if !tool.executed {
		t.Fatal("expected allowed tool to execute")
	}

	history, _ := store.GetHistory(context.Background(), "sess-2", 10)
	found := false
	for _, m := range history {
		if m.Role == models.RoleTool && len(m.ToolResults) == 1 && m.ToolResults[0].Content == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a tool result message in history, got %+v", history)
	}
}

func TestTurnOrchestrator_RunTurn_AskSuspendsThenResumes(t *testing.T) {
	toolCall := &models.ToolCall{ID: "call-1", Name: "risky", Input: json.RawMessage(`{}`)}
	provider := &onceToolProvider{toolCall: toolCall}
	tool := &testTool{name: "risky", description: "does something risky"}
	registry := NewToolRegistry()
	registry.Register(tool)

	pol := newTestPolicy() // no rule matches "risky" => Ask by default
	bus := eventbus.New(8)
	sub := bus.Subscribe()
	defer sub.Close()

	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, registry, pol, store, bus)

	result, err := orch.RunTurn(context.Background(), "sess-3", "agent-1", "do something risky")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Phase != TurnAwaitingPermission {
		t.Fatalf("expected TurnAwaitingPermission, got %v (err=%v)", result.Phase, result.Err)
	}
	if tool.executed {
		t.Fatal("tool must not execute before a permission decision arrives")
	}
	if !orch.Pending.Has("sess-3") {
		t.Fatal("expected a pending checkpoint for the session")
	}

	sawRequest := false
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == models.EventPermissionRequest {
				sawRequest = true
			}
		case <-time.After(100 * time.Millisecond):
			goto doneDraining
		}
	}
doneDraining:
	if !sawRequest {
		t.Fatal("expected a permission_request event on the bus")
	}

	// A second RunTurn call before resolution must not re-run the loop from
	// scratch, since ResolvedRow only fires once resolved.
	if _, ok := orch.Pending.ResolvedRow("sess-3"); ok {
		t.Fatal("checkpoint should not be resolved yet")
	}

	orch.Pending.Resolve("sess-3", models.AskAllowOnce)

	result, err = orch.Resume(context.Background(), "sess-3", "agent-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.Phase != TurnCommittingTurn {
		t.Fatalf("expected TurnCommittingTurn after resume, got %v (err=%v)", result.Phase, result.Err)
	}
	if !tool.executed {
		t.Fatal("expected tool to execute after allow_once resolution")
	}
	if orch.Pending.Has("sess-3") {
		t.Fatal("checkpoint should be cleared after resume")
	}
}

func TestTurnOrchestrator_RunTurn_DeniedToolSkipsExecution(t *testing.T) {
	toolCall := &models.ToolCall{ID: "call-1", Name: "danger", Input: json.RawMessage(`{}`)}
	provider := &onceToolProvider{toolCall: toolCall}
	tool := &testTool{name: "danger", description: "dangerous"}
	registry := NewToolRegistry()
	registry.Register(tool)

	pol := newTestPolicy()
	pol.DenyTool(policy.TierSession, "danger")

	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, registry, pol, store, nil)

	result, err := orch.RunTurn(context.Background(), "sess-4", "agent-1", "do something dangerous")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Phase != TurnCommittingTurn {
		t.Fatalf("expected TurnCommittingTurn, got %v (err=%v)", result.Phase, result.Err)
	}
	if tool.executed {
		t.Fatal("denied tool must not execute")
	}
}

func TestTurnOrchestrator_RunTurn_ProviderErrorSurfaces(t *testing.T) {
	provider := &cancelProvider{started: make(chan struct{}, 1)}
	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, NewToolRegistry(), newTestPolicy(), store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.RunTurn(ctx, "sess-5", "agent-1", "hello")
	if err == nil {
		t.Fatal("expected an error from a canceled context")
	}
	if result == nil || result.Phase != TurnProviderError {
		t.Fatalf("expected TurnProviderError, got %+v", result)
	}
}

func TestTurnOrchestrator_AutoTodoHookFiresOnMultiTaskInput(t *testing.T) {
	provider := &recordingProvider{}
	store := newFakeTurnStore()
	orch := newTestOrchestrator(provider, NewToolRegistry(), newTestPolicy(), store, nil)
	orch.Config.EnableAutoTodos = true

	var captured *TodoCreationRequest
	orch.TodoHook = func(ctx context.Context, sessionID string, req *TodoCreationRequest) {
		captured = req
	}

	_, err := orch.RunTurn(context.Background(), "sess-6", "agent-1", "Buy milk, walk the dog, and file taxes")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if captured == nil {
		t.Fatal("expected the input auto-TODO hook to fire for a multi-task request")
	}
	if len(captured.ChildTitles) < 2 {
		t.Fatalf("expected at least 2 child tasks, got %v", captured.ChildTitles)
	}
}

func TestTurnOrchestrator_ResumeWithoutPendingFails(t *testing.T) {
	orch := newTestOrchestrator(&recordingProvider{}, NewToolRegistry(), newTestPolicy(), newFakeTurnStore(), nil)
	if _, err := orch.Resume(context.Background(), "no-such-session", "agent-1"); err != ErrNoResolvedPending {
		t.Fatalf("expected ErrNoResolvedPending, got %v", err)
	}
}
