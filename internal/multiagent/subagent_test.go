package multiagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// answeringProvider always answers with a fixed string and never requests a tool call.
type answeringProvider struct {
	answer string
}

func (p *answeringProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: p.answer, Done: true}
	close(ch)
	return ch, nil
}

func (p *answeringProvider) Name() string         { return "answering" }
func (p *answeringProvider) Models() []agent.Model { return nil }
func (p *answeringProvider) SupportsTools() bool   { return false }

func newSubAgentTestOrchestrator(t *testing.T, answer string) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(&MultiAgentConfig{
		DefaultContextMode: ContextFull,
		MaxHandoffDepth:    10,
		HandoffTimeout:     5 * time.Minute,
	}, &answeringProvider{answer: answer}, sessions.NewMemoryStore())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orch
}

func TestSubAgentTool_CallAndReturn(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "the answer is 42")
	if err := orch.RegisterAgent(&AgentDefinition{ID: "caller", Name: "Caller"}); err != nil {
		t.Fatalf("register caller: %v", err)
	}
	if err := orch.RegisterAgent(&AgentDefinition{ID: "specialist", Name: "Specialist"}); err != nil {
		t.Fatalf("register specialist: %v", err)
	}

	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "specialist", Task: "what is the answer?"})
	result, err := orch.subAgentTool.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content)
	}
	if result.Content != "the answer is 42" {
		t.Fatalf("got %q, want %q", result.Content, "the answer is 42")
	}
}

func TestSubAgentTool_UnknownTargetAgent(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "unused")
	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "ghost", Task: "hello"})

	result, err := orch.subAgentTool.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown target agent")
	}
}

func TestSubAgentTool_MissingRuntime(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "unused")
	// Register the agent definition directly, bypassing RegisterAgent so no runtime exists.
	orch.agents["no-runtime"] = &AgentDefinition{ID: "no-runtime", Name: "No Runtime"}

	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "no-runtime", Task: "hello"})
	result, err := orch.subAgentTool.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result when the target has no registered runtime")
	}
}

func TestSubAgentTool_DepthBoundEnforced(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "unused")
	if err := orch.RegisterAgent(&AgentDefinition{ID: "shallow", Name: "Shallow", MaxSubAgentDepth: 1}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "shallow", Task: "hello"})

	// Depth 0 -> 1 call is within the bound.
	ctx := WithSubAgentDepth(context.Background(), 0)
	result, err := orch.subAgentTool.Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected first call within bound to succeed, got: %s", result.Content)
	}

	// Already at depth 1 -> next call would be depth 2, exceeding MaxSubAgentDepth of 1.
	ctx = WithSubAgentDepth(context.Background(), 1)
	result, err = orch.subAgentTool.Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected depth bound to be enforced")
	}
}

func TestSubAgentTool_DefaultDepthBoundWhenUnset(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "unused")
	if err := orch.RegisterAgent(&AgentDefinition{ID: "default-depth", Name: "Default Depth"}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "default-depth", Task: "hello"})
	ctx := WithSubAgentDepth(context.Background(), DefaultMaxSubAgentDepth)
	result, err := orch.subAgentTool.Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the default max depth to be enforced")
	}
}

func TestSubAgentTool_PublishesLifecycleEvents(t *testing.T) {
	orch := newSubAgentTestOrchestrator(t, "done")
	if err := orch.RegisterAgent(&AgentDefinition{ID: "specialist", Name: "Specialist"}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	bus := eventbus.New(8)
	orch.SetEventBus(bus)
	sub := bus.Subscribe()
	defer sub.Close()

	req, _ := json.Marshal(SubAgentCallRequest{TargetAgent: "specialist", Task: "hello"})
	if _, err := orch.subAgentTool.Execute(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawStarted, sawCompleted bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case models.EventSubAgentCallStarted:
				sawStarted = true
			case models.EventSubAgentCallCompleted:
				sawCompleted = true
			}
		case <-time.After(time.Second):
		}
	}
	if !sawStarted || !sawCompleted {
		t.Fatalf("expected both lifecycle events, got started=%v completed=%v", sawStarted, sawCompleted)
	}
}
