package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/google/uuid"
)

// DefaultMaxSubAgentDepth is the depth bound applied to a target agent
// that does not configure its own MaxSubAgentDepth.
const DefaultMaxSubAgentDepth = 3

type subAgentDepthKey struct{}

// WithSubAgentDepth stashes the current nesting depth on ctx so a nested
// sub_agent_call can read and increment it. A caller context with no depth
// set is depth 0.
func WithSubAgentDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, subAgentDepthKey{}, depth)
}

// subAgentDepth reads the current nesting depth from ctx, defaulting to 0.
func subAgentDepth(ctx context.Context) int {
	if d, ok := ctx.Value(subAgentDepthKey{}).(int); ok {
		return d
	}
	return 0
}

// SubAgentCallRequest is the sub_agent_call tool's input.
type SubAgentCallRequest struct {
	TargetAgent string `json:"target_agent"`
	Task        string `json:"task"`
}

// SubAgentTool implements the call-and-return sub-agent protocol: unlike
// HandoffTool's full transfer of control, the calling agent remains in
// control and receives the callee's final answer as a tool result.
//
// Grounded directly on original's tools/sub_agent.rs + agents/coordinator.rs:
// the caller's request sets current_depth = context.sub_agent_depth + 1, and
// the depth bound is checked against the callee's own
// max_sub_agent_depth before the callee's context is built — not after,
// and not against the caller's depth limit. This resolves the "which side
// enforces the depth bound" ambiguity by following the original's call
// site exactly.
type SubAgentTool struct {
	orchestrator *Orchestrator
	bus          *eventbus.Bus
}

// NewSubAgentTool creates a sub_agent_call tool bound to orchestrator and,
// optionally, an event bus to publish lifecycle events on.
func NewSubAgentTool(orchestrator *Orchestrator, bus *eventbus.Bus) *SubAgentTool {
	return &SubAgentTool{orchestrator: orchestrator, bus: bus}
}

func (s *SubAgentTool) Name() string { return "sub_agent_call" }

func (s *SubAgentTool) Description() string {
	agents := s.orchestrator.ListAgents()
	var list strings.Builder
	for _, a := range agents {
		list.WriteString(fmt.Sprintf("\n- %s: %s", a.ID, a.Description))
	}
	return fmt.Sprintf(`Invoke another agent as a subroutine and get its answer back without giving up control.

Use this when a sub-task is better handled by a specialist but you still need to incorporate its result into your own response.

Available agents:%s`, list.String())
}

func (s *SubAgentTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_agent": map[string]any{
				"type":        "string",
				"description": "ID of the agent to invoke",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "The task or question to hand to the target agent",
			},
		},
		"required": []string{"target_agent", "task"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func (s *SubAgentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req SubAgentCallRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid sub_agent_call input: %v", err), IsError: true}, nil
	}

	target, ok := s.orchestrator.GetAgent(req.TargetAgent)
	if !ok {
		return &agent.ToolResult{Content: fmt.Sprintf("unknown target agent: %s", req.TargetAgent), IsError: true}, nil
	}

	maxDepth := target.MaxSubAgentDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSubAgentDepth
	}
	currentDepth := subAgentDepth(ctx) + 1
	if currentDepth > maxDepth {
		return &agent.ToolResult{
			Content: fmt.Sprintf("sub-agent call depth %d exceeds %s's max_sub_agent_depth of %d", currentDepth, target.ID, maxDepth),
			IsError: true,
		}, nil
	}

	runtime, ok := s.orchestrator.GetRuntime(target.ID)
	if !ok {
		return &agent.ToolResult{Content: fmt.Sprintf("no runtime registered for agent: %s", target.ID), IsError: true}, nil
	}

	s.publish(models.AgentEvent{
		Type:        models.EventSubAgentCallStarted,
		TargetAgent: target.ID,
	})

	childCtx := WithSubAgentDepth(ctx, currentDepth)
	session := &models.Session{ID: uuid.NewString()}
	msg := &models.Message{Role: models.RoleUser, Content: req.Task}

	chunks, err := runtime.Process(childCtx, session, msg)
	if err != nil {
		s.publish(models.AgentEvent{Type: models.EventSubAgentCallCompleted, TargetAgent: target.ID, Success: false})
		return &agent.ToolResult{Content: fmt.Sprintf("sub-agent call failed: %v", err), IsError: true}, nil
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			s.publish(models.AgentEvent{Type: models.EventSubAgentCallCompleted, TargetAgent: target.ID, Success: false})
			return &agent.ToolResult{Content: chunk.Error.Error(), IsError: true}, nil
		}
		out.WriteString(chunk.Text)
	}

	s.publish(models.AgentEvent{Type: models.EventSubAgentCallCompleted, TargetAgent: target.ID, Success: true})
	return &agent.ToolResult{Content: out.String()}, nil
}

func (s *SubAgentTool) publish(event models.AgentEvent) {
	if s.bus == nil {
		return
	}
	event.Time = time.Now()
	s.bus.Publish(event)
}
