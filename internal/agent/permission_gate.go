package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrToolDenied is returned when the permission policy resolves a tool
// call to Deny, or an Ask checkpoint resolves to deny.
var ErrToolDenied = errors.New("tool execution denied by permission policy")

// DefaultAskTTL bounds how long a suspended turn waits at a checkpoint
// before treating it as expired.
const DefaultAskTTL = 10 * time.Minute

// commandArg is the shape tool params are probed for when extracting the
// shell command or filesystem path the permission policy classifies on.
// Every shell-like and filesystem-like tool in this registry accepts one
// of these field names; tools that don't are treated as having no
// classifiable argument, matched by tool name alone.
type commandArg struct {
	Command string `json:"command"`
	Path    string `json:"path"`
}

func extractCommandOrPath(params json.RawMessage) string {
	var arg commandArg
	if err := json.Unmarshal(params, &arg); err != nil {
		return ""
	}
	if arg.Command != "" {
		return arg.Command
	}
	return arg.Path
}

// PermissionGate consults a TieredPolicy before a tool call executes and,
// when the outcome is Ask, suspends on a PendingStore checkpoint while
// publishing the permission_request / permission_decision /
// sudo_secret_prompt events a frontend subscribes to in order to answer.
type PermissionGate struct {
	Policy  *policy.TieredPolicy
	Pending *PendingStore
	Bus     *eventbus.Bus
	AskTTL  time.Duration
}

// NewPermissionGate wires a gate from its three collaborators. askTTL <= 0
// falls back to DefaultAskTTL.
func NewPermissionGate(p *policy.TieredPolicy, pending *PendingStore, bus *eventbus.Bus, askTTL time.Duration) *PermissionGate {
	if askTTL <= 0 {
		askTTL = DefaultAskTTL
	}
	return &PermissionGate{Policy: p, Pending: pending, Bus: bus, AskTTL: askTTL}
}

// Check runs the permission decision for a tool call and, when necessary,
// blocks until the call is resolved. Returns nil to proceed with
// execution, or ErrToolDenied (possibly wrapped) to short-circuit it.
func (g *PermissionGate) Check(ctx context.Context, sessionID, agentName string, allowedTools []string, toolName string, params json.RawMessage) error {
	if g == nil || g.Policy == nil {
		return nil
	}

	commandOrPath := extractCommandOrPath(params)
	decision := g.Policy.Decide(toolName, allowedTools, commandOrPath, policy.PermissionContext{
		SessionID: sessionID,
		AgentName: agentName,
	})

	switch decision.Resolution {
	case policy.ResolutionAllow:
		return nil
	case policy.ResolutionDeny:
		g.publish(models.AgentEvent{
			Type:      models.EventPermissionDecision,
			SessionID: sessionID,
			Agent:     agentName,
			ToolName:  toolName,
			ToolArgs:  params,
			Decision:  models.AskDeny,
		})
		return ErrToolDenied
	}

	return g.ask(ctx, sessionID, agentName, toolName, params, commandOrPath, decision.Reason)
}

// ask publishes a permission_request (or sudo_secret_prompt, when the
// decision reason indicates a sudo-equivalent suspension) and blocks on
// the pending checkpoint until resolved.
func (g *PermissionGate) ask(ctx context.Context, sessionID, agentName, toolName string, params json.RawMessage, commandOrPath, reason string) error {
	if policy.IsSudoCommand(commandOrPath, nil) {
		g.publish(models.AgentEvent{
			Type:      models.EventSudoSecretPrompt,
			SessionID: sessionID,
			Agent:     agentName,
			Command:   commandOrPath,
			Reason:    reason,
		})
	} else {
		g.publish(models.AgentEvent{
			Type:      models.EventPermissionRequest,
			SessionID: sessionID,
			Agent:     agentName,
			ToolName:  toolName,
			ToolArgs:  params,
		})
	}

	if g.Pending == nil {
		return ErrToolDenied
	}
	g.Pending.Set(sessionID, toolName, params, g.AskTTL)

	resolution, err := g.Pending.Wait(ctx, sessionID)
	g.Pending.GetAndClear(sessionID)
	if err != nil {
		return err
	}

	g.publish(models.AgentEvent{
		Type:      models.EventPermissionDecision,
		SessionID: sessionID,
		Agent:     agentName,
		ToolName:  toolName,
		ToolArgs:  params,
		Decision:  resolution,
	})

	g.Policy.RecordResolution(toolName, commandOrPath, resolution)
	if policy.IsSudoCommand(commandOrPath, nil) && resolution != models.AskDeny {
		g.Policy.SudoCacheRecord(commandOrPath)
	}

	if resolution == models.AskDeny {
		return ErrToolDenied
	}
	return nil
}

func (g *PermissionGate) publish(event models.AgentEvent) {
	if g.Bus == nil {
		return
	}
	event.Time = time.Now()
	g.Bus.Publish(event)
}
