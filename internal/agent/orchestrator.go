package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/google/uuid"
)

// TurnPhase is the Agent Turn Orchestrator's state machine position.
// Unlike LoopPhase (loop.go's narrower per-iteration phases), TurnPhase
// distinguishes the two states that can only be reached by suspending and
// resuming the turn across two separate calls: AwaitingTool only ever
// holds for the duration of ExecuteTool itself, while AwaitingPermission
// is the state RunTurn returns in when it hands control back to the
// caller pending a human decision.
type TurnPhase string

const (
	TurnIdle               TurnPhase = "idle"
	TurnBuildingContext    TurnPhase = "building_context"
	TurnStreaming          TurnPhase = "streaming"
	TurnAwaitingTool       TurnPhase = "awaiting_tool"
	TurnAwaitingPermission TurnPhase = "awaiting_permission"
	TurnCommittingTurn     TurnPhase = "committing_turn"
	TurnProviderError      TurnPhase = "provider_error"
	TurnToolError          TurnPhase = "tool_error"
	TurnLimitExceeded      TurnPhase = "limit_exceeded"
)

// ErrNoResolvedPending is returned by Resume when sessionID has no
// checkpoint, or one that is not yet resolved.
var ErrNoResolvedPending = errors.New("no resolved pending checkpoint for session")

// TurnOrchestratorConfig bounds a single RunTurn/Resume call.
type TurnOrchestratorConfig struct {
	// MaxToolIterations caps how many tool-call round trips a single
	// RunTurn/Resume call may take before it gives up. Default: 16.
	MaxToolIterations int

	// MaxWallTime bounds how long a single RunTurn/Resume call may run.
	// Default: 5 minutes.
	MaxWallTime time.Duration

	// AskTTL bounds how long a suspended turn's checkpoint stays valid
	// before DeleteStale sweeps it. Default: DefaultAskTTL.
	AskTTL time.Duration

	// ContextWindowTokens is the token budget passed to the Context
	// Builder. Default: 8000.
	ContextWindowTokens int

	// HistoryLimit bounds how many persisted messages are loaded per
	// turn before context packing. Default: 200.
	HistoryLimit int

	// EnableAutoTodos turns on auto-TODO extraction (spec §4.9) from
	// user input and completed responses.
	EnableAutoTodos bool
}

// DefaultTurnOrchestratorConfig returns the spec's documented defaults.
func DefaultTurnOrchestratorConfig() TurnOrchestratorConfig {
	return TurnOrchestratorConfig{
		MaxToolIterations:   16,
		MaxWallTime:         5 * time.Minute,
		AskTTL:              DefaultAskTTL,
		ContextWindowTokens: 8000,
		HistoryLimit:        200,
	}
}

func (c TurnOrchestratorConfig) sanitized() TurnOrchestratorConfig {
	d := DefaultTurnOrchestratorConfig()
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = d.MaxToolIterations
	}
	if c.MaxWallTime <= 0 {
		c.MaxWallTime = d.MaxWallTime
	}
	if c.AskTTL <= 0 {
		c.AskTTL = d.AskTTL
	}
	if c.ContextWindowTokens <= 0 {
		c.ContextWindowTokens = d.ContextWindowTokens
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// TurnResult is what RunTurn/Resume return: the phase the turn ended in,
// and the committed text when it reached TurnCommittingTurn.
type TurnResult struct {
	Phase TurnPhase
	Text  string
	Err   error
}

// TodoHook receives an auto-TODO creation request; storage is the
// caller's concern, the orchestrator only emits the request (spec §4.9).
type TodoHook func(ctx context.Context, sessionID string, req *TodoCreationRequest)

// TurnOrchestrator implements the Agent Turn Orchestrator: the
// Idle -> BuildingContext -> Streaming -> AwaitingTool -> AwaitingPermission
// -> CommittingTurn -> Idle state machine, with a true suspend/resume
// boundary at AwaitingPermission rather than PermissionGate's blocking
// wait (tool_exec.go's ToolExecutor + PermissionGate remain the synchronous
// integration used when a caller is fine blocking the calling goroutine on
// a permission decision; this orchestrator is for callers — e.g. a gateway
// event loop — that cannot).
//
// Grounded on loop.go's AgenticLoop.Run() for the overall phase-by-phase
// shape (initializeState/streamPhase/executeToolsPhase/continuePhase), but
// departs from it at the Ask boundary: loop.go's ApprovalChecker blocks the
// calling goroutine until a decision arrives, while this orchestrator
// persists a PendingStore checkpoint and returns immediately, requiring a
// separate Resume call once the checkpoint resolves.
type TurnOrchestrator struct {
	Provider LLMProvider
	Registry *ToolRegistry
	Policy   *policy.TieredPolicy
	Pending  *PendingStore
	Sessions sessions.Store
	Bus      *eventbus.Bus

	SystemPrompt string
	Config       TurnOrchestratorConfig
	TodoHook     TodoHook
}

// NewTurnOrchestrator wires a TurnOrchestrator from its collaborators.
func NewTurnOrchestrator(provider LLMProvider, registry *ToolRegistry, pol *policy.TieredPolicy, pending *PendingStore, store sessions.Store, bus *eventbus.Bus, systemPrompt string, cfg TurnOrchestratorConfig) *TurnOrchestrator {
	return &TurnOrchestrator{
		Provider:     provider,
		Registry:     registry,
		Policy:       pol,
		Pending:      pending,
		Sessions:     store,
		Bus:          bus,
		SystemPrompt: systemPrompt,
		Config:       cfg.sanitized(),
	}
}

// RunTurn handles one user turn for sessionID. Step 1 of the procedure:
// if a resolved checkpoint is already sitting on the session (e.g. the
// caller invokes this generic entry point uniformly and a permission
// decision arrived since the last suspend), it resumes from there instead
// of processing userInput as a new message.
func (o *TurnOrchestrator) RunTurn(ctx context.Context, sessionID, agentName, userInput string) (*TurnResult, error) {
	if row, ok := o.Pending.ResolvedRow(sessionID); ok {
		o.Pending.GetAndClear(sessionID)
		return o.resumeFromPending(ctx, sessionID, agentName, row)
	}

	if userInput != "" {
		if err := o.Sessions.AppendMessage(ctx, sessionID, &models.Message{
			SessionID: sessionID,
			Role:      models.RoleUser,
			Content:   userInput,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("recording user input: %w", err)
		}

		if o.Config.EnableAutoTodos && o.TodoHook != nil {
			if req, ok := BuildTodoRequestFromInput(userInput); ok {
				o.TodoHook(ctx, sessionID, req)
			}
		}
	}

	return o.runLoop(ctx, sessionID, agentName, time.Now())
}

// Resume is the explicit resume entry point for a permission-resolve
// handler that wants to drive the turn forward the instant a decision
// lands, rather than waiting for the next RunTurn call.
func (o *TurnOrchestrator) Resume(ctx context.Context, sessionID, agentName string) (*TurnResult, error) {
	row, ok := o.Pending.ResolvedRow(sessionID)
	if !ok {
		return nil, ErrNoResolvedPending
	}
	o.Pending.GetAndClear(sessionID)
	return o.resumeFromPending(ctx, sessionID, agentName, row)
}

// resumeFromPending is step 6: fold the checkpoint's resolution into the
// transcript as a tool message, then return to step 3 for a new model
// turn.
func (o *TurnOrchestrator) resumeFromPending(ctx context.Context, sessionID, agentName string, row *PendingTool) (*TurnResult, error) {
	bus := NewBusSink(o.Bus)
	emitter := NewEventEmitter(uuid.NewString(), bus)

	var toolMsg *models.Message
	if row.resolution == models.AskDeny {
		toolMsg = &models.Message{
			SessionID: sessionID,
			Role:      models.RoleTool,
			Name:      row.ToolName,
			Content:   "permission denied",
			ToolResults: []models.ToolResult{{
				Content: "permission denied",
				IsError: true,
			}},
			CreatedAt: time.Now(),
		}
	} else {
		commandOrPath := extractCommandOrPath(row.Args)
		o.Policy.RecordResolution(row.ToolName, commandOrPath, row.resolution)
		if policy.IsSudoCommand(commandOrPath, nil) {
			o.Policy.SudoCacheRecord(commandOrPath)
		}

		result, err := o.Registry.Execute(ctx, row.ToolName, row.Args)
		if err != nil {
			result = &ToolResult{Content: err.Error(), IsError: true}
		}
		toolMsg = toolResultMessage(sessionID, row.ToolName, "", result)
	}

	if err := o.Sessions.AppendMessage(ctx, sessionID, toolMsg); err != nil {
		return nil, fmt.Errorf("recording resumed tool result: %w", err)
	}

	emitter.ToolFinished(ctx, "", row.ToolName, !toolMsg.ToolResults[0].IsError, nil, 0)
	o.publishBus(models.AgentEvent{
		Type:      models.BusToolCompleted,
		SessionID: sessionID,
		Agent:     agentName,
		ToolName:  row.ToolName,
		Success:   !toolMsg.ToolResults[0].IsError,
	})

	return o.runLoop(ctx, sessionID, agentName, time.Now())
}

// runLoop drives steps 3 through 7 until the turn commits, suspends at a
// permission checkpoint, or hits a limit/error.
func (o *TurnOrchestrator) runLoop(ctx context.Context, sessionID, agentName string, turnStart time.Time) (*TurnResult, error) {
	emitter := NewEventEmitter(uuid.NewString(), NewBusSink(o.Bus))

	for iteration := 0; ; iteration++ {
		if iteration >= o.Config.MaxToolIterations {
			err := fmt.Errorf("turn exceeded max tool iterations (%d)", o.Config.MaxToolIterations)
			emitter.RunError(ctx, err, false)
			o.publishBus(models.AgentEvent{Type: models.EventError, SessionID: sessionID, Agent: agentName, Message: err.Error()})
			return &TurnResult{Phase: TurnLimitExceeded, Err: err}, nil
		}
		if time.Since(turnStart) > o.Config.MaxWallTime {
			err := fmt.Errorf("turn exceeded max wall time (%s)", o.Config.MaxWallTime)
			emitter.RunTimedOut(ctx, o.Config.MaxWallTime)
			o.publishBus(models.AgentEvent{Type: models.EventError, SessionID: sessionID, Agent: agentName, Message: err.Error()})
			return &TurnResult{Phase: TurnLimitExceeded, Err: err}, nil
		}

		history, err := o.Sessions.GetHistory(ctx, sessionID, o.Config.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}

		messages := agentctx.Build(ctx, history, o.SystemPrompt, agentctx.BuilderOptions{
			ContextWindowTokens: o.Config.ContextWindowTokens,
		})
		o.publishBus(models.AgentEvent{Type: models.EventAgentThinking, SessionID: sessionID, Agent: agentName})

		req := &CompletionRequest{
			System:   o.SystemPrompt,
			Messages: toCompletionMessages(messages),
		}
		if o.Registry != nil {
			req.Tools = o.Registry.AsLLMTools()
		}

		chunks, err := o.Provider.Complete(ctx, req)
		if err != nil {
			emitter.RunError(ctx, err, true)
			return &TurnResult{Phase: TurnProviderError, Err: err}, err
		}

		var text strings.Builder
		var toolCall *models.ToolCall
		var streamErr error

		for chunk := range chunks {
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				streamErr = chunk.Error
				break
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				emitter.ModelDelta(ctx, chunk.Text)
				o.publishBus(models.AgentEvent{Type: models.EventModelChunk, SessionID: sessionID, Agent: agentName, Text: &models.TextEventPayload{Text: chunk.Text}})
			}
			if chunk.ToolCall != nil {
				toolCall = chunk.ToolCall
				break
			}
			if chunk.Done {
				break
			}
		}
		// Drain whatever remains so the provider's goroutine can exit
		// cleanly once a tool call or error stops us from consuming further.
		for range chunks {
		}

		if streamErr != nil {
			emitter.RunError(ctx, streamErr, true)
			return &TurnResult{Phase: TurnProviderError, Err: streamErr}, streamErr
		}

		if toolCall == nil {
			// Step 7: CommittingTurn.
			assistantMsg := &models.Message{
				SessionID: sessionID,
				Role:      models.RoleAssistant,
				Content:   text.String(),
				CreatedAt: time.Now(),
			}
			if err := o.Sessions.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
				return nil, fmt.Errorf("recording assistant response: %w", err)
			}

			if o.Config.EnableAutoTodos && o.TodoHook != nil {
				if req, ok := BuildTodoRequestFromResponse(text.String()); ok {
					o.TodoHook(ctx, sessionID, req)
				}
			}

			emitter.RunFinished(ctx, nil)
			o.publishBus(models.AgentEvent{Type: models.EventSessionUpdated, SessionID: sessionID, Agent: agentName})
			return &TurnResult{Phase: TurnCommittingTurn, Text: text.String()}, nil
		}

		// Step 5: AwaitingTool.
		assistantMsg := &models.Message{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: []models.ToolCall{*toolCall},
			CreatedAt: time.Now(),
		}
		if err := o.Sessions.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
			return nil, fmt.Errorf("recording assistant tool call: %w", err)
		}

		emitter.ToolStarted(ctx, toolCall.ID, toolCall.Name, toolCall.Input)
		o.publishBus(models.AgentEvent{Type: models.BusToolStarted, SessionID: sessionID, Agent: agentName, ToolName: toolCall.Name, ToolArgs: toolCall.Input})

		commandOrPath := extractCommandOrPath(toolCall.Input)
		decision := o.Policy.Decide(toolCall.Name, nil, commandOrPath, policy.PermissionContext{
			SessionID: sessionID,
			AgentName: agentName,
		})

		switch decision.Resolution {
		case policy.ResolutionAllow:
			result, err := o.Registry.Execute(ctx, toolCall.Name, toolCall.Input)
			if err != nil {
				result = &ToolResult{Content: err.Error(), IsError: true}
			}
			toolMsg := toolResultMessage(sessionID, toolCall.Name, toolCall.ID, result)
			if err := o.Sessions.AppendMessage(ctx, sessionID, toolMsg); err != nil {
				return nil, fmt.Errorf("recording tool result: %w", err)
			}
			emitter.ToolFinished(ctx, toolCall.ID, toolCall.Name, !result.IsError, nil, 0)
			o.publishBus(models.AgentEvent{Type: models.BusToolCompleted, SessionID: sessionID, Agent: agentName, ToolName: toolCall.Name, Success: !result.IsError})
			// Back to step 3 for a new model turn.

		case policy.ResolutionDeny:
			result := &ToolResult{Content: "tool execution denied by permission policy", IsError: true}
			toolMsg := toolResultMessage(sessionID, toolCall.Name, toolCall.ID, result)
			if err := o.Sessions.AppendMessage(ctx, sessionID, toolMsg); err != nil {
				return nil, fmt.Errorf("recording tool denial: %w", err)
			}
			o.publishBus(models.AgentEvent{Type: models.EventPermissionDecision, SessionID: sessionID, Agent: agentName, ToolName: toolCall.Name, Decision: models.AskDeny})
			// Back to step 3 for a new model turn.

		default: // policy.ResolutionAsk
			o.Pending.Set(sessionID, toolCall.Name, toolCall.Input, o.Config.AskTTL)
			if policy.IsSudoCommand(commandOrPath, nil) {
				o.publishBus(models.AgentEvent{Type: models.EventSudoSecretPrompt, SessionID: sessionID, Agent: agentName, Command: commandOrPath, Reason: decision.Reason})
			} else {
				o.publishBus(models.AgentEvent{Type: models.EventPermissionRequest, SessionID: sessionID, Agent: agentName, ToolName: toolCall.Name, ToolArgs: toolCall.Input})
			}
			// Suspend: return from the turn rather than blocking. A later
			// RunTurn/Resume call picks this back up at step 6.
			return &TurnResult{Phase: TurnAwaitingPermission}, nil
		}
	}
}

func (o *TurnOrchestrator) publishBus(event models.AgentEvent) {
	if o.Bus == nil {
		return
	}
	event.Time = time.Now()
	o.Bus.Publish(event)
}

// toolResultMessage builds the role=tool transcript message for a tool
// call's outcome, whether it ran, was denied, or resumed from a
// checkpoint (callID is empty in the resume case, since the original
// tool-call message already carries it).
func toolResultMessage(sessionID, toolName, callID string, result *ToolResult) *models.Message {
	return &models.Message{
		SessionID: sessionID,
		Role:      models.RoleTool,
		Name:      toolName,
		Content:   result.Content,
		ToolResults: []models.ToolResult{{
			ToolCallID: callID,
			Content:    result.Content,
			IsError:    result.IsError,
		}},
		CreatedAt: time.Now(),
	}
}

// toCompletionMessages adapts the Context Builder's packed transcript into
// the provider-facing message shape.
func toCompletionMessages(msgs []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
