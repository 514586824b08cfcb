package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrPendingExpired is returned by Wait when a checkpoint's TTL elapses
// before a resolution arrives.
var ErrPendingExpired = errors.New("pending tool checkpoint expired")

// PendingTool is the checkpoint row the orchestrator writes whenever a
// permission decision comes back Ask: the turn suspends at this row until
// a resolution (allow_once, allow_in_session, deny) arrives for the
// session, or the row goes stale and is swept.
//
// Grounded on internal/tools/policy/approval.go's ApprovalRequest/
// ApprovalManager (mutex-guarded map, ExpiresAt field, poll-based Wait),
// narrowed to the at-most-one-row-per-session invariant and the exact
// three-way AskResolution the permission policy produces.
type PendingTool struct {
	SessionID   string
	ToolName    string
	Args        json.RawMessage
	RequestedAt time.Time
	ExpiresAt   time.Time

	resolved   bool
	resolution models.AskResolution
}

// PendingStore holds at most one PendingTool per session. Setting a second
// checkpoint for a session that already has one coalesces into the
// existing row rather than creating a second: the second Ask for the same
// tool while one is outstanding does not re-prompt, it rides the same
// resolution.
//
// This is the Open Question decision this runtime has committed to:
// coalesce, not queue or reject.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]*PendingTool // session_id -> checkpoint
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]*PendingTool)}
}

// Set installs a checkpoint for sessionID, coalescing into any existing
// one for the same (sessionID, toolName) pair. Returns the row that ends
// up governing the wait — either the newly created one or the existing
// one it coalesced into.
func (s *PendingStore) Set(sessionID, toolName string, args json.RawMessage, ttl time.Duration) *PendingTool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[sessionID]; ok && !existing.resolved && existing.ToolName == toolName {
		return existing
	}

	row := &PendingTool{
		SessionID:   sessionID,
		ToolName:    toolName,
		Args:        args,
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(ttl),
	}
	s.pending[sessionID] = row
	return row
}

// Has reports whether sessionID currently has an unresolved checkpoint.
func (s *PendingStore) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pending[sessionID]
	return ok && !row.resolved
}

// Resolve records resolution for sessionID's current checkpoint, if any,
// and returns whether a row was found.
func (s *PendingStore) Resolve(sessionID string, resolution models.AskResolution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pending[sessionID]
	if !ok {
		return false
	}
	row.resolution = resolution
	row.resolved = true
	return true
}

// ResolvedRow returns sessionID's checkpoint without clearing it, but only
// when it has already been resolved. Used by a turn-resume entry point to
// decide, non-blockingly, whether a prior suspended turn can now proceed:
// unlike Wait, this never blocks the caller.
func (s *PendingStore) ResolvedRow(sessionID string) (*PendingTool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pending[sessionID]
	if !ok || !row.resolved {
		return nil, false
	}
	return row, true
}

// GetAndClear returns sessionID's checkpoint and removes it, used once the
// turn resumes past the checkpoint.
func (s *PendingStore) GetAndClear(sessionID string) (*PendingTool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	return row, ok
}

// DeleteStale removes checkpoints past their ExpiresAt, returning how many
// were swept. Intended to run on a periodic schedule.
func (s *PendingStore) DeleteStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, row := range s.pending {
		if !row.resolved && now.After(row.ExpiresAt) {
			delete(s.pending, id)
			n++
		}
	}
	return n
}

// Wait blocks until sessionID's checkpoint resolves, the context is
// canceled, or the checkpoint's TTL elapses.
func (s *PendingStore) Wait(ctx context.Context, sessionID string) (models.AskResolution, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			row, ok := s.pending[sessionID]
			if !ok {
				s.mu.Unlock()
				return "", errors.New("no pending checkpoint for session")
			}
			if row.resolved {
				res := row.resolution
				s.mu.Unlock()
				return res, nil
			}
			if time.Now().After(row.ExpiresAt) {
				delete(s.pending, sessionID)
				s.mu.Unlock()
				return "", ErrPendingExpired
			}
			s.mu.Unlock()
		}
	}
}
