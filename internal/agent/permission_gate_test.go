package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

func TestPermissionGate_AllowPassesThrough(t *testing.T) {
	tp := policy.NewTieredPolicy(policy.NewResolver(), time.Minute)
	tp.AllowTool(policy.TierProject, "read")
	gate := NewPermissionGate(tp, NewPendingStore(), nil, time.Second)

	err := gate.Check(context.Background(), "sess-1", "", nil, "read", json.RawMessage(`{"path":"/tmp/a"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPermissionGate_DenyShortCircuits(t *testing.T) {
	tp := policy.NewTieredPolicy(policy.NewResolver(), time.Minute)
	tp.DenyTool(policy.TierGlobal, "exec")
	gate := NewPermissionGate(tp, NewPendingStore(), nil, time.Second)

	err := gate.Check(context.Background(), "sess-1", "", nil, "exec", json.RawMessage(`{"command":"ls"}`))
	if err != ErrToolDenied {
		t.Fatalf("got %v, want ErrToolDenied", err)
	}
}

func TestPermissionGate_AskResolvesViaPendingStore(t *testing.T) {
	tp := policy.NewTieredPolicy(policy.NewResolver(), time.Minute)
	pending := NewPendingStore()
	bus := eventbus.New(4)
	gate := NewPermissionGate(tp, pending, bus, 5*time.Second)

	sub := bus.Subscribe()
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		pending.Resolve("sess-1", models.AskAllowOnce)
	}()

	err := gate.Check(context.Background(), "sess-1", "", nil, "mystery_tool", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sawRequest := false
	select {
	case ev := <-sub.Events():
		if ev.Type == models.EventPermissionRequest {
			sawRequest = true
		}
	case <-time.After(time.Second):
	}
	if !sawRequest {
		t.Fatal("expected a permission_request event on the bus")
	}
}

func TestPermissionGate_AskDeniedReturnsErrToolDenied(t *testing.T) {
	tp := policy.NewTieredPolicy(policy.NewResolver(), time.Minute)
	pending := NewPendingStore()
	gate := NewPermissionGate(tp, pending, nil, 5*time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		pending.Resolve("sess-1", models.AskDeny)
	}()

	err := gate.Check(context.Background(), "sess-1", "", nil, "mystery_tool", json.RawMessage(`{}`))
	if err != ErrToolDenied {
		t.Fatalf("got %v, want ErrToolDenied", err)
	}
}
