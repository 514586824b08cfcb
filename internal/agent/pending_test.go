package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestPendingStore_SetCoalescesSecondAskForSameTool(t *testing.T) {
	s := NewPendingStore()
	first := s.Set("sess-1", "exec", nil, time.Minute)
	second := s.Set("sess-1", "exec", nil, time.Minute)
	if first != second {
		t.Fatal("expected second Set for same session+tool to coalesce into the first row")
	}
}

func TestPendingStore_WaitReturnsResolution(t *testing.T) {
	s := NewPendingStore()
	s.Set("sess-1", "exec", nil, time.Minute)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Resolve("sess-1", models.AskAllowOnce)
	}()

	res, err := s.Wait(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != models.AskAllowOnce {
		t.Fatalf("got %v, want AskAllowOnce", res)
	}
}

func TestPendingStore_WaitExpiresAfterTTL(t *testing.T) {
	s := NewPendingStore()
	s.Set("sess-1", "exec", nil, 30*time.Millisecond)

	_, err := s.Wait(context.Background(), "sess-1")
	if err != ErrPendingExpired {
		t.Fatalf("got %v, want ErrPendingExpired", err)
	}
}

func TestPendingStore_DeleteStaleSweepsExpired(t *testing.T) {
	s := NewPendingStore()
	s.Set("sess-1", "exec", nil, -time.Minute)
	s.Set("sess-2", "read", nil, time.Minute)

	n := s.DeleteStale(time.Now())
	if n != 1 {
		t.Fatalf("got %d swept, want 1", n)
	}
	if s.Has("sess-2") != true {
		t.Fatal("expected sess-2's checkpoint to survive the sweep")
	}
}

func TestPendingStore_GetAndClearRemovesRow(t *testing.T) {
	s := NewPendingStore()
	s.Set("sess-1", "exec", nil, time.Minute)

	row, ok := s.GetAndClear("sess-1")
	if !ok || row.ToolName != "exec" {
		t.Fatalf("got %+v, %v", row, ok)
	}
	if s.Has("sess-1") {
		t.Fatal("expected checkpoint removed after GetAndClear")
	}
}
