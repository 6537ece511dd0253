package statusapi

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func mustQueue(t *testing.T, l *TurnLog, info TurnInfo) {
	t.Helper()
	if err := l.Queue(info); err != nil {
		t.Fatalf("Queue(%s) error = %v", info.ID, err)
	}
}

func TestTurnLogLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewTurnLog(TurnLogOptions{Now: func() time.Time { return now }})
	mustQueue(t, l, TurnInfo{ID: "turn-1", Status: TurnDone, Thread: "C1/1740130000.123", Prompt: "hello"})

	item, ok := l.Get("turn-1")
	if !ok || item.Status != TurnQueued || !item.CreatedAt.Equal(now) {
		t.Fatalf("queued turn mismatch: %#v", item)
	}
	if err := l.Queue(TurnInfo{ID: "turn-1"}); err == nil {
		t.Fatalf("Queue() should reject a recorded id")
	}

	now = now.Add(time.Second)
	if err := l.Start("turn-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := l.Start("turn-1"); err == nil {
		t.Fatalf("Start() should reject a running turn")
	}
	now = now.Add(time.Second)
	if err := l.Finish("turn-1", 2, errors.New("channel_not_found")); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	item, _ = l.Get("turn-1")
	if item.Status != TurnDone || item.Chunks != 2 || item.PostError != "channel_not_found" {
		t.Fatalf("finished turn mismatch: %#v", item)
	}
	if item.StartedAt == nil || item.FinishedAt == nil || !item.FinishedAt.After(*item.StartedAt) {
		t.Fatalf("expected ordered started/finished timestamps: %#v", item)
	}
	if err := l.Fail("turn-1", errors.New("late")); !errors.Is(err, ErrTurnFinished) {
		t.Fatalf("Fail() error = %v, want ErrTurnFinished", err)
	}
	if err := l.Start("missing"); !errors.Is(err, ErrUnknownTurn) {
		t.Fatalf("Start() error = %v, want ErrUnknownTurn", err)
	}
}

func TestTurnLogFailFromQueued(t *testing.T) {
	t.Parallel()

	l := NewTurnLog(TurnLogOptions{})
	mustQueue(t, l, TurnInfo{ID: "t"})
	if err := l.Fail("t", errors.New("router is closed")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	item, _ := l.Get("t")
	if item.Status != TurnFailed || item.Error != "router is closed" || item.StartedAt != nil {
		t.Fatalf("failed turn mismatch: %#v", item)
	}
	if got := l.Counts(); got[TurnFailed] != 1 || got[TurnQueued] != 0 {
		t.Fatalf("Counts() = %v", got)
	}
}

func TestTurnLogEvictsOnlyFinishedTurns(t *testing.T) {
	t.Parallel()

	l := NewTurnLog(TurnLogOptions{MaxTurns: 3})
	mustQueue(t, l, TurnInfo{ID: "live"})
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("t%d", i)
		mustQueue(t, l, TurnInfo{ID: id})
		if err := l.Finish(id, 1, nil); err != nil {
			t.Fatalf("Finish(%s) error = %v", id, err)
		}
	}

	items := l.List(TurnFilter{Limit: 10})
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].ID != "t3" || items[1].ID != "t2" || items[2].ID != "live" {
		t.Fatalf("unexpected order: %s, %s, %s", items[0].ID, items[1].ID, items[2].ID)
	}
	if err := l.Start("live"); err != nil {
		t.Fatalf("live turn should survive eviction: %v", err)
	}
}

func TestTurnLogListFilters(t *testing.T) {
	t.Parallel()

	l := NewTurnLog(TurnLogOptions{})
	mustQueue(t, l, TurnInfo{ID: "a", Thread: "C1/1"})
	mustQueue(t, l, TurnInfo{ID: "b", Thread: "C1/2"})
	mustQueue(t, l, TurnInfo{ID: "c", Thread: "C1/1"})
	if err := l.Fail("c", nil); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if got := l.List(TurnFilter{Thread: "C1/1"}); len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("thread filter mismatch: %#v", got)
	}
	if got := l.List(TurnFilter{Thread: "C1/1", Status: TurnQueued}); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("thread+status filter mismatch: %#v", got)
	}
	if got := l.List(TurnFilter{Limit: 1}); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("limit mismatch: %#v", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	if got := TruncateUTF8("  héllo wörld ", 5); got != "héllo" {
		t.Fatalf("TruncateUTF8() = %q", got)
	}
}
