package statusapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxTurns  = 1000
	defaultListLimit = 20
	maxListLimit     = 200
)

var (
	ErrUnknownTurn  = errors.New("unknown turn")
	ErrTurnFinished = errors.New("turn already finished")
)

// TurnReader is the read API the status routes need.
type TurnReader interface {
	List(filter TurnFilter) []TurnInfo
	Get(id string) (*TurnInfo, bool)
	Counts() map[TurnStatus]int
}

// TurnFilter narrows List. Zero fields match everything.
type TurnFilter struct {
	Status TurnStatus
	Thread string
	Limit  int
}

type TurnLogOptions struct {
	// MaxTurns bounds the log. Only finished turns are evicted, oldest first.
	MaxTurns int
	Now      func() time.Time
}

// TurnLog tracks every inbound message through queued, running and one of
// done or failed. Finished turns are never reopened.
type TurnLog struct {
	mu       sync.RWMutex
	items    map[string]*TurnInfo
	order    []string
	maxTurns int
	now      func() time.Time
}

func NewTurnLog(opts TurnLogOptions) *TurnLog {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TurnLog{
		items:    make(map[string]*TurnInfo),
		maxTurns: maxTurns,
		now:      now,
	}
}

// Queue records a new turn in the queued state.
func (l *TurnLog) Queue(info TurnInfo) error {
	if l == nil {
		return fmt.Errorf("turn log is not initialized")
	}
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return fmt.Errorf("turn id is required")
	}
	info.ID = id
	info.Status = TurnQueued
	info.StartedAt = nil
	info.FinishedAt = nil
	if info.CreatedAt.IsZero() {
		info.CreatedAt = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.items[id]; exists {
		return fmt.Errorf("turn %s is already recorded", id)
	}
	l.items[id] = &info
	l.order = append(l.order, id)
	l.evictLocked()
	return nil
}

// Start moves a queued turn to running.
func (l *TurnLog) Start(id string) error {
	return l.transition(id, func(t *TurnInfo, now time.Time) error {
		if t.Status != TurnQueued {
			return fmt.Errorf("turn %s is %s, not queued", t.ID, t.Status)
		}
		t.Status = TurnRunning
		t.StartedAt = &now
		return nil
	})
}

// Finish marks a turn done with the number of chunks it produced. A post
// failure still finishes the turn; the error is kept on the record.
func (l *TurnLog) Finish(id string, chunks int, postErr error) error {
	return l.transition(id, func(t *TurnInfo, now time.Time) error {
		t.Status = TurnDone
		t.FinishedAt = &now
		t.Chunks = chunks
		if postErr != nil {
			t.PostError = postErr.Error()
		}
		return nil
	})
}

// Fail marks a turn failed with cause.
func (l *TurnLog) Fail(id string, cause error) error {
	return l.transition(id, func(t *TurnInfo, now time.Time) error {
		t.Status = TurnFailed
		t.FinishedAt = &now
		if cause != nil {
			t.Error = cause.Error()
		}
		return nil
	})
}

func (l *TurnLog) transition(id string, apply func(t *TurnInfo, now time.Time) error) error {
	if l == nil {
		return fmt.Errorf("turn log is not initialized")
	}
	id = strings.TrimSpace(id)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTurn, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTurnFinished, id, t.Status)
	}
	if err := apply(t, now); err != nil {
		return err
	}
	l.evictLocked()
	return nil
}

func (l *TurnLog) Get(id string) (*TurnInfo, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.items[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// List returns the newest turns first.
func (l *TurnLog) List(filter TurnFilter) []TurnInfo {
	if l == nil {
		return nil
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	thread := strings.TrimSpace(filter.Thread)

	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TurnInfo, 0, min(limit, len(l.order)))
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := l.items[l.order[i]]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if thread != "" && t.Thread != thread {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Counts returns the number of recorded turns per status.
func (l *TurnLog) Counts() map[TurnStatus]int {
	out := map[TurnStatus]int{}
	if l == nil {
		return out
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.items {
		out[t.Status]++
	}
	return out
}

// evictLocked drops the oldest finished turns while the log is over its
// bound. Queued and running turns stay so their transitions never miss.
func (l *TurnLog) evictLocked() {
	excess := len(l.order) - l.maxTurns
	if excess <= 0 {
		return
	}
	kept := l.order[:0]
	for _, id := range l.order {
		if excess > 0 && l.items[id].Status.Terminal() {
			delete(l.items, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}
