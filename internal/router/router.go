// Package router queues inbound chat requests and hands them to workers.
// Every request carries its own thread key, and requests that share a key are
// always handled by the same worker in arrival order.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/slackrelay/internal/session"
)

const (
	DefaultQueueSize = 64
	DefaultWorkers   = 1
)

// GuidanceMessage is shown when a request has no thread to answer in.
const GuidanceMessage = "I can only reply inside a Slack thread. Mention me in a channel message or reply in an existing thread so I know where to answer."

var ErrClosed = errors.New("router is closed")

// Meta carries where a reply should go and who asked.
type Meta struct {
	TeamID    string
	UserID    string
	MessageTS string
	// MessageID identifies the source message across surfaces, e.g.
	// "team:channel:ts" for Slack.
	MessageID string
	ChatType  string
	SentAt    time.Time
	// Target names the delivery surface, e.g. "slack" or "console".
	Target string
}

type ChatRequest struct {
	ID         string
	Thread     *session.Key
	Prompt     string
	UserID     string
	ReceivedAt time.Time
	Reply      Meta
}

type HandlerFunc func(ctx context.Context, req ChatRequest) error

type Options struct {
	QueueSize int
	Workers   int
	Logger    *slog.Logger
	Now       func() time.Time
}

type Router struct {
	queue   chan ChatRequest
	done    chan struct{}
	workers int
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	senders sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[session.Key]int
}

func New(opts Options) *Router {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		queue:   make(chan ChatRequest, queueSize),
		done:    make(chan struct{}),
		workers: workers,
		log:     logger,
		now:     now,
		pending: make(map[session.Key]int),
	}
}

// NewRequest builds a request for key. A zero key yields a request with a nil
// Thread, which handlers answer with GuidanceMessage.
func (r *Router) NewRequest(key session.Key, prompt string, meta Meta) ChatRequest {
	req := ChatRequest{
		ID:         newRequestID(),
		Prompt:     prompt,
		UserID:     meta.UserID,
		ReceivedAt: r.now(),
		Reply:      meta,
	}
	if !key.IsZero() {
		k := key
		req.Thread = &k
	}
	return req
}

// Submit enqueues a request, blocking until there is room or ctx is done.
func (r *Router) Submit(ctx context.Context, key session.Key, prompt string, meta Meta) (ChatRequest, error) {
	if r == nil {
		return ChatRequest{}, fmt.Errorf("router is not initialized")
	}
	req := r.NewRequest(key, prompt, meta)
	if err := r.Enqueue(ctx, req); err != nil {
		return ChatRequest{}, err
	}
	return req, nil
}

// Enqueue adds a prepared request to the queue, blocking until there is room,
// ctx is done or the router is closed.
func (r *Router) Enqueue(ctx context.Context, req ChatRequest) error {
	if r == nil {
		return fmt.Errorf("router is not initialized")
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	r.senders.Add(1)
	r.mu.RUnlock()
	defer r.senders.Done()

	r.markPending(req.Thread, 1)
	select {
	case r.queue <- req:
		return nil
	case <-r.done:
		r.markPending(req.Thread, -1)
		return ErrClosed
	case <-ctx.Done():
		r.markPending(req.Thread, -1)
		return ctx.Err()
	}
}

// Close stops accepting requests and wakes blocked senders with ErrClosed.
// Run drains what is already queued.
func (r *Router) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Pending reports whether a request for key is queued or being handled.
func (r *Router) Pending(key session.Key) bool {
	if r == nil {
		return false
	}
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending[key] > 0
}

func (r *Router) markPending(key *session.Key, delta int) {
	if key == nil {
		return
	}
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	n := r.pending[*key] + delta
	if n <= 0 {
		delete(r.pending, *key)
		return
	}
	r.pending[*key] = n
}

// Run dispatches queued requests to workers until ctx is done or the router
// is closed and drained. Handler errors are logged and do not stop the loop.
func (r *Router) Run(ctx context.Context, handle HandlerFunc) error {
	if r == nil {
		return fmt.Errorf("router is not initialized")
	}
	if handle == nil {
		return fmt.Errorf("router handler is nil")
	}

	lanes := make([]chan ChatRequest, r.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan ChatRequest, cap(r.queue))
		wg.Add(1)
		go func(lane <-chan ChatRequest) {
			defer wg.Done()
			for req := range lane {
				if err := handle(ctx, req); err != nil {
					r.log.Warn("router_handle_error", "request_id", req.ID, "thread", threadLabel(req.Thread), "error", err.Error())
				}
				r.markPending(req.Thread, -1)
			}
		}(lanes[i])
	}
	stop := func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}
	dispatch := func(req ChatRequest) bool {
		select {
		case lanes[laneFor(req.Thread, len(lanes))] <- req:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case req := <-r.queue:
			if !dispatch(req) {
				stop()
				return ctx.Err()
			}
		case <-r.done:
			// Senders leave promptly once done is closed; after that the
			// buffer only shrinks.
			r.senders.Wait()
		drain:
			for {
				select {
				case req := <-r.queue:
					if !dispatch(req) {
						stop()
						return ctx.Err()
					}
				default:
					break drain
				}
			}
			stop()
			return nil
		}
	}
}

func laneFor(key *session.Key, n int) int {
	if n <= 1 || key == nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(n))
}

func threadLabel(key *session.Key) string {
	if key == nil {
		return ""
	}
	return key.String()
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
