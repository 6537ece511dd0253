// Package relay runs one chat turn per routed request: it loads the thread's
// session, drives the agent engine, formats the answer for Slack and hands the
// chunks to a delivery target.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/slackrelay/agent"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
	"github.com/quailyquaily/slackrelay/internal/slackfmt"
	"github.com/quailyquaily/slackrelay/internal/statusapi"
	"github.com/quailyquaily/slackrelay/llm"
)

const (
	DefaultTurnTimeout = 10 * time.Minute
	promptLogChars     = 200
)

// Runner is the part of agent.Engine the relay depends on.
type Runner interface {
	Run(ctx context.Context, messages []llm.Message, opts agent.RunOptions) (string, error)
}

// Delivery posts formatted reply chunks for a request.
type Delivery interface {
	Deliver(ctx context.Context, req router.ChatRequest, chunks []string) error
}

type DeliveryFunc func(ctx context.Context, req router.ChatRequest, chunks []string) error

func (f DeliveryFunc) Deliver(ctx context.Context, req router.ChatRequest, chunks []string) error {
	return f(ctx, req, chunks)
}

// SinkFactory returns the live output stream for a request.
type SinkFactory func(req router.ChatRequest) agent.OutputSink

type Options struct {
	Sessions     *session.Store
	Runner       Runner
	Router       *router.Router
	Delivery     Delivery
	Turns        *statusapi.TurnLog
	Sinks        SinkFactory
	SystemPrompt string
	AuthToken    string
	TurnTimeout  time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

type Relay struct {
	sessions     *session.Store
	runner       Runner
	router       *router.Router
	delivery     Delivery
	turns        *statusapi.TurnLog
	sinks        SinkFactory
	systemPrompt string
	authToken    string
	turnTimeout  time.Duration
	log          *slog.Logger
	now          func() time.Time
}

func New(opts Options) (*Relay, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if opts.Delivery == nil {
		return nil, fmt.Errorf("delivery is required")
	}
	r := &Relay{
		sessions:     opts.Sessions,
		runner:       opts.Runner,
		router:       opts.Router,
		delivery:     opts.Delivery,
		turns:        opts.Turns,
		sinks:        opts.Sinks,
		systemPrompt: opts.SystemPrompt,
		authToken:    strings.TrimSpace(opts.AuthToken),
		turnTimeout:  opts.TurnTimeout,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if r.turnTimeout <= 0 {
		r.turnTimeout = DefaultTurnTimeout
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.turns == nil {
		r.turns = statusapi.NewTurnLog(statusapi.TurnLogOptions{Now: r.now})
	}
	if r.sinks == nil {
		r.sinks = func(req router.ChatRequest) agent.OutputSink { return &logSink{log: r.log, requestID: req.ID} }
	}
	return r, nil
}

func (r *Relay) Sessions() *session.Store  { return r.sessions }
func (r *Relay) Turns() *statusapi.TurnLog { return r.turns }

// Submit records a queued turn and hands the request to the router.
func (r *Relay) Submit(ctx context.Context, key session.Key, prompt string, meta router.Meta) (router.ChatRequest, error) {
	if r == nil || r.router == nil {
		return router.ChatRequest{}, fmt.Errorf("relay router is not initialized")
	}
	req := r.router.NewRequest(key, prompt, meta)
	r.recordQueued(req)
	if err := r.router.Enqueue(ctx, req); err != nil {
		r.turnLogged(req.ID, r.turns.Fail(req.ID, err))
		return router.ChatRequest{}, err
	}
	return req, nil
}

// Run serves routed requests until ctx is done or the router closes.
func (r *Relay) Run(ctx context.Context) error {
	if r == nil || r.router == nil {
		return fmt.Errorf("relay router is not initialized")
	}
	return r.router.Run(ctx, r.Handle)
}

// Handle runs one turn. Model failures are reported on the sink and never
// posted to the thread; delivery failures are reported on the sink too.
func (r *Relay) Handle(ctx context.Context, req router.ChatRequest) error {
	if r == nil {
		return fmt.Errorf("relay is not initialized")
	}
	sink := r.sinks(req)
	if sink == nil {
		sink = &logSink{log: r.log, requestID: req.ID}
	}
	if _, ok := r.turns.Get(req.ID); !ok {
		r.recordQueued(req)
	}
	if req.Thread == nil {
		sink.Markdown(router.GuidanceMessage)
		r.turnLogged(req.ID, r.turns.Finish(req.ID, 0, nil))
		return nil
	}
	r.turnLogged(req.ID, r.turns.Start(req.ID))

	turnCtx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	key := *req.Thread
	sess := r.sessions.GetOrCreate(key, r.systemPrompt)
	r.sessions.AddUser(sess, req.Prompt)
	r.log.Info("relay_turn_start",
		"request_id", req.ID,
		"thread", key.String(),
		"user_id", req.UserID,
		"message_id", req.Reply.MessageID,
		"history", sess.Len(),
		"prompt", statusapi.TruncateUTF8(req.Prompt, promptLogChars),
	)

	start := r.now()
	text, err := r.runner.Run(turnCtx, sess.Messages(), agent.RunOptions{Sink: sink, AuthToken: r.authToken})
	if err != nil {
		summary := agent.SummarizeModelError(err)
		sink.Markdown("Error: " + summary)
		r.log.Warn("relay_turn_error", "request_id", req.ID, "thread", key.String(), "error", err.Error())
		r.turnLogged(req.ID, r.turns.Fail(req.ID, err))
		return nil
	}

	final := slackfmt.FinalText(text)
	r.sessions.AddAssistant(sess, final)
	chunks := slackfmt.Process(text)

	var postErr error
	if len(chunks) > 0 {
		if postErr = r.delivery.Deliver(turnCtx, req, chunks); postErr != nil {
			sink.Markdown("\n\n⚠️ Could not post reply to Slack: " + postErr.Error())
			r.log.Warn("relay_post_error", "request_id", req.ID, "thread", key.String(), "chunks", len(chunks), "error", postErr.Error())
		}
	}
	r.turnLogged(req.ID, r.turns.Finish(req.ID, len(chunks), postErr))
	r.log.Info("relay_turn_done",
		"request_id", req.ID,
		"thread", key.String(),
		"chunks", len(chunks),
		"reply_chars", len([]rune(final)),
		"duration_ms", r.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (r *Relay) recordQueued(req router.ChatRequest) {
	info := statusapi.TurnInfo{
		ID:        req.ID,
		UserID:    req.UserID,
		MessageID: req.Reply.MessageID,
		ChatType:  req.Reply.ChatType,
		Prompt:    statusapi.TruncateUTF8(req.Prompt, promptLogChars),
		CreatedAt: req.ReceivedAt,
	}
	if req.Thread != nil {
		info.Thread = req.Thread.String()
	}
	if !req.Reply.SentAt.IsZero() {
		sentAt := req.Reply.SentAt
		info.SentAt = &sentAt
	}
	r.turnLogged(req.ID, r.turns.Queue(info))
}

// turnLogged reports turn log bookkeeping errors; they never fail a turn.
func (r *Relay) turnLogged(id string, err error) {
	if err != nil {
		r.log.Debug("relay_turn_log_error", "request_id", id, "error", err.Error())
	}
}

type logSink struct {
	log       *slog.Logger
	requestID string
}

func (s *logSink) Markdown(string) {}

func (s *logSink) Progress(text string) {
	s.log.Debug("relay_progress", "request_id", s.requestID, "text", strings.TrimSpace(text))
}
