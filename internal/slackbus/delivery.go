package slackbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
)

// PostFunc posts text as a reply in thread and returns the posted message ts.
type PostFunc func(ctx context.Context, thread session.Key, text string) (string, error)

type DeliveryAdapterOptions struct {
	Post   PostFunc
	Logger *slog.Logger
}

// DeliveryAdapter posts reply chunks back into the request's thread.
type DeliveryAdapter struct {
	post PostFunc
	log  *slog.Logger
}

func NewDeliveryAdapter(opts DeliveryAdapterOptions) (*DeliveryAdapter, error) {
	if opts.Post == nil {
		return nil, fmt.Errorf("post func is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryAdapter{post: opts.Post, log: logger}, nil
}

// Deliver posts chunks in order and stops at the first failure, so a thread
// never shows a later chunk without the ones before it.
func (a *DeliveryAdapter) Deliver(ctx context.Context, req router.ChatRequest, chunks []string) error {
	if a == nil || a.post == nil {
		return fmt.Errorf("slack delivery adapter is not initialized")
	}
	if ctx == nil {
		return fmt.Errorf("context is required")
	}
	if req.Thread == nil {
		return fmt.Errorf("thread is required")
	}
	thread := session.Key{
		ChannelID: strings.TrimSpace(req.Thread.ChannelID),
		ThreadID:  strings.TrimSpace(req.Thread.ThreadID),
	}
	if thread.ChannelID == "" || thread.ThreadID == "" {
		return fmt.Errorf("thread %q is incomplete", req.Thread.String())
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		ts, err := a.post(ctx, thread, chunk)
		if err != nil {
			if len(chunks) == 1 {
				return err
			}
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		a.log.Debug("slack_chunk_posted",
			"request_id", req.ID,
			"message_id", req.Reply.MessageID,
			"thread", thread.String(),
			"chunk", i+1,
			"chunks", len(chunks),
			"ts", ts,
		)
	}
	return nil
}
