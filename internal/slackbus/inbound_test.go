package slackbus

import (
	"context"
	"testing"
	"time"

	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
)

type submitRecorder struct {
	keys    []session.Key
	prompts []string
	metas   []router.Meta
}

func (r *submitRecorder) submit(ctx context.Context, key session.Key, prompt string, meta router.Meta) (router.ChatRequest, error) {
	r.keys = append(r.keys, key)
	r.prompts = append(r.prompts, prompt)
	r.metas = append(r.metas, meta)
	return router.ChatRequest{ID: "req-1", Prompt: prompt}, nil
}

func TestInboundAdapterHandleInboundMessage(t *testing.T) {
	t.Parallel()

	rec := &submitRecorder{}
	adapter, err := NewInboundAdapter(InboundAdapterOptions{Submit: rec.submit, BotUserID: "UBOT"})
	if err != nil {
		t.Fatalf("NewInboundAdapter() error = %v", err)
	}

	sentAt := time.Unix(1739667000, 0)
	req, accepted, err := adapter.HandleInboundMessage(context.Background(), InboundMessage{
		TeamID:    "T111",
		ChannelID: "C222",
		ChatType:  "channel",
		MessageTS: "1739667000.000100",
		ThreadTS:  "1739667000.000050",
		UserID:    "U333",
		Text:      "<@UBOT> summarize this thread",
		SentAt:    sentAt,
		EventID:   "Ev1",
	})
	if err != nil {
		t.Fatalf("HandleInboundMessage() error = %v", err)
	}
	if !accepted || req.ID != "req-1" {
		t.Fatalf("expected accepted request, got accepted=%v req=%#v", accepted, req)
	}
	if rec.keys[0] != (session.Key{ChannelID: "C222", ThreadID: "1739667000.000050"}) {
		t.Fatalf("key mismatch: %+v", rec.keys[0])
	}
	if rec.prompts[0] != "summarize this thread" {
		t.Fatalf("prompt mismatch: %q", rec.prompts[0])
	}
	meta := rec.metas[0]
	if meta.TeamID != "T111" || meta.UserID != "U333" || meta.Target != "slack" || meta.ChatType != "channel" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
	if meta.MessageID != "T111:C222:1739667000.000100" || !meta.SentAt.Equal(sentAt) {
		t.Fatalf("message id or sent_at mismatch: %+v", meta)
	}
}

func TestInboundAdapterAllowlistsAndEmptyText(t *testing.T) {
	t.Parallel()

	rec := &submitRecorder{}
	adapter, err := NewInboundAdapter(InboundAdapterOptions{
		Submit:          rec.submit,
		BotUserID:       "UBOT",
		AllowedTeams:    map[string]bool{"T1": true},
		AllowedChannels: map[string]bool{"C1": true},
	})
	if err != nil {
		t.Fatalf("NewInboundAdapter() error = %v", err)
	}
	base := InboundMessage{TeamID: "T1", ChannelID: "C1", MessageTS: "1.1", UserID: "U1", Text: "hi"}

	cases := []InboundMessage{base, base, base}
	cases[0].TeamID = "T2"
	cases[1].ChannelID = "C2"
	cases[2].Text = "<@UBOT>"
	for _, msg := range cases {
		if _, accepted, err := adapter.HandleInboundMessage(context.Background(), msg); err != nil || accepted {
			t.Fatalf("message %+v: accepted=%v err=%v", msg, accepted, err)
		}
	}
	if len(rec.keys) != 0 {
		t.Fatalf("filtered messages must not be submitted")
	}

	if _, _, err := adapter.HandleInboundMessage(context.Background(), InboundMessage{TeamID: "T1", ChannelID: "C1", MessageTS: "1.1"}); err == nil {
		t.Fatalf("expected error for missing user_id")
	}
}

func TestThreadKey(t *testing.T) {
	t.Parallel()

	root := ThreadKey(InboundMessage{ChannelID: "C1", MessageTS: "10.1"})
	if root != (session.Key{ChannelID: "C1", ThreadID: "10.1"}) {
		t.Fatalf("root key mismatch: %+v", root)
	}
	reply := ThreadKey(InboundMessage{ChannelID: "C1", MessageTS: "10.9", ThreadTS: "10.1"})
	if reply != root {
		t.Fatalf("reply should map to the thread root, got %+v", reply)
	}
	if !ThreadKey(InboundMessage{MessageTS: "10.1"}).IsZero() {
		t.Fatalf("missing channel should give a zero key")
	}
}

func TestStripLeadingMention(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"<@UBOT> hello":           "hello",
		"  <@UBOT|relay>: hello ": "hello",
		"<@UOTHER> hello":         "<@UOTHER> hello",
		"hello <@UBOT>":           "hello <@UBOT>",
	}
	for in, want := range cases {
		if got := StripLeadingMention(in, "UBOT"); got != want {
			t.Fatalf("StripLeadingMention(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInboundAdapterDropsRedeliveries(t *testing.T) {
	t.Parallel()

	rec := &submitRecorder{}
	adapter, err := NewInboundAdapter(InboundAdapterOptions{Submit: rec.submit, RecentMessages: 2})
	if err != nil {
		t.Fatalf("NewInboundAdapter() error = %v", err)
	}
	msg := InboundMessage{TeamID: "T1", ChannelID: "C1", MessageTS: "1.1", UserID: "U1", Text: "hi", EventID: "Ev1"}
	handle := func(m InboundMessage) bool {
		t.Helper()
		_, accepted, err := adapter.HandleInboundMessage(context.Background(), m)
		if err != nil {
			t.Fatalf("HandleInboundMessage() error = %v", err)
		}
		return accepted
	}

	if !handle(msg) {
		t.Fatalf("first delivery should be accepted")
	}
	if handle(msg) {
		t.Fatalf("same event id should be dropped")
	}
	twin := msg
	twin.EventID = "Ev2"
	if handle(twin) {
		t.Fatalf("same message under a new event id should be dropped")
	}
	if len(rec.keys) != 1 {
		t.Fatalf("submits = %d, want 1", len(rec.keys))
	}

	// Two newer messages push the first one out of the window.
	for _, ts := range []string{"1.2", "1.3"} {
		next := msg
		next.MessageTS, next.EventID = ts, ""
		if !handle(next) {
			t.Fatalf("message %s should be accepted", ts)
		}
	}
	again := msg
	again.EventID = ""
	if !handle(again) {
		t.Fatalf("message outside the window should be accepted again")
	}
}
