// Package slackbus turns Slack events into router requests and posts replies
// back to their threads.
package slackbus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
)

// SubmitFunc enqueues a prompt for a thread.
type SubmitFunc func(ctx context.Context, key session.Key, prompt string, meta router.Meta) (router.ChatRequest, error)

const defaultRecentMessages = 512

type InboundAdapterOptions struct {
	Submit          SubmitFunc
	BotUserID       string
	AllowedTeams    map[string]bool
	AllowedChannels map[string]bool
	// RecentMessages bounds the event and message ids remembered to drop
	// Slack redeliveries.
	RecentMessages int
}

type InboundMessage struct {
	TeamID    string
	ChannelID string
	ChatType  string
	MessageTS string
	ThreadTS  string
	UserID    string
	Text      string
	SentAt    time.Time
	EventID   string
}

type InboundAdapter struct {
	submit          SubmitFunc
	botUserID       string
	allowedTeams    map[string]bool
	allowedChannels map[string]bool
	recent          *recentIDs
}

func NewInboundAdapter(opts InboundAdapterOptions) (*InboundAdapter, error) {
	if opts.Submit == nil {
		return nil, fmt.Errorf("submit func is required")
	}
	return &InboundAdapter{
		submit:          opts.Submit,
		botUserID:       strings.TrimSpace(opts.BotUserID),
		allowedTeams:    opts.AllowedTeams,
		allowedChannels: opts.AllowedChannels,
		recent:          newRecentIDs(opts.RecentMessages),
	}, nil
}

// HandleInboundMessage validates msg and submits it. It reports false when the
// message is filtered out by an allowlist, was already submitted under the same
// event or message id, or has nothing left to say after the bot mention is
// removed.
func (a *InboundAdapter) HandleInboundMessage(ctx context.Context, msg InboundMessage) (router.ChatRequest, bool, error) {
	if a == nil || a.submit == nil {
		return router.ChatRequest{}, false, fmt.Errorf("slack inbound adapter is not initialized")
	}
	if ctx == nil {
		return router.ChatRequest{}, false, fmt.Errorf("context is required")
	}
	teamID := strings.TrimSpace(msg.TeamID)
	if teamID == "" {
		return router.ChatRequest{}, false, fmt.Errorf("team_id is required")
	}
	channelID := strings.TrimSpace(msg.ChannelID)
	if channelID == "" {
		return router.ChatRequest{}, false, fmt.Errorf("channel_id is required")
	}
	messageTS := strings.TrimSpace(msg.MessageTS)
	if messageTS == "" {
		return router.ChatRequest{}, false, fmt.Errorf("message_ts is required")
	}
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return router.ChatRequest{}, false, fmt.Errorf("user_id is required")
	}
	if !allowed(a.allowedTeams, teamID) || !allowed(a.allowedChannels, channelID) {
		return router.ChatRequest{}, false, nil
	}
	messageID := PlatformMessageID(teamID, channelID, messageTS)
	eventID := strings.TrimSpace(msg.EventID)
	if a.recent.contains(messageID, eventID) {
		return router.ChatRequest{}, false, nil
	}
	text := StripLeadingMention(msg.Text, a.botUserID)
	if text == "" {
		return router.ChatRequest{}, false, nil
	}

	req, err := a.submit(ctx, ThreadKey(msg), text, router.Meta{
		TeamID:    teamID,
		UserID:    userID,
		MessageTS: messageTS,
		MessageID: messageID,
		ChatType:  strings.TrimSpace(msg.ChatType),
		SentAt:    msg.SentAt,
		Target:    "slack",
	})
	if err != nil {
		return router.ChatRequest{}, false, err
	}
	a.recent.add(messageID, eventID)
	return req, true, nil
}

// ThreadKey is the session key for msg: the thread root when the message is a
// reply, else the message itself, which becomes the root of a new thread.
func ThreadKey(msg InboundMessage) session.Key {
	threadID := strings.TrimSpace(msg.ThreadTS)
	if threadID == "" {
		threadID = strings.TrimSpace(msg.MessageTS)
	}
	channelID := strings.TrimSpace(msg.ChannelID)
	if channelID == "" || threadID == "" {
		return session.Key{}
	}
	return session.Key{ChannelID: channelID, ThreadID: threadID}
}

var leadingMentionPattern = regexp.MustCompile(`^\s*<@([A-Z0-9]+)(?:\|[^>]*)?>[\s,:]*`)

// StripLeadingMention removes a leading <@botUserID> mention and trims.
func StripLeadingMention(text, botUserID string) string {
	text = strings.TrimSpace(text)
	botUserID = strings.TrimSpace(botUserID)
	if botUserID == "" {
		return text
	}
	m := leadingMentionPattern.FindStringSubmatch(text)
	if m == nil || m[1] != botUserID {
		return text
	}
	return strings.TrimSpace(text[len(m[0]):])
}

// PlatformMessageID identifies a Slack message across the workspace.
func PlatformMessageID(teamID, channelID, messageTS string) string {
	return strings.TrimSpace(teamID) + ":" + strings.TrimSpace(channelID) + ":" + strings.TrimSpace(messageTS)
}

func allowed(list map[string]bool, id string) bool {
	if len(list) == 0 {
		return true
	}
	return list[id]
}

// recentIDs is a bounded FIFO set of ids.
type recentIDs struct {
	mu    sync.Mutex
	max   int
	seen  map[string]struct{}
	order []string
}

func newRecentIDs(max int) *recentIDs {
	if max <= 0 {
		max = defaultRecentMessages
	}
	return &recentIDs{max: max, seen: make(map[string]struct{}, max)}
}

func (r *recentIDs) contains(ids ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := r.seen[id]; ok {
			return true
		}
	}
	return false
}

func (r *recentIDs) add(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := r.seen[id]; ok {
			continue
		}
		r.seen[id] = struct{}{}
		r.order = append(r.order, id)
		if len(r.order) > r.max {
			delete(r.seen, r.order[0])
			r.order = r.order[1:]
		}
	}
}
