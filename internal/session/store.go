// Package session keeps the per-thread conversation history in memory.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/slackrelay/llm"
)

const (
	DefaultMaxHistory = 20
	prologueSize      = 2
	prologueAck       = "Understood. I'll follow these instructions for this conversation."
)

// Key identifies a Slack thread.
type Key struct {
	ChannelID string
	ThreadID  string
}

func (k Key) String() string {
	return k.ChannelID + "/" + k.ThreadID
}

func (k Key) IsZero() bool {
	return strings.TrimSpace(k.ChannelID) == "" && strings.TrimSpace(k.ThreadID) == ""
}

type Session struct {
	key       Key
	createdAt time.Time

	mu           sync.Mutex
	messages     []llm.Message
	hasPrologue  bool
	lastActivity time.Time
}

func (s *Session) Key() Key {
	return s.key
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Messages returns a copy of the history in chronological order.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.messages...)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Session) HasPrologue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPrologue
}

type Options struct {
	MaxHistory int
	Now        func() time.Time
}

// Store maps thread keys to sessions. Sessions are never evicted.
type Store struct {
	maxHistory int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[Key]*Session
}

func NewStore(opts Options) *Store {
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		maxHistory: maxHistory,
		now:        now,
		sessions:   make(map[Key]*Session),
	}
}

func (st *Store) MaxHistory() int {
	return st.maxHistory
}

// GetOrCreate returns the session for key, creating it on first use. A new
// session seeded with a non-empty systemPrompt starts with a user/assistant
// prologue pair that trimming never removes.
func (st *Store) GetOrCreate(key Key, systemPrompt string) *Session {
	now := st.now()
	st.mu.Lock()
	s, ok := st.sessions[key]
	if !ok {
		s = &Session{key: key, createdAt: now}
		if prompt := strings.TrimSpace(systemPrompt); prompt != "" {
			s.messages = []llm.Message{llm.UserText(prompt), llm.AssistantText(prologueAck)}
			s.hasPrologue = true
		}
		st.sessions[key] = s
	}
	st.mu.Unlock()

	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
	return s
}

func (st *Store) Get(key Key) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[key]
	return s, ok
}

// AddUser appends a user message and trims the history.
func (st *Store) AddUser(s *Session, text string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, llm.UserText(text))
	s.lastActivity = st.now()
	s.trimLocked(st.maxHistory)
}

// AddAssistant appends an assistant message without trimming, so a session
// may hold one message over the cap until the next AddUser.
func (st *Store) AddAssistant(s *Session, text string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, llm.AssistantText(text))
	s.lastActivity = st.now()
}

func (s *Session) trimLocked(maxHistory int) {
	keep := 0
	if s.hasPrologue && len(s.messages) >= prologueSize &&
		s.messages[0].Role == llm.RoleUser && s.messages[1].Role == llm.RoleAssistant {
		keep = prologueSize
	}
	excess := len(s.messages) - (maxHistory + keep)
	if excess <= 0 {
		return
	}
	s.messages = append(s.messages[:keep], s.messages[keep+excess:]...)
}

type Info struct {
	ChannelID    string    `json:"channel_id"`
	ThreadID     string    `json:"thread_id"`
	Messages     int       `json:"messages"`
	HasPrologue  bool      `json:"has_prologue"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// List returns a snapshot of all sessions, most recently active first.
func (st *Store) List() []Info {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, Info{
			ChannelID:    s.key.ChannelID,
			ThreadID:     s.key.ThreadID,
			Messages:     len(s.messages),
			HasPrologue:  s.hasPrologue,
			CreatedAt:    s.createdAt,
			LastActivity: s.lastActivity,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ChannelID+out[i].ThreadID < out[j].ChannelID+out[j].ThreadID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
