package statusapi

import (
	"strings"
	"time"
)

type TurnStatus string

const (
	TurnQueued  TurnStatus = "queued"
	TurnRunning TurnStatus = "running"
	TurnDone    TurnStatus = "done"
	TurnFailed  TurnStatus = "failed"
)

// TurnInfo records one inbound message and what the relay did with it.
type TurnInfo struct {
	ID         string     `json:"id"`
	Status     TurnStatus `json:"status"`
	Thread     string     `json:"thread,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	ChatType   string     `json:"chat_type,omitempty"`
	Prompt     string     `json:"prompt"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Chunks     int        `json:"chunks,omitempty"`
	PostError  string     `json:"post_error,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Terminal reports whether no further transition is allowed.
func (s TurnStatus) Terminal() bool {
	return s == TurnDone || s == TurnFailed
}

func ParseTurnStatus(raw string) (TurnStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "":
		return "", true
	case string(TurnQueued):
		return TurnQueued, true
	case string(TurnRunning):
		return TurnRunning, true
	case string(TurnDone):
		return TurnDone, true
	case string(TurnFailed):
		return TurnFailed, true
	default:
		return "", false
	}
}

// TruncateUTF8 trims text and caps it at maxChars runes.
func TruncateUTF8(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
