package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quailyquaily/slackrelay/internal/session"
)

var testThread = session.Key{ChannelID: "C1", ThreadID: "100.1"}

func TestPostThreadReplyRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("authorization header mismatch: %q", r.Header.Get("Authorization"))
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"ts":"100.2"}`))
	}))
	defer srv.Close()

	api := newSlackAPI(srv.Client(), srv.URL+"/", "xoxb-test", "xapp-test")
	ts, err := api.postThreadReply(context.Background(), testThread, "*hi*")
	if err != nil {
		t.Fatalf("postThreadReply() error = %v", err)
	}
	if ts != "100.2" {
		t.Fatalf("ts = %q, want 100.2", ts)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	want := map[string]any{
		"channel":      "C1",
		"text":         "*hi*",
		"thread_ts":    "100.1",
		"mrkdwn":       true,
		"unfurl_links": false,
		"unfurl_media": false,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("payload[%s] = %#v, want %#v", k, got[k], v)
		}
	}
	if _, exists := got["reply_broadcast"]; exists {
		t.Fatalf("reply_broadcast must not be sent")
	}
}

func TestPostThreadReplyRetriesInternalError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"ok":false,"error":"internal_error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"ts":"100.3"}`))
	}))
	defer srv.Close()

	api := newSlackAPI(srv.Client(), srv.URL, "xoxb-test", "")
	if _, err := api.postThreadReply(context.Background(), testThread, "hello"); err != nil {
		t.Fatalf("postThreadReply() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestPostThreadReplyDoesNotRetryPermanentError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error":"not_in_channel"}`))
	}))
	defer srv.Close()

	api := newSlackAPI(srv.Client(), srv.URL, "xoxb-test", "")
	_, err := api.postThreadReply(context.Background(), testThread, "hello")
	var apiErr *slackAPIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_in_channel" || apiErr.Method != "chat.postMessage" {
		t.Fatalf("postThreadReply() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if _, err := api.postThreadReply(context.Background(), testThread, "  "); err == nil {
		t.Fatalf("expected error for empty text")
	}
	if _, err := api.postThreadReply(context.Background(), session.Key{ChannelID: "C1"}, "hi"); err == nil {
		t.Fatalf("expected error for a thread without ts")
	}
	if calls.Load() != 1 {
		t.Fatalf("invalid replies must not reach Slack")
	}
}

func TestAuthTest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.test" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"team_id":"T1","user_id":"UBOT","bot_id":"B1","team":"acme","user":"relay"}`))
	}))
	defer srv.Close()

	api := newSlackAPI(srv.Client(), srv.URL, "xoxb-test", "")
	got, err := api.authTest(context.Background())
	if err != nil {
		t.Fatalf("authTest() error = %v", err)
	}
	if got != (slackIdentity{TeamID: "T1", UserID: "UBOT"}) {
		t.Fatalf("authTest() = %#v", got)
	}
}

func TestAuthTestReportsInvalidToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer srv.Close()

	api := newSlackAPI(srv.Client(), srv.URL, "xoxb-test", "")
	if _, err := api.authTest(context.Background()); err == nil || err.Error() != "slack auth.test failed: invalid_auth" {
		t.Fatalf("authTest() error = %v", err)
	}
}

func TestSlackAPIErrorRetryDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       slackAPIError
		attempt   int
		wantDelay time.Duration
		wantRetry bool
	}{
		{"429 with retry-after", slackAPIError{Status: http.StatusTooManyRequests, RetryAfter: 3 * time.Second}, 1, 3 * time.Second, true},
		{"ratelimited body", slackAPIError{Status: http.StatusOK, Code: "ratelimited"}, 1, time.Second, true},
		{"bad gateway", slackAPIError{Status: http.StatusBadGateway}, 2, time.Second, true},
		{"internal error body", slackAPIError{Status: http.StatusOK, Code: "internal_error"}, 1, 300 * time.Millisecond, true},
		{"bad request", slackAPIError{Status: http.StatusBadRequest}, 1, 0, false},
		{"channel not found", slackAPIError{Status: http.StatusOK, Code: "channel_not_found"}, 1, 0, false},
	}
	for _, tc := range cases {
		d, ok := tc.err.retryDelay(tc.attempt)
		if ok != tc.wantRetry || d != tc.wantDelay {
			t.Fatalf("%s: retryDelay() = %v, %v, want %v, %v", tc.name, d, ok, tc.wantDelay, tc.wantRetry)
		}
	}
}
