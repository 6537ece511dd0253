package slackcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quailyquaily/slackrelay/internal/session"
)

const (
	defaultSlackBaseURL = "https://slack.com/api"
	maxPostAttempts     = 3
)

// slackAPI is the small slice of the Slack Web API the relay uses: identity
// at startup, Socket Mode URLs, and threaded replies.
type slackAPI struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

func newSlackAPI(httpClient *http.Client, baseURL, botToken, appToken string) *slackAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultSlackBaseURL
	}
	return &slackAPI{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

// slackAPIError is a failed Web API call, either at the HTTP level or an
// {"ok":false} body.
type slackAPIError struct {
	Method     string
	Status     int
	Code       string
	RetryAfter time.Duration
}

func (e *slackAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("slack %s http %d", e.Method, e.Status)
}

// retryDelay reports whether the call may succeed on a later attempt and how
// long to wait first.
func (e *slackAPIError) retryDelay(attempt int) (time.Duration, bool) {
	switch {
	case e.Status == http.StatusTooManyRequests || e.Code == "ratelimited":
		if e.RetryAfter > 0 {
			return e.RetryAfter, true
		}
		return time.Second, true
	case e.Status >= 500 && e.Status <= 599,
		e.Code == "internal_error", e.Code == "service_unavailable", e.Code == "request_timeout":
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

// slackEnvelope is the status part every Web API response shares.
type slackEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (e *slackEnvelope) envelope() *slackEnvelope { return e }

type slackResponse interface {
	envelope() *slackEnvelope
}

// call posts payload to method with token and decodes the reply into out.
func (api *slackAPI) call(ctx context.Context, token, method string, payload any, out slackResponse) error {
	if api == nil || api.http == nil {
		return fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("slack token is required for %s", method)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", method, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+"/"+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &slackAPIError{Method: method, Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header)}
		var env slackEnvelope
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Code = strings.TrimSpace(env.Error)
		}
		return apiErr
	}
	if readErr != nil {
		return fmt.Errorf("read %s response: %w", method, readErr)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if env := out.envelope(); !env.OK {
		code := strings.TrimSpace(env.Error)
		if code == "" {
			code = "unknown_error"
		}
		return &slackAPIError{Method: method, Status: resp.StatusCode, Code: code}
	}
	return nil
}

func parseRetryAfter(headers http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(headers.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type slackIdentity struct {
	TeamID string
	UserID string
}

type authTestResponse struct {
	slackEnvelope
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// authTest learns the bot's own user id and home team.
func (api *slackAPI) authTest(ctx context.Context) (slackIdentity, error) {
	var out authTestResponse
	if err := api.call(ctx, api.botToken, "auth.test", nil, &out); err != nil {
		return slackIdentity{}, err
	}
	id := slackIdentity{TeamID: strings.TrimSpace(out.TeamID), UserID: strings.TrimSpace(out.UserID)}
	if id.UserID == "" {
		return slackIdentity{}, fmt.Errorf("slack auth.test returned empty user_id")
	}
	return id, nil
}

type openConnectionResponse struct {
	slackEnvelope
	URL string `json:"url,omitempty"`
}

func (api *slackAPI) connectSocket(ctx context.Context) (*websocket.Conn, error) {
	var out openConnectionResponse
	if err := api.call(ctx, api.appToken, "apps.connections.open", nil, &out); err != nil {
		return nil, err
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return nil, fmt.Errorf("slack apps.connections.open returned empty url")
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial socket mode: %w", err)
	}
	return conn, nil
}

// Replies are posted as plain mrkdwn text: link and media previews are off and
// thread replies are never broadcast to the channel.
type threadReplyRequest struct {
	Channel     string `json:"channel"`
	Text        string `json:"text"`
	ThreadTS    string `json:"thread_ts"`
	Mrkdwn      bool   `json:"mrkdwn"`
	UnfurlLinks bool   `json:"unfurl_links"`
	UnfurlMedia bool   `json:"unfurl_media"`
}

type postMessageResponse struct {
	slackEnvelope
	TS string `json:"ts,omitempty"`
}

// postThreadReply posts one reply chunk into thread and returns its ts.
// Rate limits and transient server errors are retried.
func (api *slackAPI) postThreadReply(ctx context.Context, thread session.Key, text string) (string, error) {
	payload := threadReplyRequest{
		Channel:  strings.TrimSpace(thread.ChannelID),
		Text:     text,
		ThreadTS: strings.TrimSpace(thread.ThreadID),
		Mrkdwn:   true,
	}
	if payload.Channel == "" || payload.ThreadTS == "" {
		return "", fmt.Errorf("reply thread %q is incomplete", thread.String())
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("reply text is required")
	}

	for attempt := 1; ; attempt++ {
		var out postMessageResponse
		err := api.call(ctx, api.botToken, "chat.postMessage", payload, &out)
		if err == nil {
			return strings.TrimSpace(out.TS), nil
		}
		var apiErr *slackAPIError
		if attempt >= maxPostAttempts || !errors.As(err, &apiErr) {
			return "", err
		}
		wait, retryable := apiErr.retryDelay(attempt)
		if !retryable {
			return "", err
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return "", err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
