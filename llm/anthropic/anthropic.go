// Package anthropic streams assistant turns from the Anthropic Messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quailyquaily/slackrelay/llm"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements llm.Model.
type Client struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	http      *http.Client
	logger    *slog.Logger
}

func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	// No client timeout: streams are long-lived and bounded by ctx.
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:    apiKey,
		endpoint:  endpoint,
		model:     model,
		maxTokens: maxTokens,
		http:      httpClient,
		logger:    logger.With("provider", "anthropic"),
	}, nil
}

type messagesRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	ID        string        `json:"id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Input     any           `json:"input,omitempty"`
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   []wireContent `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
	Source    *wireSource   `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type streamEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock *wireContent `json:"content_block,omitempty"`
	Delta        *streamDelta `json:"delta,omitempty"`
	Error        *streamError `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Stream implements llm.Model.
func (c *Client) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Part, error] {
	return func(yield func(llm.Part, error) bool) {
		if c == nil || c.http == nil {
			yield(nil, fmt.Errorf("anthropic client is not initialized"))
			return
		}
		body, err := c.open(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()
		readStream(body, c.logger, yield)
	}
}

func (c *Client) open(ctx context.Context, req llm.Request) (io.ReadCloser, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	messages, system := convertMessages(req.Messages)
	if s := strings.TrimSpace(req.System); s != "" {
		system = strings.TrimSpace(s + "\n\n" + system)
	}
	payload := messagesRequest{
		Model:     model,
		Messages:  messages,
		System:    system,
		MaxTokens: maxTokens,
		Stream:    true,
		Tools:     convertTools(req.Tools),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("anthropic_request", "model", model, "messages", len(messages), "tools", len(payload.Tools))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("anthropic api error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp.Body, nil
}

func readStream(body io.Reader, logger *slog.Logger, yield func(llm.Part, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		currentTool *wireContent
		toolJSON    strings.Builder
		stopReason  string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			logger.Debug("anthropic_stream_malformed_event", "error", err.Error())
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				block := *event.ContentBlock
				currentTool = &block
				toolJSON.Reset()
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text == "" {
					continue
				}
				if !yield(llm.TextPart{Text: event.Delta.Text}, nil) {
					return
				}
			case "input_json_delta":
				toolJSON.WriteString(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			if currentTool == nil {
				continue
			}
			call := llm.ToolCallPart{
				ID:    currentTool.ID,
				Name:  currentTool.Name,
				Input: decodeToolInput(toolJSON.String()),
			}
			currentTool = nil
			if !yield(call, nil) {
				return
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
		case "error":
			msg := "unknown stream error"
			if event.Error != nil {
				msg = strings.TrimSpace(event.Error.Type + ": " + event.Error.Message)
			}
			yield(nil, fmt.Errorf("anthropic stream error: %s", msg))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("read stream: %w", err))
		return
	}
	logger.Debug("anthropic_stream_done", "stop_reason", stopReason)
}

func decodeToolInput(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return map[string]any{"_raw": raw}
	}
	if input == nil {
		input = map[string]any{}
	}
	return input
}

// convertMessages maps llm messages to the wire format and lifts system
// messages into the separate system prompt.
func convertMessages(messages []llm.Message) ([]wireMessage, string) {
	var (
		out    []wireMessage
		system []string
	)
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if t := strings.TrimSpace(m.Text()); t != "" {
				system = append(system, t)
			}
			continue
		}
		content := convertParts(m.Parts)
		if len(content) == 0 {
			continue
		}
		role := string(m.Role)
		if role != string(llm.RoleAssistant) {
			role = string(llm.RoleUser)
		}
		out = append(out, wireMessage{Role: role, Content: content})
	}
	return out, strings.Join(system, "\n\n")
}

func convertParts(parts []llm.Part) []wireContent {
	out := make([]wireContent, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case llm.TextPart:
			if v.Text == "" {
				continue
			}
			out = append(out, wireContent{Type: "text", Text: v.Text})
		case llm.ToolCallPart:
			input := v.Input
			if input == nil {
				input = map[string]any{}
			}
			out = append(out, wireContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input})
		case llm.ToolResultPart:
			out = append(out, wireContent{
				Type:      "tool_result",
				ToolUseID: v.CallID,
				Content:   convertParts(v.Content),
				IsError:   v.IsError,
			})
		case llm.DataPart:
			if !strings.HasPrefix(v.MIMEType, "image/") {
				out = append(out, wireContent{Type: "text", Text: fmt.Sprintf("[%s content, %d bytes]", v.MIMEType, len(v.Data))})
				continue
			}
			out = append(out, wireContent{
				Type:   "image",
				Source: &wireSource{Type: "base64", MediaType: v.MIMEType, Data: v.Data},
			})
		}
	}
	return out
}

func convertTools(specs []llm.ToolSpec) []wireTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(specs))
	for _, spec := range specs {
		schema := spec.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, wireTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return out
}
