package llm

import (
	"context"
	"iter"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of message content. The set of implementations is closed:
// TextPart, ToolCallPart, ToolResultPart and DataPart.
type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

type ToolCallPart struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultPart answers the ToolCallPart with the same CallID.
type ToolResultPart struct {
	CallID  string
	Content []Part
	IsError bool
}

// DataPart carries non-text tool output such as images.
type DataPart struct {
	MIMEType string
	Data     []byte
}

func (TextPart) isPart()       {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}
func (DataPart) isPart()       {}

type Message struct {
	Role  Role
	Parts []Part
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls carried by m in order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if c, ok := p.(ToolCallPart); ok {
			out = append(out, c)
		}
	}
	return out
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// InputSchema is a JSON schema object.
	InputSchema map[string]any
}

type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Model streams one assistant turn. Text parts are yielded as they arrive;
// tool calls are yielded once their input is complete. A failure is yielded
// as a (nil, err) pair and ends the sequence.
type Model interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Part, error]
}

// ContentText joins the text parts of tool result content.
func ContentText(parts []Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if t, ok := p.(TextPart); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}
