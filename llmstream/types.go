package llmstream

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind is the discriminator tag for Part.
type PartKind string

const (
	PartText             PartKind = "text"
	PartBlob             PartKind = "blob"
	PartResource         PartKind = "resource"
	PartInvocation       PartKind = "invocation"
	PartInvocationResult PartKind = "invocation_result"
)

// BlobData holds inline binary content, typically a small attachment.
type BlobData struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type"`
	Name      string `json:"name,omitempty"`
}

// ResourceRef points at pre-uploaded content passed by reference.
type ResourceRef struct {
	URI       string `json:"uri"`
	MediaType string `json:"media_type,omitempty"`
	Name      string `json:"name,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// InvocationData is a capability invocation emitted by the model.
type InvocationData struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Arguments  json.RawMessage `json:"arguments"`
}

// InvocationResultData carries a capability result back to the model.
type InvocationResultData struct {
	InvocationID string          `json:"invocation_id"`
	Content      json.RawMessage `json:"content"`
	IsError      bool            `json:"is_error"`
}

// Part is a tagged union representing one part of a message.
type Part struct {
	Kind             PartKind              `json:"kind"`
	Text             string                `json:"text,omitempty"`
	Blob             *BlobData             `json:"blob,omitempty"`
	Resource         *ResourceRef          `json:"resource,omitempty"`
	Invocation       *InvocationData       `json:"invocation,omitempty"`
	InvocationResult *InvocationResultData `json:"invocation_result,omitempty"`
}

// TextPart creates a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// BlobPart creates an inline binary Part.
func BlobPart(data []byte, mediaType, name string) Part {
	return Part{Kind: PartBlob, Blob: &BlobData{Data: data, MediaType: mediaType, Name: name}}
}

// ResourcePart creates a by-reference attachment Part.
func ResourcePart(uri, mediaType, name string, size int64) Part {
	return Part{
		Kind:     PartResource,
		Resource: &ResourceRef{URI: uri, MediaType: mediaType, Name: name, SizeBytes: size},
	}
}

// InvocationPart creates an invocation-request Part.
func InvocationPart(id, capability string, args json.RawMessage) Part {
	return Part{
		Kind:       PartInvocation,
		Invocation: &InvocationData{ID: id, Capability: capability, Arguments: args},
	}
}

// InvocationResultPart creates an invocation-result Part.
func InvocationResultPart(invocationID string, content json.RawMessage, isError bool) Part {
	return Part{
		Kind: PartInvocationResult,
		InvocationResult: &InvocationResultData{
			InvocationID: invocationID,
			Content:      content,
			IsError:      isError,
		},
	}
}

// Message is one role-tagged unit of conversation content.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextContent returns the concatenation of all text parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if part.Kind == PartText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// ResultMessage creates a tool-role Message carrying one invocation result.
func ResultMessage(invocationID string, content string, isError bool) Message {
	raw, _ := json.Marshal(content)
	return Message{
		Role:  RoleTool,
		Parts: []Part{InvocationResultPart(invocationID, raw, isError)},
	}
}

// ToolDef describes one invocable capability to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Usage tracks token consumption for a single reasoning call.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	OutputTokens   int `json:"output_tokens"`
	ThoughtsTokens int `json:"thoughts_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:   u.PromptTokens + other.PromptTokens,
		OutputTokens:   u.OutputTokens + other.OutputTokens,
		ThoughtsTokens: u.ThoughtsTokens + other.ThoughtsTokens,
		TotalTokens:    u.TotalTokens + other.TotalTokens,
	}
}

// Request is the input to a streaming reasoning call.
type Request struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Manifest          []ToolDef `json:"manifest,omitempty"`
	DeliberationDepth string    `json:"deliberation_depth,omitempty"` // "low", "medium", "high", or ""
	Provider          string    `json:"provider,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	MaxTokens         *int      `json:"max_tokens,omitempty"`
}

// InvocationRequest is a capability call extracted from a model response.
type InvocationRequest struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Arguments  json.RawMessage `json:"arguments"`
}

// Response is the settled form of one reasoning call.
type Response struct {
	ID           string              `json:"id"`
	Model        string              `json:"model"`
	Provider     string              `json:"provider"`
	Text         string              `json:"text"`
	Invocations  []InvocationRequest `json:"invocations,omitempty"`
	Usage        Usage               `json:"usage"`
	FinishReason string              `json:"finish_reason"` // "stop", "invocations", "length", "error"
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamStart      StreamEventType = "stream_start"
	StreamTextDelta  StreamEventType = "text_delta"
	StreamInvocation StreamEventType = "invocation"
	StreamUsage      StreamEventType = "usage"
	StreamFinish     StreamEventType = "finish"
	StreamError      StreamEventType = "error"
)

// StreamEvent is a single event from a streaming response.
type StreamEvent struct {
	Type       StreamEventType    `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Invocation *InvocationRequest `json:"invocation,omitempty"`
	Usage      *Usage             `json:"usage,omitempty"`
	Response   *Response          `json:"response,omitempty"`
	Err        error              `json:"-"`
}
