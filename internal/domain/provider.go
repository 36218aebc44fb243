package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider is the stateful response API the bridge talks to.
type Provider interface {
	Name() string
	CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error)
	UploadFile(ctx context.Context, file FileUpload) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	Close()
}

// FileUpload describes bytes pushed to the provider's file store.
type FileUpload struct {
	Name     string
	MimeType string
	Purpose  string
	Data     []byte
}

type ResponseRequest struct {
	Model              string       `json:"model"`
	Instructions       string       `json:"instructions,omitempty"`
	PreviousResponseID string       `json:"previous_response_id,omitempty"`
	Input              []InputItem  `json:"input"`
	Tools              []ToolSpec   `json:"tools,omitempty"`
	Text               *TextOptions `json:"text,omitempty"`
	Include            []string     `json:"include,omitempty"`
	Temperature        *float64     `json:"temperature,omitempty"`
	MaxOutputTokens    *int         `json:"max_output_tokens,omitempty"`
	Reasoning          *Reasoning   `json:"reasoning,omitempty"`
}

// InputItem is either a role message or a function call output.
type InputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  *string       `json:"output,omitempty"`
}

// UserMessage wraps content parts into a single user input item.
func UserMessage(parts []ContentPart) InputItem {
	return InputItem{Type: "message", Role: "user", Content: parts}
}

// FunctionCallOutput returns the result item for a tool call. The output is
// always serialized, even when empty.
func FunctionCallOutput(callID, output string) InputItem {
	return InputItem{Type: "function_call_output", CallID: callID, Output: &output}
}

const (
	PartInputText  = "input_text"
	PartInputImage = "input_image"
)

type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type ToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      *bool          `json:"strict,omitempty"`
}

type TextOptions struct {
	Format TextFormat `json:"format"`
}

type TextFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

type Reasoning struct {
	Effort string `json:"effort"`
}

type Response struct {
	ID         string       `json:"id"`
	Status     string       `json:"status,omitempty"`
	Model      string       `json:"model,omitempty"`
	Output     []OutputItem `json:"output"`
	OutputText string       `json:"output_text,omitempty"`
	Usage      *Usage       `json:"usage,omitempty"`

	// Raw is the undecoded body, kept for diagnostics.
	Raw json.RawMessage `json:"-"`
}

type OutputItem struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   []OutputContent `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
}

type OutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Text consolidates the assistant text of a response.
func (r *Response) Text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var sb strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// ToolCalls returns the function calls the model requested, in output order.
func (r *Response) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, item := range r.Output {
		if item.Type != "function_call" {
			continue
		}
		calls = append(calls, ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
	}
	return calls
}
