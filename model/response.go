package model

// Object type constants for the Response.Object field.
const (
	ObjectTypeError               = "error"
	ObjectTypeChatCompletion      = "chat.completion"
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
)

// Finish reason values reported by completion backends.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// Choice represents a single completion choice.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`

	// Message is the full message content; set on the final response.
	Message Message `json:"message,omitempty"`

	// Delta is the incremental content; set on partial responses.
	Delta Message `json:"delta,omitempty"`

	// FinishReason is the reason the choice finished ("stop", "length",
	// "tool_calls"). Nil while the stream is still running.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError is an API-level error delivered through the response channel.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// Error type constants for ResponseError.Type.
const (
	ErrorTypeStream = "stream_error"
	ErrorTypeAPI    = "api_error"
)

// Response is one element of a model's response stream. Partial responses
// carry deltas; the final response carries the accumulated message, the
// finish reason and, when available, usage.
type Response struct {
	// ID is the backend's identifier for this completion.
	ID string `json:"id"`

	// Object describes the payload kind ("chat.completion.chunk" for
	// partials, "chat.completion" for the final response).
	Object string `json:"object"`

	// Created is the Unix timestamp the backend reported.
	Created int64 `json:"created"`

	// Model is the model that produced the response.
	Model string `json:"model"`

	// Choices contains the completion choices.
	Choices []Choice `json:"choices"`

	// Usage contains token usage; nil on partial responses.
	Usage *Usage `json:"usage,omitempty"`

	// Error is an API-level error; see the Model interface docs.
	Error *ResponseError `json:"error,omitempty"`

	// IsPartial is true for streaming deltas.
	IsPartial bool `json:"is_partial,omitempty"`

	// Done is true on the terminal element of the stream.
	Done bool `json:"done,omitempty"`
}

// TextDelta returns the incremental text carried by a partial response.
func (rsp *Response) TextDelta() string {
	if rsp == nil || len(rsp.Choices) == 0 {
		return ""
	}
	return rsp.Choices[0].Delta.Content
}

// ToolCalls returns the accumulated tool calls on a final response.
func (rsp *Response) ToolCalls() []ToolCall {
	if rsp == nil || len(rsp.Choices) == 0 {
		return nil
	}
	return rsp.Choices[0].Message.ToolCalls
}

// HasToolCalls reports whether the final response requested any tool calls.
func (rsp *Response) HasToolCalls() bool {
	return len(rsp.ToolCalls()) > 0
}
