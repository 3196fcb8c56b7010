package model

import "github.com/voicewire/relay/tool"

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ToolChoice controls whether the model may call tools on a request.
type ToolChoice string

// Tool choice modes. Empty means the field is omitted from the request.
const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolID    string     `json:"tool_id,omitempty"`    // set on tool-result turns
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // set on assistant turns that called tools
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-result message for the given tool call id.
func NewToolMessage(toolID, content string) Message {
	return Message{Role: RoleTool, ToolID: toolID, Content: content}
}

// ToolCall represents a call to a tool in a model response.
type ToolCall struct {
	// Type of the tool. Currently only "function" is produced.
	Type string `json:"type"`
	// Function carries the tool name and json-encoded arguments.
	Function FunctionCall `json:"function,omitempty"`
	// ID is the tool call id returned by the model.
	ID string `json:"id,omitempty"`
	// Index is the position of the call within the streaming message; tool
	// call fragments are accumulated by this index.
	Index *int `json:"index,omitempty"`
}

// FunctionCall is the function portion of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments []byte `json:"arguments,omitempty"`
}

// GenerationConfig contains generation parameters.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`
}

// Request is the request to the model.
type Request struct {
	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	// Tools is the schema list offered to the model. Not serialized here;
	// each backend converts it to its own wire format.
	Tools []*tool.Declaration `json:"-"`

	// ToolChoice selects the tool-choice mode; empty omits the field.
	ToolChoice ToolChoice `json:"tool_choice,omitempty"`
}
