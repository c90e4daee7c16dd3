package pollinations

import "fmt"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by the service.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

type ChatMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
}

// Tool is a function definition the model may choose to call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a structured request by the model to invoke a tool. In
// streaming responses the Arguments string arrives in fragments spread
// across several chunks.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatRequest enumerates every generation option the service recognizes.
// Numeric ranges are passed through unvalidated; the server is authoritative.
type ChatRequest struct {
	Model           string        `json:"model,omitempty"`
	Messages        []ChatMessage `json:"messages"`
	Temperature     float64       `json:"temperature,omitempty"`
	TopP            float64       `json:"top_p,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	Seed            *int64        `json:"seed,omitempty"`
	Stream          bool          `json:"stream,omitempty"`
	JSONMode        bool          `json:"-"`
	Tools           []Tool        `json:"tools,omitempty"`
	ToolChoice      any           `json:"tool_choice,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// Validate checks required fields only. Sampling parameters are deliberately
// not range-checked here.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ConfigurationError{Field: "messages", Reason: "at least one message is required"}
	}
	for i, m := range r.Messages {
		if m.Content == "" && len(m.ToolCalls) == 0 && m.Role != RoleSystem {
			return &ConfigurationError{
				Field:  "messages",
				Reason: fmt.Sprintf("content is required for messages[%d]", i),
			}
		}
	}
	return nil
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is a fully materialized, non-streaming response.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Delta is the incremental content carried by one streamed chunk. Role is
// set only on the first chunk of a stream.
type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChatChunk is one increment of a streaming response. Exactly one chunk in
// a completed stream carries a finish reason, and it is the last chunk.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// FinishReason returns the finish reason carried by this chunk, or "".
func (c *ChatChunk) FinishReason() string {
	for _, ch := range c.Choices {
		if ch.FinishReason != "" {
			return ch.FinishReason
		}
	}
	return ""
}

// StreamResult is one pull from a streaming call: either a chunk or a
// terminal error, never both.
type StreamResult struct {
	Chunk *ChatChunk
	Err   error
}

// TextParams holds the options of the native text-generation surface.
// The zero value is usable; nil is accepted everywhere a *TextParams is taken.
type TextParams struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Seed        *int64
	JSONMode    bool
}

// TextModel describes one entry of the text model listing.
type TextModel struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Vision      bool     `json:"vision,omitempty"`
	Audio       bool     `json:"audio,omitempty"`
	Reasoning   bool     `json:"reasoning,omitempty"`
	Tools       bool     `json:"tools,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}
