// Package model defines a provider-agnostic abstraction over chat completion
// APIs so the agent loop can invoke models without coupling to specific SDKs.
// Implementations translate these normalized types into provider-specific
// formats (OpenAI, Anthropic).
//
// All types round-trip through JSON: conversation histories cross activity
// boundaries in the durable runtime and must serialize losslessly.
package model

import (
	"context"
	"errors"
)

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type (
	// Client is the contract the agent loop uses to request completions.
	// Implementations wrap provider SDKs and must be safe for concurrent use.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. Returns an error if the provider is unavailable, quota is
		// exceeded, or the request is malformed.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier. Empty means use the
		// client's configured default.
		Model string `json:"model,omitempty"`

		// Messages is the ordered conversation history, including system
		// instructions, user inputs, assistant turns and tool results.
		Messages []Message `json:"messages"`

		// Tools describes the tool schemas exposed to the model for function
		// calling. Empty disables tool use.
		Tools []*ToolDefinition `json:"tools,omitempty"`

		// ToolChoice controls tool selection: "" or "auto" (provider default),
		// "none", or the name of a specific tool to force.
		ToolChoice string `json:"tool_choice,omitempty"`

		// Temperature controls sampling temperature. Zero means provider default.
		Temperature float32 `json:"temperature,omitempty"`

		// MaxTokens caps completion tokens. Zero means the client default.
		MaxTokens int `json:"max_tokens,omitempty"`
	}

	// Response wraps the assistant turn generated by the provider. The loop
	// only ever consumes the first choice, so adapters collapse multi-choice
	// responses to a single message.
	Response struct {
		// Message is the assistant message, including any requested tool calls.
		Message Message `json:"message"`

		// Usage reports token usage when the provider makes it available.
		Usage TokenUsage `json:"usage"`

		// StopReason explains why generation stopped. Values are
		// provider-specific ("stop", "tool_calls", "max_tokens", ...).
		StopReason string `json:"stop_reason,omitempty"`
	}

	// Message mirrors a chat message. Tool-call requests ride on assistant
	// messages; tool results are messages with RoleTool and a ToolCallID that
	// correlates them back to the originating call.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content,omitempty"`

		// Sender names the agent that produced an assistant message. Providers
		// ignore it; the demo printer uses it to attribute turns.
		Sender string `json:"sender,omitempty"`

		// ToolCalls lists tool invocations requested by an assistant message.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`

		// ToolCallID correlates a RoleTool message with the call it answers.
		ToolCallID string `json:"tool_call_id,omitempty"`

		// ToolName is the tool that produced a RoleTool message.
		ToolName string `json:"tool_name,omitempty"`
	}

	// ToolCall captures a single tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider-assigned call identifier, echoed back in the
		// corresponding tool result message.
		ID string `json:"id"`

		// Name identifies the tool to invoke.
		Name string `json:"name"`

		// Arguments holds the raw JSON arguments generated by the model.
		Arguments string `json:"arguments"`
	}

	// ToolDefinition describes a tool schema passed to providers for function
	// calling.
	ToolDefinition struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`

		// Parameters is the JSON Schema object describing the tool input.
		Parameters map[string]any `json:"parameters,omitempty"`
	}

	// TokenUsage records prompt/completion token counts when reported.
	TokenUsage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}
)

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Adapters wrap provider errors with this sentinel so callers can
// detect the condition with errors.Is.
var ErrRateLimited = errors.New("model: rate limited")
