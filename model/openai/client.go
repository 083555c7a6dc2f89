// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates normalized requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses back to the
// generic structures consumed by the agent loop.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/durableswarm/durableswarm/model"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client issues the chat completion requests. Required.
	Client ChatClient

	// DefaultModel is used when model.Request.Model is empty. Required.
	DefaultModel string

	// Limiter throttles outgoing requests. Nil disables client-side limiting
	// and relies on the provider's own rate limits.
	Limiter *rate.Limiter
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat    ChatClient
	model   string
	limiter *rate.Limiter
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, limiter: opts.Limiter}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
// A positive rps installs a client-side limiter capping requests per second;
// zero disables throttling.
func NewFromAPIKey(apiKey, defaultModel string, rps float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel, Limiter: limiter})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openai: rate limiter: %w", err)
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    encodeMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       encodeTools(req.Tools),
	}
	if choice, err := encodeToolChoice(req); err != nil {
		return nil, err
	} else if choice != nil {
		request.ToolChoice = choice
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response)
}

func encodeMessages(msgs []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == model.RoleTool {
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.ToolName
		}
		for _, call := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func encodeTools(defs []*model.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}

func encodeToolChoice(req *model.Request) (any, error) {
	switch req.ToolChoice {
	case "", "auto":
		// Provider default; omit the field.
		return nil, nil
	case "none":
		return "none", nil
	default:
		if !hasToolDefinition(req.Tools, req.ToolChoice) {
			return nil, fmt.Errorf("openai: tool choice %q does not match any tool", req.ToolChoice)
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}, nil
	}
}

func hasToolDefinition(defs []*model.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

func translateResponse(resp openai.ChatCompletionResponse) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response contains no choices")
	}
	choice := resp.Choices[0]
	msg := model.Message{
		Role:    model.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, call := range choice.Message.ToolCalls {
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		} else if !json.Valid([]byte(args)) {
			// The model occasionally emits malformed JSON; preserve it so the
			// tool layer can surface a useful error.
			raw, _ := json.Marshal(map[string]string{"raw": args})
			args = string(raw)
		}
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return &model.Response{
		Message: msg,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		StopReason: string(choice.FinishReason),
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	return strings.Contains(err.Error(), "429")
}
