package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/durableswarm/durableswarm/model"
	"github.com/durableswarm/durableswarm/telemetry"
)

// Client is the direct, in-process implementation of the orchestration loop:
// completions go straight to the model provider and tool calls run in the
// caller's goroutine. The durable runtime composes with the same Client by
// invoking its step methods from inside checkpointed activities.
type Client struct {
	models   model.Client
	registry *Registry
	logger   telemetry.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for tool dispatch diagnostics.
func WithLogger(l telemetry.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a direct swarm client over the given model provider and
// agent registry.
func NewClient(models model.Client, registry *Registry, opts ...ClientOption) (*Client, error) {
	if models == nil {
		return nil, errors.New("swarm: model client is required")
	}
	if registry == nil {
		return nil, errors.New("swarm: registry is required")
	}
	c := &Client{models: models, registry: registry, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the orchestration loop to completion in-process. Durability is
// the durable package's concern; Run provides the plain, ephemeral execution
// path.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*Response, error) {
	return RunLoop(ctx, c, req)
}

// Completion implements Stepper by requesting one chat completion from the
// model provider on behalf of the active agent.
func (c *Client) Completion(ctx context.Context, in *CompletionInput) (*CompletionResult, error) {
	agent, err := c.registry.Lookup(in.Agent)
	if err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(in.Messages)+1)
	if instructions := agent.InstructionsFor(in.ContextVariables); instructions != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: instructions})
	}
	messages = append(messages, in.Messages...)

	resp, err := c.models.Complete(ctx, &model.Request{
		Model:      agent.Model,
		Messages:   messages,
		Tools:      agent.ToolDefinitions(),
		ToolChoice: agent.ToolChoice,
	})
	if err != nil {
		return nil, fmt.Errorf("get chat completion for %s: %w", agent.Name, err)
	}
	c.logger.Debug(ctx, "chat completion", "agent", agent.Name,
		"tool_calls", len(resp.Message.ToolCalls), "tokens", resp.Usage.TotalTokens)
	return &CompletionResult{Message: resp.Message, Usage: resp.Usage}, nil
}

// ToolCalls implements Stepper by dispatching each requested call to the
// active agent's functions, in call order. Unknown tools and invalid arguments
// are reported back to the model as tool results rather than failing the step;
// handler errors propagate so the execution substrate can apply its retry
// policy. When several tools request a handoff the last one wins.
func (c *Client) ToolCalls(ctx context.Context, in *ToolCallsInput) (*ToolCallsResult, error) {
	agent, err := c.registry.Lookup(in.Agent)
	if err != nil {
		return nil, err
	}
	res := &ToolCallsResult{ContextVariables: map[string]any{}}
	for _, call := range in.Calls {
		fn := agent.Function(call.Name)
		if fn == nil {
			c.logger.Warn(ctx, "tool not found", "agent", agent.Name, "tool", call.Name)
			res.Messages = append(res.Messages, toolMessage(call, fmt.Sprintf("Error: tool %q not found.", call.Name)))
			continue
		}
		args, err := decodeArgs(call.Arguments)
		if err != nil {
			res.Messages = append(res.Messages, toolMessage(call, fmt.Sprintf("Error: invalid arguments: %v", err)))
			continue
		}
		if err := fn.ValidateArgs(args); err != nil {
			res.Messages = append(res.Messages, toolMessage(call, fmt.Sprintf("Error: %v", err)))
			continue
		}
		c.logger.Info(ctx, "executing tool", "agent", agent.Name, "tool", call.Name)
		result, err := fn.Handler(ctx, args, in.ContextVariables)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", call.Name, err)
		}
		if result == nil {
			result = &Result{}
		}
		res.Messages = append(res.Messages, toolMessage(call, result.Value))
		for k, v := range result.ContextVariables {
			res.ContextVariables[k] = v
		}
		if result.Agent != "" {
			res.NextAgent = result.Agent
		}
	}
	return res, nil
}

func toolMessage(call model.ToolCall, content string) model.Message {
	return model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
