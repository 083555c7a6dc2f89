package swarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/durableswarm/durableswarm/model"
)

// DefaultMaxTurns bounds a run when RunRequest.MaxTurns is zero. Counted in
// messages appended to the history, matching the loop's termination check.
const DefaultMaxTurns = 20

type (
	// Stepper is the seam between the orchestration loop and its execution
	// substrate. The direct Client implements both methods in-process; the
	// durable runtime implements them as individually checkpointed activities
	// so a resumed run replays completed steps from storage instead of
	// recomputing them.
	Stepper interface {
		// Completion requests one model completion for the active agent.
		Completion(ctx context.Context, in *CompletionInput) (*CompletionResult, error)

		// ToolCalls executes the tool calls requested by an assistant turn and
		// returns the tool messages plus any state updates and handoff.
		ToolCalls(ctx context.Context, in *ToolCallsInput) (*ToolCallsResult, error)
	}

	// CompletionInput carries everything a completion step needs. All fields
	// serialize to JSON so the input can cross an activity boundary.
	CompletionInput struct {
		Agent            string          `json:"agent"`
		Messages         []model.Message `json:"messages"`
		ContextVariables map[string]any  `json:"context_variables,omitempty"`
	}

	// CompletionResult is the checkpointed output of a completion step.
	CompletionResult struct {
		Message model.Message    `json:"message"`
		Usage   model.TokenUsage `json:"usage"`
	}

	// ToolCallsInput carries one assistant turn's worth of tool calls.
	ToolCallsInput struct {
		Agent            string           `json:"agent"`
		Calls            []model.ToolCall `json:"calls"`
		ContextVariables map[string]any   `json:"context_variables,omitempty"`
	}

	// ToolCallsResult is the checkpointed output of a tool step: one RoleTool
	// message per call, in call order.
	ToolCallsResult struct {
		Messages         []model.Message `json:"messages"`
		ContextVariables map[string]any  `json:"context_variables,omitempty"`

		// NextAgent names the agent the conversation hands off to, empty when
		// no tool requested a handoff.
		NextAgent string `json:"next_agent,omitempty"`
	}

	// RunRequest describes one run of the orchestration loop.
	RunRequest struct {
		// Agent names the initially active agent. Required.
		Agent string `json:"agent"`

		// Messages is the conversation history so far, ending with the user
		// input that triggered the run.
		Messages []model.Message `json:"messages"`

		// ContextVariables seeds the conversation's shared state.
		ContextVariables map[string]any `json:"context_variables,omitempty"`

		// MaxTurns caps the number of messages the run may append. Zero means
		// DefaultMaxTurns.
		MaxTurns int `json:"max_turns,omitempty"`
	}
)

// RunLoop drives a conversation to completion over the given Stepper: request
// a completion for the active agent, append the assistant turn, and if it
// requested tool calls execute them, merge state updates, apply any handoff,
// and repeat. The loop ends when an assistant turn requests no tools or the
// turn budget is exhausted.
//
// The loop itself performs no I/O; every side effect lives behind the Stepper,
// which is what makes the same code runnable inside a deterministic workflow.
func RunLoop(ctx context.Context, step Stepper, req *RunRequest) (*Response, error) {
	if req == nil || req.Agent == "" {
		return nil, errors.New("swarm: run request must name an agent")
	}
	history := append([]model.Message(nil), req.Messages...)
	initLen := len(history)
	active := req.Agent
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	contextVariables := make(map[string]any, len(req.ContextVariables))
	for k, v := range req.ContextVariables {
		contextVariables[k] = v
	}

	for len(history)-initLen < maxTurns {
		out, err := step.Completion(ctx, &CompletionInput{
			Agent:            active,
			Messages:         history,
			ContextVariables: contextVariables,
		})
		if err != nil {
			return nil, fmt.Errorf("swarm: completion step for %s: %w", active, err)
		}
		msg := out.Message
		msg.Role = model.RoleAssistant
		msg.Sender = active
		history = append(history, msg)
		if len(msg.ToolCalls) == 0 {
			break
		}

		res, err := step.ToolCalls(ctx, &ToolCallsInput{
			Agent:            active,
			Calls:            msg.ToolCalls,
			ContextVariables: contextVariables,
		})
		if err != nil {
			return nil, fmt.Errorf("swarm: tool step for %s: %w", active, err)
		}
		history = append(history, res.Messages...)
		for k, v := range res.ContextVariables {
			contextVariables[k] = v
		}
		if res.NextAgent != "" {
			active = res.NextAgent
		}
	}

	return &Response{
		Messages:         history[initLen:],
		Agent:            active,
		ContextVariables: contextVariables,
	}, nil
}
