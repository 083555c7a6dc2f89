package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/durableswarm/durableswarm/model"
	"github.com/durableswarm/durableswarm/swarm"
)

type (
	// ToolInput is the payload handed to a tool child workflow bound via
	// BindToolWorkflow.
	ToolInput struct {
		// Name is the tool being invoked.
		Name string `json:"name"`

		// CallID is the provider-assigned tool call identifier.
		CallID string `json:"call_id"`

		// Arguments holds the raw JSON arguments generated by the model.
		Arguments string `json:"arguments"`

		// ContextVariables is the conversation's shared state at call time.
		ContextVariables map[string]any `json:"context_variables,omitempty"`
	}

	// ToolOutput is the result a tool child workflow returns. It mirrors
	// swarm.Result so workflow tools and plain function tools are
	// interchangeable from the loop's perspective.
	ToolOutput struct {
		Value            string         `json:"value"`
		ContextVariables map[string]any `json:"context_variables,omitempty"`
		NextAgent        string         `json:"next_agent,omitempty"`
	}
)

// Args decodes the raw JSON arguments into a map. Returns an empty map when
// the model supplied no arguments.
func (in *ToolInput) Args() (map[string]any, error) {
	if in.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(in.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode tool %s arguments: %w", in.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// runWorkflow is the registered conversation workflow. It runs the shared
// orchestration loop with a stepper that executes every step as an activity
// (or child workflow), so the loop's progress is checkpointed in workflow
// history and replays deterministically after an interruption.
func (r *Runtime) runWorkflow(wctx workflow.Context, req *swarm.RunRequest) (*swarm.Response, error) {
	info := workflow.GetInfo(wctx)
	workflow.GetLogger(wctx).Info("conversation started",
		"invocation_id", info.WorkflowExecution.ID, "agent", req.Agent)
	st := &workflowStepper{runtime: r, ctx: wctx}
	// The loop only forwards this context to the stepper, which schedules all
	// work through the deterministic workflow context instead.
	resp, err := swarm.RunLoop(context.Background(), st, req)
	if err != nil {
		return nil, err
	}
	workflow.GetLogger(wctx).Info("conversation completed",
		"invocation_id", info.WorkflowExecution.ID, "messages", len(resp.Messages))
	return resp, nil
}

// workflowStepper implements swarm.Stepper inside the deterministic workflow
// environment. Each step's input and output are recorded in workflow history
// before the loop proceeds; on resume, completed steps are replayed from
// storage rather than re-executed.
type workflowStepper struct {
	runtime *Runtime
	ctx     workflow.Context
}

// Completion schedules the model completion activity and blocks until its
// result is recorded.
func (s *workflowStepper) Completion(_ context.Context, in *swarm.CompletionInput) (*swarm.CompletionResult, error) {
	actx := workflow.WithActivityOptions(s.ctx, s.runtime.activityOptions())
	var out swarm.CompletionResult
	if err := workflow.ExecuteActivity(actx, ActivityCompletion, in).Get(actx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolCalls executes the requested calls one checkpoint at a time: tools bound
// to a workflow run as child workflows (stage-level checkpointing), everything
// else runs through the generic tool activity. Calls execute sequentially in
// request order; result messages preserve that order.
func (s *workflowStepper) ToolCalls(_ context.Context, in *swarm.ToolCallsInput) (*swarm.ToolCallsResult, error) {
	res := &swarm.ToolCallsResult{ContextVariables: map[string]any{}}
	for _, call := range in.Calls {
		var (
			msg     model.Message
			updates map[string]any
			next    string
			err     error
		)
		if wfName, ok := s.runtime.toolWorkflow(call.Name); ok {
			msg, updates, next, err = s.executeToolWorkflow(wfName, in, call)
		} else {
			msg, updates, next, err = s.executeToolActivity(in, call)
		}
		if err != nil {
			return nil, err
		}
		res.Messages = append(res.Messages, msg)
		for k, v := range updates {
			res.ContextVariables[k] = v
		}
		if next != "" {
			res.NextAgent = next
		}
	}
	return res, nil
}

func (s *workflowStepper) executeToolActivity(in *swarm.ToolCallsInput, call model.ToolCall) (model.Message, map[string]any, string, error) {
	actx := workflow.WithActivityOptions(s.ctx, s.runtime.activityOptions())
	single := &swarm.ToolCallsInput{
		Agent:            in.Agent,
		Calls:            []model.ToolCall{call},
		ContextVariables: in.ContextVariables,
	}
	var out swarm.ToolCallsResult
	if err := workflow.ExecuteActivity(actx, ActivityExecuteTool, single).Get(actx, &out); err != nil {
		return model.Message{}, nil, "", err
	}
	if len(out.Messages) == 0 {
		return model.Message{}, nil, "", fmt.Errorf("tool activity %s returned no message", call.Name)
	}
	return out.Messages[0], out.ContextVariables, out.NextAgent, nil
}

// executeToolWorkflow validates the call against the agent's tool schema the
// same way the direct path does, so both substrates report unknown tools and
// schema violations back to the model instead of launching the workflow.
func (s *workflowStepper) executeToolWorkflow(wfName string, in *swarm.ToolCallsInput, call model.ToolCall) (model.Message, map[string]any, string, error) {
	agent, err := s.runtime.registry.Lookup(in.Agent)
	if err != nil {
		return model.Message{}, nil, "", err
	}
	fn := agent.Function(call.Name)
	if fn == nil {
		return toolMessage(call, fmt.Sprintf("Error: tool %q not found.", call.Name)), nil, "", nil
	}
	input := &ToolInput{
		Name:             call.Name,
		CallID:           call.ID,
		Arguments:        call.Arguments,
		ContextVariables: in.ContextVariables,
	}
	args, err := input.Args()
	if err != nil {
		return toolMessage(call, fmt.Sprintf("Error: invalid arguments: %v", err)), nil, "", nil
	}
	if err := fn.ValidateArgs(args); err != nil {
		return toolMessage(call, fmt.Sprintf("Error: %v", err)), nil, "", nil
	}
	info := workflow.GetInfo(s.ctx)
	cctx := workflow.WithChildOptions(s.ctx, workflow.ChildWorkflowOptions{
		WorkflowID: info.WorkflowExecution.ID + "/" + call.ID,
		TaskQueue:  s.runtime.taskQueue,
	})
	var out ToolOutput
	if err := workflow.ExecuteChildWorkflow(cctx, wfName, input).Get(cctx, &out); err != nil {
		return model.Message{}, nil, "", fmt.Errorf("tool workflow %s: %w", call.Name, err)
	}
	return toolMessage(call, out.Value), out.ContextVariables, out.NextAgent, nil
}

func toolMessage(call model.ToolCall, content string) model.Message {
	return model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// completionActivity delegates to the direct swarm client. Its result is
// durably recorded by the engine before the workflow advances.
func (r *Runtime) completionActivity(ctx context.Context, in *swarm.CompletionInput) (*swarm.CompletionResult, error) {
	return r.core.Completion(ctx, in)
}

// executeToolActivity delegates a single tool call to the direct swarm
// client. Handlers that reach external systems must be idempotent: the engine
// may retry an attempt that failed mid-step (see DESIGN.md).
func (r *Runtime) executeToolActivity(ctx context.Context, in *swarm.ToolCallsInput) (*swarm.ToolCallsResult, error) {
	return r.core.ToolCalls(ctx, in)
}

func (r *Runtime) toolWorkflow(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.toolWorkflows[name]
	return wf, ok
}

func (r *Runtime) activityOptions() workflow.ActivityOptions {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: r.activityTimeout,
		TaskQueue:           r.taskQueue,
	}
	if r.retryPolicy != nil {
		opts.RetryPolicy = r.retryPolicy
	}
	return opts
}
