// Package swarm implements a small multi-agent conversation framework: agents
// carry instructions and callable functions, and an orchestration loop
// alternates between requesting a model completion and executing the tool
// calls the model asks for, until the conversation settles or a turn budget is
// exhausted. Tool results can update shared context variables or hand the
// conversation off to another agent.
//
// The loop is expressed over the Stepper interface so the same orchestration
// logic runs either directly in-process (Client) or under a durable-execution
// engine that checkpoints each step (see the durable package).
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/durableswarm/durableswarm/model"
)

type (
	// Agent describes a conversational persona: its instructions, the model it
	// speaks through, and the functions it may call.
	Agent struct {
		// Name uniquely identifies the agent within a Registry. Tool results
		// reference handoff targets by this name.
		Name string

		// Model is the provider model identifier. Empty means the model
		// client's configured default.
		Model string

		// Instructions is the system prompt prepended to every completion
		// request. Ignored when InstructionsFunc is set.
		Instructions string

		// InstructionsFunc computes instructions from the current context
		// variables. Optional.
		InstructionsFunc func(contextVariables map[string]any) string

		// Functions lists the tools exposed to the model.
		Functions []*Function

		// ToolChoice forwards a tool selection constraint to the provider:
		// "" or "auto", "none", or a specific tool name.
		ToolChoice string
	}

	// Function is a tool an agent can call. Arguments generated by the model
	// are validated against Parameters before Handler runs.
	Function struct {
		// Name identifies the tool to the model.
		Name string

		// Description documents the tool for prompting purposes.
		Description string

		// Parameters is the JSON Schema object describing the tool arguments.
		// Nil means the tool takes no arguments and validation is skipped.
		Parameters map[string]any

		// Handler executes the tool. args holds the decoded JSON arguments and
		// contextVariables the conversation's shared state. Handlers must not
		// mutate contextVariables directly; return updates via Result.
		Handler func(ctx context.Context, args map[string]any, contextVariables map[string]any) (*Result, error)

		compileOnce sync.Once
		compiled    *jsonschema.Schema
		compileErr  error
	}

	// Result is the outcome of one tool invocation.
	Result struct {
		// Value is the textual tool output fed back to the model.
		Value string `json:"value"`

		// Agent optionally names the agent the conversation hands off to.
		Agent string `json:"agent,omitempty"`

		// ContextVariables holds updates merged into the conversation's shared
		// state after the call.
		ContextVariables map[string]any `json:"context_variables,omitempty"`
	}

	// Response is the final outcome of a run: the messages produced after the
	// caller's input, the agent left active, and the accumulated context
	// variables.
	Response struct {
		Messages         []model.Message `json:"messages"`
		Agent            string          `json:"agent"`
		ContextVariables map[string]any  `json:"context_variables,omitempty"`
	}
)

// InstructionsFor resolves the agent's system prompt for the given context
// variables.
func (a *Agent) InstructionsFor(contextVariables map[string]any) string {
	if a.InstructionsFunc != nil {
		return a.InstructionsFunc(contextVariables)
	}
	return a.Instructions
}

// ToolDefinitions renders the agent's functions as provider tool schemas.
func (a *Agent) ToolDefinitions() []*model.ToolDefinition {
	if len(a.Functions) == 0 {
		return nil
	}
	defs := make([]*model.ToolDefinition, 0, len(a.Functions))
	for _, fn := range a.Functions {
		if fn == nil {
			continue
		}
		params := fn.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, &model.ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Function lookup by tool name. Returns nil when the agent does not expose the
// tool.
func (a *Agent) Function(name string) *Function {
	for _, fn := range a.Functions {
		if fn != nil && fn.Name == name {
			return fn
		}
	}
	return nil
}

// ValidateArgs checks the decoded tool arguments against the function's JSON
// schema. The schema compiles lazily on first use and the compiled form is
// cached for subsequent calls.
func (f *Function) ValidateArgs(args map[string]any) error {
	if len(f.Parameters) == 0 {
		return nil
	}
	f.compileOnce.Do(func() {
		const res = "schema.json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(res, f.Parameters); err != nil {
			f.compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		f.compiled, f.compileErr = compiler.Compile(res)
	})
	if f.compileErr != nil {
		return fmt.Errorf("tool %s schema: %w", f.Name, f.compileErr)
	}
	// Validate operates on decoded JSON values; args already is one.
	doc := map[string]any{}
	for k, v := range args {
		doc[k] = v
	}
	if err := f.compiled.Validate(any(doc)); err != nil {
		return fmt.Errorf("tool %s arguments: %w", f.Name, err)
	}
	return nil
}

// Registry resolves agents by name. The durable runtime serializes agent
// references as names across activity boundaries, so every agent reachable
// through a handoff must be registered before a run starts.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry returns an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds agents to the registry. Registering an empty or duplicate
// name is an error.
func (r *Registry) Register(agents ...*Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		if a == nil || a.Name == "" {
			return errors.New("swarm: agent name is required")
		}
		if _, exists := r.agents[a.Name]; exists {
			return fmt.Errorf("swarm: agent %q already registered", a.Name)
		}
		r.agents[a.Name] = a
	}
	return nil
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("swarm: agent %q is not registered", name)
	}
	return a, nil
}
