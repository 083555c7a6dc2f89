package swarm

import (
	"context"
	"strings"
	"testing"

	"github.com/durableswarm/durableswarm/model"
)

// stubModel returns scripted responses and records the requests it sees.
type stubModel struct {
	responses []*model.Response
	requests  []*model.Request
}

func (s *stubModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &model.Response{}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func newTestClient(t *testing.T, models model.Client, agents ...*Agent) *Client {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(agents...); err != nil {
		t.Fatalf("register agents: %v", err)
	}
	c, err := NewClient(models, registry)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestCompletionPrependsInstructions(t *testing.T) {
	models := &stubModel{responses: []*model.Response{
		{Message: model.Message{Content: "hello"}},
	}}
	agent := &Agent{
		Name:         "Helper",
		Model:        "gpt-test",
		Instructions: "Be helpful.",
		Functions:    []*Function{{Name: "noop"}},
	}
	c := newTestClient(t, models, agent)

	out, err := c.Completion(context.Background(), &CompletionInput{
		Agent:    "Helper",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if out.Message.Content != "hello" {
		t.Errorf("got content %q, want hello", out.Message.Content)
	}
	req := models.requests[0]
	if req.Model != "gpt-test" {
		t.Errorf("got model %q, want gpt-test", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != model.RoleSystem {
		t.Fatalf("expected system message first, got %+v", req.Messages)
	}
	if req.Messages[0].Content != "Be helpful." {
		t.Errorf("system content = %q", req.Messages[0].Content)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "noop" {
		t.Errorf("tools = %+v, want the agent's functions", req.Tools)
	}
}

func TestCompletionDynamicInstructions(t *testing.T) {
	models := &stubModel{responses: []*model.Response{{}}}
	agent := &Agent{
		Name: "Helper",
		InstructionsFunc: func(cv map[string]any) string {
			name, _ := cv["user_name"].(string)
			return "Help " + name + "."
		},
	}
	c := newTestClient(t, models, agent)

	if _, err := c.Completion(context.Background(), &CompletionInput{
		Agent:            "Helper",
		ContextVariables: map[string]any{"user_name": "Max"},
	}); err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if got := models.requests[0].Messages[0].Content; got != "Help Max." {
		t.Errorf("system content = %q, want Help Max.", got)
	}
}

func TestCompletionUnknownAgent(t *testing.T) {
	c := newTestClient(t, &stubModel{}, &Agent{Name: "Helper"})
	if _, err := c.Completion(context.Background(), &CompletionInput{Agent: "Ghost"}); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestToolCallsDispatch(t *testing.T) {
	var gotArgs map[string]any
	agent := &Agent{
		Name: "Helper",
		Functions: []*Function{{
			Name: "greet",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"name": map[string]any{"type": "string"}},
				"required":   []any{"name"},
			},
			Handler: func(_ context.Context, args, _ map[string]any) (*Result, error) {
				gotArgs = args
				return &Result{Value: "Hi, Max!"}, nil
			},
		}},
	}
	c := newTestClient(t, &stubModel{}, agent)

	res, err := c.ToolCalls(context.Background(), &ToolCallsInput{
		Agent: "Helper",
		Calls: []model.ToolCall{{ID: "c1", Name: "greet", Arguments: `{"name":"Max"}`}},
	})
	if err != nil {
		t.Fatalf("ToolCalls: %v", err)
	}
	if gotArgs["name"] != "Max" {
		t.Errorf("handler args = %v", gotArgs)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	msg := res.Messages[0]
	if msg.Role != model.RoleTool || msg.Content != "Hi, Max!" {
		t.Errorf("tool message = %+v", msg)
	}
	if msg.ToolCallID != "c1" || msg.ToolName != "greet" {
		t.Errorf("tool message ids = %q/%q", msg.ToolCallID, msg.ToolName)
	}
}

func TestToolCallsUnknownToolReportsToModel(t *testing.T) {
	c := newTestClient(t, &stubModel{}, &Agent{Name: "Helper"})
	res, err := c.ToolCalls(context.Background(), &ToolCallsInput{
		Agent: "Helper",
		Calls: []model.ToolCall{{ID: "c1", Name: "missing"}},
	})
	if err != nil {
		t.Fatalf("ToolCalls: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if !strings.Contains(res.Messages[0].Content, "not found") {
		t.Errorf("content = %q, want a not-found report", res.Messages[0].Content)
	}
}

func TestToolCallsSchemaViolationReportsToModel(t *testing.T) {
	called := false
	agent := &Agent{
		Name: "Helper",
		Functions: []*Function{{
			Name: "strict",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"n": map[string]any{"type": "integer"}},
				"required":   []any{"n"},
			},
			Handler: func(_ context.Context, _, _ map[string]any) (*Result, error) {
				called = true
				return &Result{}, nil
			},
		}},
	}
	c := newTestClient(t, &stubModel{}, agent)

	res, err := c.ToolCalls(context.Background(), &ToolCallsInput{
		Agent: "Helper",
		Calls: []model.ToolCall{{ID: "c1", Name: "strict", Arguments: `{}`}},
	})
	if err != nil {
		t.Fatalf("ToolCalls: %v", err)
	}
	if called {
		t.Error("handler ran despite schema violation")
	}
	if !strings.HasPrefix(res.Messages[0].Content, "Error:") {
		t.Errorf("content = %q, want an error report", res.Messages[0].Content)
	}
}

func TestToolCallsHandlerErrorFailsStep(t *testing.T) {
	agent := &Agent{
		Name: "Helper",
		Functions: []*Function{{
			Name: "boom",
			Handler: func(_ context.Context, _, _ map[string]any) (*Result, error) {
				return nil, context.DeadlineExceeded
			},
		}},
	}
	c := newTestClient(t, &stubModel{}, agent)

	if _, err := c.ToolCalls(context.Background(), &ToolCallsInput{
		Agent: "Helper",
		Calls: []model.ToolCall{{ID: "c1", Name: "boom"}},
	}); err == nil {
		t.Fatal("expected handler error to fail the step")
	}
}

func TestToolCallsLastHandoffWins(t *testing.T) {
	handoff := func(target string) *Function {
		return &Function{
			Name: "to_" + target,
			Handler: func(_ context.Context, _, _ map[string]any) (*Result, error) {
				return &Result{Value: "ok", Agent: target}, nil
			},
		}
	}
	agent := &Agent{Name: "Triage", Functions: []*Function{handoff("A"), handoff("B")}}
	c := newTestClient(t, &stubModel{}, agent)

	res, err := c.ToolCalls(context.Background(), &ToolCallsInput{
		Agent: "Triage",
		Calls: []model.ToolCall{
			{ID: "c1", Name: "to_A"},
			{ID: "c2", Name: "to_B"},
		},
	})
	if err != nil {
		t.Fatalf("ToolCalls: %v", err)
	}
	if res.NextAgent != "B" {
		t.Errorf("NextAgent = %q, want B", res.NextAgent)
	}
	if len(res.Messages) != 2 {
		t.Errorf("got %d messages, want one per call", len(res.Messages))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Agent{Name: "A"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&Agent{Name: "A"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := r.Register(&Agent{}); err == nil {
		t.Fatal("expected empty name to fail")
	}
}
