package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/durableswarm/durableswarm/model"
)

type stubChatClient struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func newTestClient(t *testing.T, stub *stubChatClient) *Client {
	t.Helper()
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cl
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "world"},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	cl := newTestClient(t, stub)

	resp, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Content != "world" {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	if resp.Message.Role != model.RoleAssistant {
		t.Fatalf("unexpected role %q", resp.Message.Role)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if stub.lastReq.Model != "gpt-4o" {
		t.Fatalf("unexpected model %q", stub.lastReq.Model)
	}
}

func TestComplete_ToolCalls(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "process_refund",
						Arguments: `{"item_id":"item_99"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}}
	cl := newTestClient(t, stub)

	resp, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "refund item_99"}},
		Tools: []*model.ToolDefinition{{
			Name:       "process_refund",
			Parameters: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "process_refund" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.Arguments != `{"item_id":"item_99"}` {
		t.Fatalf("unexpected arguments %q", call.Arguments)
	}
	if len(stub.lastReq.Tools) != 1 || stub.lastReq.Tools[0].Function.Name != "process_refund" {
		t.Fatalf("unexpected encoded tools %+v", stub.lastReq.Tools)
	}
}

func TestComplete_MalformedToolArgumentsPreserved(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "t", Arguments: `{"broken`},
				}},
			},
		}},
	}}
	cl := newTestClient(t, stub)

	resp, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := resp.Message.ToolCalls[0].Arguments; got != `{"raw":"{\"broken"}` {
		t.Fatalf("unexpected wrapped arguments %q", got)
	}
}

func TestComplete_ToolMessageEncoding(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: "assistant", Content: "done"},
		}},
	}}
	cl := newTestClient(t, stub)

	_, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "refund item_99"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
				{ID: "call_1", Name: "process_refund", Arguments: `{}`},
			}},
			{Role: model.RoleTool, ToolCallID: "call_1", ToolName: "process_refund", Content: "Success!"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	msgs := stub.lastReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 encoded messages, got %d", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected assistant tool calls %+v", msgs[1].ToolCalls)
	}
	if msgs[2].ToolCallID != "call_1" || msgs[2].Name != "process_refund" {
		t.Fatalf("unexpected tool message %+v", msgs[2])
	}
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubChatClient{err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}}
	cl := newTestClient(t, stub)

	_, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestComplete_NamedToolChoice(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: "assistant"},
		}},
	}}
	cl := newTestClient(t, stub)

	_, err := cl.Complete(context.Background(), &model.Request{
		Messages:   []model.Message{{Role: model.RoleUser, Content: "hi"}},
		Tools:      []*model.ToolDefinition{{Name: "pick_me"}},
		ToolChoice: "pick_me",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	choice, ok := stub.lastReq.ToolChoice.(openai.ToolChoice)
	if !ok || choice.Function.Name != "pick_me" {
		t.Fatalf("unexpected tool choice %+v", stub.lastReq.ToolChoice)
	}

	if _, err := cl.Complete(context.Background(), &model.Request{
		Messages:   []model.Message{{Role: model.RoleUser, Content: "hi"}},
		ToolChoice: "ghost",
	}); err == nil {
		t.Fatal("expected error for tool choice without matching tool")
	}
}

func TestComplete_LimiterBlocksWhenExhausted(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: "assistant", Content: "ok"},
		}},
	}}
	// Burst of zero: every Wait fails without sleeping.
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o", Limiter: rate.NewLimiter(1, 0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if stub.lastReq.Model != "" {
		t.Fatal("request must not reach the provider when throttled")
	}
}

func TestComplete_LimiterHonorsCanceledContext(t *testing.T) {
	cl, err := New(Options{Client: &stubChatClient{}, DefaultModel: "gpt-4o", Limiter: rate.NewLimiter(1, 1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cl.Complete(ctx, &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestNewFromAPIKey_Limiter(t *testing.T) {
	cl, err := NewFromAPIKey("sk-test", "gpt-4o", 2)
	if err != nil {
		t.Fatalf("NewFromAPIKey: %v", err)
	}
	if cl.limiter == nil {
		t.Fatal("positive rps must install a limiter")
	}

	cl, err = NewFromAPIKey("sk-test", "gpt-4o", 0)
	if err != nil {
		t.Fatalf("NewFromAPIKey: %v", err)
	}
	if cl.limiter != nil {
		t.Fatal("zero rps must disable throttling")
	}
}

func TestComplete_NoChoices(t *testing.T) {
	cl := newTestClient(t, &stubChatClient{})
	if _, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
