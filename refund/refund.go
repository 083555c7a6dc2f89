// Package refund implements the mock refund-processing domain used to make
// interruption and resumption observable. A refund runs as a fixed sequence
// of numbered stages separated by a delay; under the durable runtime each
// stage is its own checkpoint, so killing the process after stage 3 and
// restarting resumes at stage 4.
package refund

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/durableswarm/durableswarm/durable"
	"github.com/durableswarm/durableswarm/swarm"
	"github.com/durableswarm/durableswarm/telemetry"
)

// Registered workflow/activity names for the refund tool.
const (
	// WorkflowName is the child workflow bound to the process_refund tool.
	WorkflowName = "refund.process"
	// StageActivityName executes one numbered refund stage.
	StageActivityName = "refund.stage"
)

const (
	// Stages is the number of sub-steps a mock refund runs through.
	Stages = 5

	// StageDelay separates consecutive stages. Long enough to interrupt the
	// process mid-refund by hand.
	StageDelay = time.Second

	// DiscountPercent is the discount applied after a successful refund.
	DiscountPercent = 11
)

// StageInput identifies one refund stage. Keyed by item and stage index so a
// retried attempt is distinguishable from the next stage in logs.
type StageInput struct {
	ItemID string `json:"item_id"`
	Stage  int    `json:"stage"`
}

// Processor owns the refund side effects. The same instance backs both the
// durable path (Workflow + Stage activity) and the direct in-process path
// (the tool handler on Agent).
type Processor struct {
	logger telemetry.Logger
}

// NewProcessor builds a refund processor logging through the given logger.
func NewProcessor(logger telemetry.Logger) *Processor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Processor{logger: logger}
}

// Stage performs one numbered refund stage. The demo stage only logs, which
// makes it trivially idempotent: a retried attempt re-logs the same stage but
// charges nothing. Real side effects here must be keyed by (invocation,
// stage) so a mid-step retry cannot double-apply.
func (p *Processor) Stage(ctx context.Context, in *StageInput) error {
	p.logger.Info(ctx, "processing refund", "item_id", in.ItemID,
		"stage", in.Stage+1, "of", Stages)
	return nil
}

// Workflow is the durable form of process_refund: each stage executes as an
// activity followed by a durable timer, so progress checkpoints stage by
// stage. Bound to the process_refund tool via Register.
func (p *Processor) Workflow(wctx workflow.Context, in *durable.ToolInput) (*durable.ToolOutput, error) {
	args, err := in.Args()
	if err != nil {
		return nil, err
	}
	itemID, _ := args["item_id"].(string)
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "NOT SPECIFIED"
	}
	logger := workflow.GetLogger(wctx)
	logger.Info("refund started", "item_id", itemID, "reason", reason)

	actx := workflow.WithActivityOptions(wctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})
	for stage := 0; stage < Stages; stage++ {
		if err := workflow.ExecuteActivity(actx, StageActivityName, &StageInput{
			ItemID: itemID,
			Stage:  stage,
		}).Get(actx, nil); err != nil {
			return nil, fmt.Errorf("refund stage %d: %w", stage+1, err)
		}
		if err := workflow.Sleep(wctx, StageDelay); err != nil {
			return nil, err
		}
	}
	logger.Info("refund completed", "item_id", itemID)
	return &durable.ToolOutput{Value: "Success!"}, nil
}

// processInline is the direct-path tool handler: same stages, same delays,
// executed in the caller's goroutine with no checkpointing. The durable
// runtime bypasses it once the tool is bound to Workflow.
func (p *Processor) processInline(ctx context.Context, args map[string]any, _ map[string]any) (*swarm.Result, error) {
	itemID, _ := args["item_id"].(string)
	for stage := 0; stage < Stages; stage++ {
		if err := p.Stage(ctx, &StageInput{ItemID: itemID, Stage: stage}); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(StageDelay):
		}
	}
	return &swarm.Result{Value: "Success!"}, nil
}

func (p *Processor) applyDiscount(ctx context.Context, _ map[string]any, _ map[string]any) (*swarm.Result, error) {
	p.logger.Info(ctx, "applying discount", "percent", DiscountPercent)
	return &swarm.Result{Value: fmt.Sprintf("Applied discount of %d%%", DiscountPercent)}, nil
}

// Agent builds the refund agent with its two tools.
func (p *Processor) Agent() *swarm.Agent {
	return &swarm.Agent{
		Name: "Refund Agent",
		Instructions: "You are a refund agent. Help the user process refunds. " +
			"After processing a refund successfully, apply a discount and tell " +
			"the user the refund outcome and the discount percentage.",
		Functions: []*swarm.Function{
			{
				Name:        "process_refund",
				Description: "Refund an item. Make sure you have the item_id of the form item_... . Ask for user confirmation before processing the refund.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_id": map[string]any{"type": "string"},
						"reason":  map[string]any{"type": "string"},
					},
					"required": []any{"item_id"},
				},
				Handler: p.processInline,
			},
			{
				Name:        "apply_discount",
				Description: "Apply a discount to the user's cart.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
				Handler: p.applyDiscount,
			},
		},
	}
}

// Register wires the refund domain into a durable runtime: the agent, the
// stage activity, the refund workflow, and the tool binding that routes
// process_refund calls through it.
func Register(rt *durable.Runtime, p *Processor) error {
	if err := rt.RegisterAgents(p.Agent()); err != nil {
		return err
	}
	rt.RegisterActivity(p.Stage, StageActivityName)
	rt.RegisterWorkflow(p.Workflow, WorkflowName)
	rt.BindToolWorkflow("process_refund", WorkflowName)
	return nil
}
