// Command refund-demo runs the durable refund conversation end to end.
//
// The demo starts a Temporal worker, submits a refund conversation for the
// configured user and item, waits for the final assistant message and prints
// the transcript. The invocation identity defaults to a stable value derived
// from the user and item, so killing the process mid-refund and re-running
// the command resumes the same invocation from its last completed step, and
// re-running after completion replays the recorded result without executing
// anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/durableswarm/durableswarm/config"
	"github.com/durableswarm/durableswarm/durable"
	"github.com/durableswarm/durableswarm/model"
	"github.com/durableswarm/durableswarm/model/anthropic"
	"github.com/durableswarm/durableswarm/model/openai"
	"github.com/durableswarm/durableswarm/refund"
	"github.com/durableswarm/durableswarm/repl"
	"github.com/durableswarm/durableswarm/swarm"
	"github.com/durableswarm/durableswarm/telemetry"
)

func main() {
	var (
		userF       = flag.String("user", "Max", "Name of the user requesting the refund")
		itemF       = flag.String("item", "item_99", "Identifier of the item to refund")
		invocationF = flag.String("invocation", "", "Invocation identity (default: refund-<user>-<item>); reuse it to resume or replay a run")
		directF     = flag.Bool("direct", false, "Run the loop in-process without the durable runtime (no resumption)")
		dbgF        = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}

	models, err := buildModelClient(cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}

	logger := telemetry.NewClueLogger()
	processor := refund.NewProcessor(logger)
	req := &swarm.RunRequest{
		Agent: processor.Agent().Name,
		Messages: []model.Message{{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("My name is %s. I want to refund %s because it is too expensive.", *userF, *itemF),
		}},
		ContextVariables: map[string]any{"user_name": *userF},
	}

	if *directF {
		runDirect(ctx, models, processor, req)
		return
	}

	invocation := *invocationF
	if invocation == "" {
		invocation = fmt.Sprintf("refund-%s-%s", *userF, *itemF)
	}

	rt, err := durable.New(durable.Options{
		ClientOptions: &client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		},
		TaskQueue: cfg.Temporal.TaskQueue,
		Models:    models,
		Logger:    logger,
		Metrics:   telemetry.NewClueMetrics(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer rt.Close()

	if err := refund.Register(rt, processor); err != nil {
		log.Fatal(ctx, err)
	}
	if err := rt.Start(); err != nil {
		log.Fatal(ctx, err)
	}

	handle, err := rt.Run(ctx, durable.RunRequest{
		InvocationID: invocation,
		Run:          req,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	log.Printf(ctx, "invocation %q running; interrupt and re-run with the same id to resume", handle.InvocationID())

	resp, err := handle.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Deferred rt.Close stops the worker and closes the client.
			log.Printf(ctx, "interrupted; re-run to resume invocation %q from its last completed step", handle.InvocationID())
			return
		}
		log.Fatal(ctx, err)
	}
	repl.PrintMessages(os.Stdout, resp.Messages)
}

func runDirect(ctx context.Context, models model.Client, processor *refund.Processor, req *swarm.RunRequest) {
	registry := swarm.NewRegistry()
	if err := registry.Register(processor.Agent()); err != nil {
		log.Fatal(ctx, err)
	}
	cl, err := swarm.NewClient(models, registry, swarm.WithLogger(telemetry.NewClueLogger()))
	if err != nil {
		log.Fatal(ctx, err)
	}
	resp, err := cl.Run(ctx, req)
	if err != nil {
		log.Fatal(ctx, err)
	}
	repl.PrintMessages(os.Stdout, resp.Messages)
}

func buildModelClient(cfg *config.Config) (model.Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIRPS)
	case config.ProviderAnthropic:
		return anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
