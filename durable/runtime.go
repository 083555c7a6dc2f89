// Package durable wraps the swarm orchestration loop with Temporal so a
// conversation survives process interruption and resumes from its last
// completed step. The loop itself (swarm.RunLoop) runs as a workflow; each
// model completion and each tool call executes as an activity whose result is
// durably recorded before the loop proceeds. Temporal and its backing
// relational store own all persistence; this package only marks the step
// boundaries and wires lifecycle.
package durable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/durableswarm/durableswarm/model"
	"github.com/durableswarm/durableswarm/swarm"
	"github.com/durableswarm/durableswarm/telemetry"
)

// Registered workflow and activity names. Stable across releases: Temporal
// correlates replayed history by these identifiers.
const (
	// WorkflowRun is the top-level conversation workflow.
	WorkflowRun = "swarm.run"
	// ActivityCompletion checkpoints one model completion.
	ActivityCompletion = "swarm.completion"
	// ActivityExecuteTool checkpoints one tool call execution.
	ActivityExecuteTool = "swarm.execute_tool"
)

// DefaultActivityTimeout bounds a single activity attempt when Options does
// not override it.
const DefaultActivityTimeout = 2 * time.Minute

type (
	// Options configures the durable runtime. Either a pre-configured Client
	// or ClientOptions must be provided, along with the task queue and the
	// model client the completion activity delegates to.
	Options struct {
		// Client is an optional pre-configured Temporal client. If nil, the
		// runtime creates a lazy client from ClientOptions so OTEL
		// interceptors can be installed automatically.
		Client client.Client

		// ClientOptions describe how to construct the Temporal client when
		// Client is nil. Required in that case; HostPort and Namespace carry
		// the connection configuration. Bad connection info surfaces as a
		// startup failure, not mid-run.
		ClientOptions *client.Options

		// TaskQueue is the queue the worker polls and workflows are scheduled
		// on. Required.
		TaskQueue string

		// WorkerOptions are forwarded to Temporal's worker constructor.
		WorkerOptions worker.Options

		// Models issues the actual chat completions from inside the
		// completion activity. Required.
		Models model.Client

		// Registry resolves agents by name inside activities. A fresh registry
		// is created when nil.
		Registry *swarm.Registry

		// Instrumentation toggles OTEL tracing and metrics for the Temporal
		// client and worker. Both are enabled by default.
		Instrumentation InstrumentationOptions

		// ActivityTimeout bounds a single activity attempt. Zero means
		// DefaultActivityTimeout.
		ActivityTimeout time.Duration

		// RetryPolicy applies to completion and tool activities. Nil means the
		// Temporal server defaults; the runtime defines no retry logic of its
		// own.
		RetryPolicy *temporal.RetryPolicy

		// Logger emits runtime logs. Nil means no output.
		Logger telemetry.Logger

		// Metrics records run-level counters. Nil means no metrics.
		Metrics telemetry.Metrics
	}

	// InstrumentationOptions configures automatic OTEL wiring for the Temporal
	// client and worker.
	InstrumentationOptions struct {
		// DisableTracing skips installing the OTEL tracing interceptor.
		DisableTracing bool

		// DisableMetrics skips installing the OTEL metrics handler.
		DisableMetrics bool

		// TracerOptions customize the OTEL tracing interceptor.
		TracerOptions temporalotel.TracerOptions

		// MetricsOptions customize the OTEL metrics handler.
		MetricsOptions temporalotel.MetricsHandlerOptions
	}

	// Runtime is the explicit handle to the durable execution engine: it owns
	// the Temporal client and worker, the agent registry, and the direct swarm
	// client its activities delegate to. Create it during application startup
	// and thread it to wherever agents and tool workflows are registered; no
	// process-global state is involved.
	//
	// Lifecycle: New (init) -> register agents/tool workflows -> Start
	// (launch) -> Run invocations -> Close.
	Runtime struct {
		client      client.Client
		closeClient bool
		taskQueue   string
		worker      worker.Worker

		core     *swarm.Client
		registry *swarm.Registry

		activityTimeout time.Duration
		retryPolicy     *temporal.RetryPolicy

		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu            sync.Mutex
		toolWorkflows map[string]string
		started       bool
	}

	// RunRequest describes one durable invocation of the conversation loop.
	RunRequest struct {
		// InvocationID is the invocation identity: restarting a run with the
		// same ID resumes (or replays) the prior invocation instead of
		// starting work anew. A random UUID is assigned when empty.
		InvocationID string

		// Run is the conversation input handed to the orchestration loop.
		Run *swarm.RunRequest

		// RunTimeout bounds the total workflow execution time. Zero means no
		// engine-level bound.
		RunTimeout time.Duration
	}

	// Handle references a running or completed invocation.
	Handle struct {
		run    client.WorkflowRun
		client client.Client
	}
)

// New constructs a durable runtime. It creates (or adopts) the Temporal
// client, builds the direct swarm client the activities delegate to, and
// registers the conversation workflow plus its step activities on a worker
// for the configured task queue. The worker does not poll until Start.
func New(opts Options) (*Runtime, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("durable: task queue is required")
	}
	if opts.Models == nil {
		return nil, errors.New("durable: model client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("durable: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("durable: create temporal client: %w", err)
		}
		closeClient = true
	}

	registry := opts.Registry
	if registry == nil {
		registry = swarm.NewRegistry()
	}
	core, err := swarm.NewClient(opts.Models, registry, swarm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("durable: build swarm client: %w", err)
	}

	workerOpts := opts.WorkerOptions
	applyWorkerInstrumentation(&workerOpts, inst)
	w := worker.New(cli, opts.TaskQueue, workerOpts)

	timeout := opts.ActivityTimeout
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}

	r := &Runtime{
		client:          cli,
		closeClient:     closeClient,
		taskQueue:       opts.TaskQueue,
		worker:          w,
		core:            core,
		registry:        registry,
		activityTimeout: timeout,
		retryPolicy:     opts.RetryPolicy,
		logger:          logger,
		metrics:         metrics,
		toolWorkflows:   make(map[string]string),
	}

	w.RegisterWorkflowWithOptions(r.runWorkflow, workflow.RegisterOptions{Name: WorkflowRun})
	w.RegisterActivityWithOptions(r.completionActivity, activity.RegisterOptions{Name: ActivityCompletion})
	w.RegisterActivityWithOptions(r.executeToolActivity, activity.RegisterOptions{Name: ActivityExecuteTool})

	return r, nil
}

// RegisterAgents adds agents to the runtime's registry so activities can
// resolve them by name. Every agent reachable through a handoff must be
// registered before Start.
func (r *Runtime) RegisterAgents(agents ...*swarm.Agent) error {
	return r.registry.Register(agents...)
}

// RegisterWorkflow registers an additional workflow (typically a tool child
// workflow) on the runtime's worker under the given name.
func (r *Runtime) RegisterWorkflow(fn any, name string) {
	r.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

// RegisterActivity registers an additional activity on the runtime's worker
// under the given name.
func (r *Runtime) RegisterActivity(fn any, name string) {
	r.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

// BindToolWorkflow routes calls to the named tool through the workflow
// registered under workflowName instead of the generic tool activity. The tool
// then checkpoints at its own internal step granularity, which is what lets a
// multi-stage operation resume mid-flight after an interruption.
func (r *Runtime) BindToolWorkflow(tool, workflowName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolWorkflows[tool] = workflowName
}

// Start launches the worker so it begins polling the task queue. Call after
// all agents, workflows and activities are registered.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.worker.Start(); err != nil {
		return fmt.Errorf("durable: start worker: %w", err)
	}
	r.started = true
	r.logger.Info(context.Background(), "durable worker started", "task_queue", r.taskQueue)
	return nil
}

// Run starts (or resumes) a durable invocation of the conversation loop.
//
// The invocation identity maps to the Temporal workflow ID. An interrupted
// invocation is resumed server-side without any action here; a previously
// completed invocation is not re-executed — the duplicate start is rejected
// and the handle attaches to the recorded result instead.
func (r *Runtime) Run(ctx context.Context, req RunRequest) (*Handle, error) {
	if req.Run == nil {
		return nil, errors.New("durable: run request is required")
	}
	id := req.InvocationID
	if id == "" {
		id = uuid.NewString()
	}
	opts := client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             r.taskQueue,
		WorkflowRunTimeout:    req.RunTimeout,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := r.client.ExecuteWorkflow(ctx, opts, WorkflowRun, req.Run)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			r.logger.Info(ctx, "invocation already recorded, attaching", "invocation_id", id)
			return &Handle{run: r.client.GetWorkflow(ctx, id, ""), client: r.client}, nil
		}
		return nil, fmt.Errorf("durable: start invocation %s: %w", id, err)
	}
	r.metrics.IncCounter("swarm_invocations_started", 1, "task_queue", r.taskQueue)
	r.logger.Info(ctx, "invocation started", "invocation_id", id, "run_id", run.GetRunID())
	return &Handle{run: run, client: r.client}, nil
}

// Close stops the worker and closes the Temporal client if the runtime
// created it.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.started {
		r.worker.Stop()
		r.started = false
	}
	r.mu.Unlock()
	if r.closeClient && r.client != nil {
		r.client.Close()
	}
}

// InvocationID returns the invocation identity of the referenced run.
func (h *Handle) InvocationID() string { return h.run.GetID() }

// RunID returns the engine-assigned run identifier.
func (h *Handle) RunID() string { return h.run.GetRunID() }

// Wait blocks until the invocation completes and returns its final
// conversational output.
func (h *Handle) Wait(ctx context.Context) (*swarm.Response, error) {
	var out swarm.Response
	if err := h.run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cancellation of the invocation.
func (h *Handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("durable: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}
