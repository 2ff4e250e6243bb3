package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/idc-core/idc/engine/compensation"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/publish"
	"github.com/idc-core/idc/engine/task"
	"github.com/idc-core/idc/pkg/logger"
	"github.com/idc-core/idc/pkg/tplengine"
)

var errTaskFailed = errors.New("task failed")

// Outcome is the terminal state of one task in an invocation.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeContinued Outcome = "continued"
	OutcomeSkipped   Outcome = "skipped"
)

// Recorder receives per-action and per-task measurements.
type Recorder interface {
	RecordAction(ctx context.Context, success bool, duration time.Duration)
	RecordTask(ctx context.Context, function task.Function, outcome Outcome, duration time.Duration)
	RecordCompensations(ctx context.Context, count int, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordAction(context.Context, bool, time.Duration)                 {}
func (noopRecorder) RecordTask(context.Context, task.Function, Outcome, time.Duration) {}
func (noopRecorder) RecordCompensations(context.Context, int, error)                   {}

// ResultPublisher fans out task results after a clean pass.
type ResultPublisher interface {
	Publish(ctx context.Context, tenant, function string, msg *publish.Message) error
}

type Options struct {
	Registry  *Registry
	Evaluator task.Evaluator
	Publisher ResultPublisher
	Recorder  Recorder
	Tracer    trace.Tracer
	Clock     core.Clock
}

// Executor runs action definitions task by task.
type Executor struct {
	registry  *Registry
	evaluator task.Evaluator
	publisher ResultPublisher
	recorder  Recorder
	tracer    trace.Tracer
	clock     core.Clock
}

func NewExecutor(opts Options) (*Executor, error) {
	if opts.Registry == nil {
		return nil, errors.New("action executor requires a registry")
	}
	if opts.Evaluator == nil {
		evaluator, err := tplengine.NewEvaluator(tplengine.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to build template evaluator: %w", err)
		}
		opts.Evaluator = evaluator
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("idc/action")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Executor{
		registry:  opts.Registry,
		evaluator: opts.Evaluator,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		tracer:    opts.Tracer,
		clock:     opts.Clock,
	}, nil
}

// Execute runs def and always returns its state. Task failures, validation
// failures and rollback failures are reported through the state metrics; the
// returned error is set only when the action log could not be written.
func (e *Executor) Execute(ctx context.Context, def *Definition, exec *ExecContext) (*State, error) {
	// Caller cancellation never interrupts a running action.
	ctx = context.WithoutCancel(ctx)
	state := newState(def)
	if exec == nil || exec.Store == nil {
		return state, errors.New("action executor requires a tenant store")
	}
	if exec.Compensations == nil {
		exec.Compensations = compensation.NewStack()
	}
	clientID := exec.Client.ClientID
	log := logger.FromContext(ctx).With("component", "action_executor", "client_id", clientID)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx, span := e.tracer.Start(ctx, "action.execute", trace.WithAttributes(
		attribute.String("idc.client_id", clientID),
		attribute.Int("idc.tasks", state.Definition.Len()),
	))
	defer span.End()

	watch := core.StartStopwatch(e.clock)
	if err := e.run(ctx, state, exec, watch); err != nil {
		state.ActionMetrics.IsSuccess = false
		if state.ActionMetrics.ErrorMessage == "" {
			state.ActionMetrics.ErrorMessage = err.Error()
		}
		span.SetStatus(codes.Error, state.ActionMetrics.ErrorMessage)
		log.Error("Action failed", "action_id", state.ID, "error", err)
		e.rollback(ctx, state, exec)
	} else {
		log.Info("Action executed", "action_id", state.ID)
	}
	state.ActionMetrics.ExecutionTimeMS = watch.ElapsedMS()
	e.recorder.RecordAction(ctx, state.ActionMetrics.IsSuccess, time.Duration(state.ActionMetrics.ExecutionTimeMS*float64(time.Millisecond)))
	if err := e.persist(ctx, state, exec); err != nil {
		span.RecordError(err)
		log.Error("Failed to persist action", "action_id", state.ID, "error", err)
		return state, err
	}
	return state, nil
}

type orderedTask struct {
	key string
	def *task.Definition
}

func (e *Executor) validate(def *Definition) ([]orderedTask, error) {
	ordered := make([]orderedTask, 0, def.Len())
	for _, key := range def.Keys() {
		taskDef, _ := def.Get(key)
		if taskDef == nil {
			return nil, fmt.Errorf("%w: task %s has no definition", ErrInvalidFunction, key)
		}
		if err := taskDef.Validate(); err != nil {
			return nil, fmt.Errorf("%w: task %s: %w", ErrInvalidFunction, key, err)
		}
		if _, err := e.registry.Lookup(taskDef.Function); err != nil {
			return nil, err
		}
		taskDef.SetDefaults(key)
		ordered = append(ordered, orderedTask{key: key, def: taskDef})
	}
	slices.SortStableFunc(ordered, func(a, b orderedTask) int {
		switch {
		case a.def.Order() < b.def.Order():
			return -1
		case a.def.Order() > b.def.Order():
			return 1
		default:
			return 0
		}
	})
	return ordered, nil
}

func (e *Executor) assignID(ctx context.Context, state *State, exec *ExecContext) error {
	id, err := core.GenerateID(ctx, core.ActionsCollection, func(ctx context.Context, id string) (bool, error) {
		return exec.Store.Exists(ctx, core.ActionsCollection, id)
	})
	if err != nil {
		return fmt.Errorf("failed to generate action id: %w", err)
	}
	state.ID = id
	return nil
}

func (e *Executor) run(ctx context.Context, state *State, exec *ExecContext, watch *core.Stopwatch) error {
	ordered, err := e.validate(state.Definition)
	if err != nil {
		return err
	}
	if err := e.assignID(ctx, state, exec); err != nil {
		return err
	}
	for _, t := range ordered {
		state.TasksMetrics[t.def.Name] = task.NewMetrics()
	}
	for _, t := range ordered {
		if err := e.runTask(ctx, state, exec, watch, t); err != nil {
			return err
		}
	}
	e.finalize(ctx, state, exec.Client.ClientID)
	return nil
}

func (e *Executor) runTask(
	ctx context.Context,
	state *State,
	exec *ExecContext,
	watch *core.Stopwatch,
	t orderedTask,
) error {
	log := logger.FromContext(ctx).With("task", t.def.Name)
	data, err := state.TemplateData()
	if err != nil {
		return fmt.Errorf("failed to build template data: %w", err)
	}
	evaluated, err := t.def.Evaluate(ctx, e.evaluator, data)
	if err != nil {
		state.metricsFor(t.def.Name).SetError(err)
		return e.abort(state, t.def, err)
	}
	state.recordEvaluated(t.key, evaluated)
	metrics := state.metricsFor(evaluated.Name)

	passed := true
	for _, cond := range evaluated.Conditions {
		if !tplengine.Truthy(cond.Expression) {
			passed = false
			break
		}
	}
	metrics.SetConditionsPassed(passed)
	if !passed {
		log.Debug("Task conditions not met")
		e.recorder.RecordTask(ctx, evaluated.Function, OutcomeSkipped, 0)
		return nil
	}

	taskWatch := core.StartStopwatch(e.clock)
	metrics.SetSinceActionStart(watch.ElapsedMS())
	results := task.Results{}
	state.TasksResults[evaluated.Name] = results
	metrics.IsAttempted = true
	exec.Compensations.Push(compensation.MarkTaskReverted(evaluated.Name))

	taskCtx, span := e.tracer.Start(ctx, "task."+evaluated.Name, trace.WithAttributes(
		attribute.String("idc.task.function", evaluated.Function.String()),
	))
	err = e.invoke(taskCtx, &Invocation{
		Definition: evaluated,
		Metrics:    metrics,
		Results:    results,
		State:      state,
		Exec:       exec,
	})
	if err != nil {
		metrics.SetError(err)
		metrics.SetSuccess(false)
		span.RecordError(err)
	}
	metrics.SetExecutionTime(taskWatch.ElapsedMS())
	duration := time.Duration(*metrics.ExecutionTimeMS * float64(time.Millisecond))

	if metrics.Succeeded() {
		span.End()
		e.recorder.RecordTask(ctx, evaluated.Function, OutcomeSuccess, duration)
		return nil
	}
	span.SetStatus(codes.Error, "task failed")
	span.End()
	if evaluated.IsContinueIfError {
		log.Warn("Task failed, continuing", "error", err)
		e.recorder.RecordTask(ctx, evaluated.Function, OutcomeContinued, duration)
		return nil
	}
	log.Error("Task failed", "error", err)
	e.recorder.RecordTask(ctx, evaluated.Function, OutcomeFailure, duration)
	return e.abort(state, evaluated, err)
}

func (e *Executor) abort(state *State, def *task.Definition, cause error) error {
	if def.IfErrorMessage != "" {
		state.ActionMetrics.ErrorMessage = def.IfErrorMessage
	} else {
		state.ActionMetrics.ErrorMessage = fmt.Sprintf("Task failed: %s", def.Name)
	}
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", errTaskFailed, def.Name, cause)
	}
	return fmt.Errorf("%w: %s", errTaskFailed, def.Name)
}

func (e *Executor) invoke(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	handler, err := e.registry.Lookup(inv.Definition.Function)
	if err != nil {
		return err
	}
	return handler.Execute(ctx, inv)
}

// finalize publishes every produced result, redacts secret results and
// collapses the action definition to task skeletons.
func (e *Executor) finalize(ctx context.Context, state *State, clientID string) {
	log := logger.FromContext(ctx)
	for _, ev := range state.evaluated {
		def := state.EvaluatedTasksDefinitions[ev.name]
		if results, ok := state.TasksResults[ev.name]; ok && e.publisher != nil {
			msg := &publish.Message{
				TaskName:                ev.name,
				TaskResults:             results,
				EvaluatedTaskDefinition: def,
			}
			if err := e.publisher.Publish(ctx, clientID, def.Function.String(), msg); err != nil {
				log.Warn("Failed to publish task results", "task", ev.name, "error", err)
			}
		}
		if def.IsSecretTaskResults {
			delete(state.TasksResults, ev.name)
		}
		state.Definition.Set(ev.key, def.Skeleton())
	}
}

func (e *Executor) rollback(ctx context.Context, state *State, exec *ExecContext) {
	count := exec.Compensations.Len()
	err := exec.Compensations.Unwind(ctx, &rollbackTarget{state: state, store: exec.Store})
	if err != nil {
		logger.FromContext(ctx).Error("Rollback completed with failures", "action_id", state.ID, "error", err)
	}
	e.recorder.RecordCompensations(ctx, count, err)
}

func (e *Executor) persist(ctx context.Context, state *State, exec *ExecContext) error {
	if state.ID == "" {
		if err := e.assignID(ctx, state, exec); err != nil {
			return err
		}
	}
	record, err := state.Record(e.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to encode action record: %w", err)
	}
	if err := exec.Store.InsertAction(ctx, record); err != nil {
		return fmt.Errorf("failed to persist action %s: %w", state.ID, err)
	}
	return nil
}
