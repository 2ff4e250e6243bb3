package action

import (
	"time"

	"github.com/idc-core/idc/engine/compensation"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/task"
	"github.com/idc-core/idc/engine/version"
)

// Metrics summarises one action invocation.
type Metrics struct {
	IsSuccess       bool    `json:"is_success"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// State is the in-memory record of one invocation. Templates are rendered
// against its JSON form, so later tasks can read earlier results and metrics.
type State struct {
	ID                        string                      `json:"idc_id,omitempty"`
	Definition                *Definition                 `json:"action_definition"`
	ActionMetrics             Metrics                     `json:"action_metrics"`
	TasksMetrics              map[string]*task.Metrics    `json:"tasks_metrics"`
	TasksResults              map[string]task.Results     `json:"tasks_results"`
	EvaluatedTasksDefinitions map[string]*task.Definition `json:"evaluated_tasks_definitions"`

	// evaluation order of EvaluatedTasksDefinitions, with the definition key
	evaluated []evaluatedTask
}

type evaluatedTask struct {
	key  string
	name string
}

func newState(def *Definition) *State {
	if def == nil {
		def = NewDefinition()
	}
	return &State{
		Definition:                def,
		ActionMetrics:             Metrics{IsSuccess: true},
		TasksMetrics:              make(map[string]*task.Metrics),
		TasksResults:              make(map[string]task.Results),
		EvaluatedTasksDefinitions: make(map[string]*task.Definition),
	}
}

func (s *State) recordEvaluated(key string, def *task.Definition) {
	if _, ok := s.EvaluatedTasksDefinitions[def.Name]; !ok {
		s.evaluated = append(s.evaluated, evaluatedTask{key: key, name: def.Name})
	}
	s.EvaluatedTasksDefinitions[def.Name] = def
}

func (s *State) metricsFor(name string) *task.Metrics {
	m, ok := s.TasksMetrics[name]
	if !ok {
		m = task.NewMetrics()
		s.TasksMetrics[name] = m
	}
	return m
}

// TemplateData returns the generic form of the state used as template context.
func (s *State) TemplateData() (map[string]any, error) {
	return core.AsMap(s)
}

// Record builds the action log entry persisted at the end of an invocation.
func (s *State) Record(createdAt time.Time) (*core.ActionRecord, error) {
	definition, err := core.AsMap(s.Definition)
	if err != nil {
		return nil, err
	}
	metrics, err := core.AsMap(s.ActionMetrics)
	if err != nil {
		return nil, err
	}
	tasksMetrics, err := core.AsMap(s.TasksMetrics)
	if err != nil {
		return nil, err
	}
	return &core.ActionRecord{
		IDCID:            s.ID,
		ActionDefinition: definition,
		ActionMetrics:    metrics,
		TasksMetrics:     tasksMetrics,
		CreatedAt:        createdAt,
	}, nil
}

// ClientSettings identifies the tenant an action runs for.
type ClientSettings struct {
	ClientID    string         `json:"client_id"`
	Environment map[string]any `json:"environment,omitempty"`
}

// ExecContext carries the per-invocation collaborators handed to handlers.
type ExecContext struct {
	Client        ClientSettings
	Store         store.TenantStore
	Compensations *compensation.Stack
}

// Invocation is everything a handler receives for one task run.
type Invocation struct {
	Definition *task.Definition
	Metrics    *task.Metrics
	Results    task.Results
	State      *State
	Exec       *ExecContext
}

// Params decodes the evaluated params into T.
func Params[T any](inv *Invocation) (T, error) {
	return core.FromMap[T](inv.Definition.Params)
}

// VersionOp scopes version store calls to this invocation.
func (inv *Invocation) VersionOp() version.Op {
	return version.Op{
		Store:         inv.Exec.Store,
		ActionID:      inv.State.ID,
		Compensations: inv.Exec.Compensations,
	}
}
