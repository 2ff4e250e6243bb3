package task

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/idc-core/idc/engine/core"
)

var ErrInvalidDefinition = errors.New("invalid task definition")

// DefaultExecutionOrder places tasks without an explicit order after all
// ordered ones.
const DefaultExecutionOrder int64 = math.MaxInt64

type Condition struct {
	Expression any `json:"expression" yaml:"expression" mapstructure:"expression"`
}

// Definition describes one named unit of work inside an action.
type Definition struct {
	Function       Function    `json:"function"                  yaml:"function"                  mapstructure:"function"`
	Name           string      `json:"name,omitempty"            yaml:"name,omitempty"            mapstructure:"name"`
	ExecutionOrder *int64      `json:"execution_order,omitempty" yaml:"execution_order,omitempty" mapstructure:"execution_order"`
	Params         any         `json:"params,omitempty"          yaml:"params,omitempty"          mapstructure:"params"`
	Conditions     []Condition `json:"conditions,omitempty"      yaml:"conditions,omitempty"      mapstructure:"conditions"`

	// Failure handling
	IsContinueIfError bool   `json:"is_continue_if_error,omitempty" yaml:"is_continue_if_error,omitempty" mapstructure:"is_continue_if_error"`
	IfErrorMessage    string `json:"if_error_message,omitempty"     yaml:"if_error_message,omitempty"     mapstructure:"if_error_message"`

	IsSecretTaskResults bool `json:"is_secret_task_results,omitempty" yaml:"is_secret_task_results,omitempty" mapstructure:"is_secret_task_results"`
}

// SetDefaults fills the name from the definition key and the default order.
func (d *Definition) SetDefaults(key string) {
	if d.Name == "" {
		d.Name = key
	}
	if d.ExecutionOrder == nil || *d.ExecutionOrder == 0 {
		order := DefaultExecutionOrder
		d.ExecutionOrder = &order
	}
}

func (d *Definition) Order() int64 {
	if d.ExecutionOrder == nil {
		return DefaultExecutionOrder
	}
	return *d.ExecutionOrder
}

func (d *Definition) Validate() error {
	if d.Function == "" {
		return fmt.Errorf("%w: function is required", ErrInvalidDefinition)
	}
	return nil
}

func (d *Definition) Clone() (*Definition, error) {
	if d == nil {
		return nil, nil
	}
	return core.DeepCopy(d)
}

func (d *Definition) AsMap() (map[string]any, error) {
	return core.AsMap(d)
}

// FromMap decodes a generic (usually template-evaluated) definition.
func FromMap(data any) (*Definition, error) {
	def, err := core.FromMap[Definition](data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// Skeleton is the collapsed form kept in the persisted action definition.
func (d *Definition) Skeleton() *Definition {
	return &Definition{Name: d.Name, Function: d.Function}
}

// Results is the result slot a handler fills for its task.
type Results map[string]any

// Evaluator renders templates embedded in a definition.
type Evaluator interface {
	Evaluate(ctx context.Context, template any, data any) (any, error)
}

// Evaluate renders every templated field of the definition against data and
// returns the evaluated copy. The execution order is carried over as-is since
// ordering is settled before any task runs.
func (d *Definition) Evaluate(ctx context.Context, evaluator Evaluator, data any) (*Definition, error) {
	raw, err := d.AsMap()
	if err != nil {
		return nil, err
	}
	delete(raw, "execution_order")
	out, err := evaluator.Evaluate(ctx, raw, data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate task %s: %w", d.Name, err)
	}
	evaluated, err := FromMap(out)
	if err != nil {
		return nil, err
	}
	if d.ExecutionOrder != nil {
		order := *d.ExecutionOrder
		evaluated.ExecutionOrder = &order
	}
	return evaluated, nil
}
