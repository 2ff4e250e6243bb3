package tplengine

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

const defaultCELCostLimit = 1000

var celIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CELEngine evaluates CEL expressions. The data context is exposed as the
// variable "data" and, when it is an object, each identifier-safe top-level
// key is also declared as a variable.
type CELEngine struct {
	costLimit uint64
	programs  *ristretto.Cache[string, cel.Program]
}

func NewCELEngine(costLimit uint64) (*CELEngine, error) {
	if costLimit == 0 {
		costLimit = defaultCELCostLimit
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cel program cache: %w", err)
	}
	return &CELEngine{costLimit: costLimit, programs: cache}, nil
}

func (e *CELEngine) Evaluate(_ context.Context, expr string, data any) (any, error) {
	expr = strings.TrimSpace(expr)
	vars := map[string]any{"data": data}
	if m, ok := data.(map[string]any); ok {
		for key, value := range m {
			if key != "data" && celIdent.MatchString(key) {
				vars[key] = value
			}
		}
	}
	prg, err := e.program(expr, vars)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return nativeValue(out)
}

func (e *CELEngine) program(expr string, vars map[string]any) (cel.Program, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	key := strings.Join(names, ",") + "|" + expr
	if prg, ok := e.programs.Get(key); ok {
		return prg, nil
	}
	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", iss.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to build cel program: %w", err)
	}
	e.programs.Set(key, prg, 1)
	return prg, nil
}

var (
	mapType   = reflect.TypeOf(map[string]any{})
	sliceType = reflect.TypeOf([]any{})
)

func nativeValue(v ref.Val) (any, error) {
	switch v.(type) {
	case traits.Mapper:
		return v.ConvertToNative(mapType)
	case traits.Lister:
		return v.ConvertToNative(sliceType)
	default:
		return v.Value(), nil
	}
}
