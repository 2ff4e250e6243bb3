package tplengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jsonata "github.com/blues/jsonata-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

// JSONataEngine evaluates JSONata queries over the data context. A query that
// matches nothing yields nil.
type JSONataEngine struct {
	cache *lru.Cache[string, *jsonata.Expr]
}

func NewJSONataEngine(cacheSize int) (*JSONataEngine, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *jsonata.Expr](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create jsonata cache: %w", err)
	}
	return &JSONataEngine{cache: cache}, nil
}

func (e *JSONataEngine) Evaluate(_ context.Context, expr string, data any) (any, error) {
	expr = strings.TrimSpace(expr)
	compiled, ok := e.cache.Get(expr)
	if !ok {
		var err error
		compiled, err = jsonata.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression: %w", err)
		}
		e.cache.Add(expr, compiled)
	}
	out, err := compiled.Eval(data)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return out, nil
}
