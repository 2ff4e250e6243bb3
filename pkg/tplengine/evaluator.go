package tplengine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"
)

// Engine renders a single template expression against a data context.
type Engine interface {
	Evaluate(ctx context.Context, expr string, data any) (any, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, expr string, data any) (any, error)

func (f EngineFunc) Evaluate(ctx context.Context, expr string, data any) (any, error) {
	return f(ctx, expr, data)
}

const (
	TagGoTemplate = "gotemplate"
	TagJSONata    = "jsonata"
	TagGJSON      = "gjson"
	TagCEL        = "cel"
)

var tagPattern = regexp.MustCompile(`^\[\[(\w+)\]\]`)

// Evaluator walks arbitrary nested values and renders every string leaf. A
// leaf starting with "[[tag]]" goes to the engine registered under tag; any
// other string goes to the default engine.
type Evaluator struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	fallback Engine
}

type Options struct {
	CacheSize    int
	CELCostLimit uint64
}

// NewEvaluator builds an evaluator with the gotemplate, jsonata, gjson and cel
// engines registered.
func NewEvaluator(opts Options) (*Evaluator, error) {
	goTmpl, err := NewGoTemplateEngine(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	jsonataEngine, err := NewJSONataEngine(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	celEngine, err := NewCELEngine(opts.CELCostLimit)
	if err != nil {
		return nil, err
	}
	e := &Evaluator{
		engines:  make(map[string]Engine),
		fallback: goTmpl,
	}
	e.Register(TagGoTemplate, goTmpl)
	e.Register(TagJSONata, jsonataEngine)
	e.Register(TagGJSON, NewGJSONEngine())
	e.Register(TagCEL, celEngine)
	return e, nil
}

// Register adds or replaces the engine used for tag.
func (e *Evaluator) Register(tag string, engine Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engines[tag] = engine
}

func (e *Evaluator) engineFor(tag string) (Engine, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	engine, ok := e.engines[tag]
	return engine, ok
}

// Evaluate renders template against data. Containers are rebuilt, never
// modified in place.
func (e *Evaluator) Evaluate(ctx context.Context, template any, data any) (any, error) {
	if template == nil {
		return nil, nil
	}
	if data == nil {
		return template, nil
	}
	return e.evaluate(ctx, template, data, "")
}

func (e *Evaluator) evaluate(ctx context.Context, value any, data any, path string) (any, error) {
	switch v := value.(type) {
	case string:
		out, err := e.EvaluateString(ctx, v, data)
		if err != nil && path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return out, err
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			evaluated, err := e.evaluate(ctx, item, data, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			result[key] = evaluated
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			evaluated, err := e.evaluate(ctx, item, data, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			result[i] = evaluated
		}
		return result, nil
	default:
		if !isContainer(v) {
			return v, nil
		}
		normalized, err := normalize(v)
		if err != nil {
			return nil, err
		}
		return e.evaluate(ctx, normalized, data, path)
	}
}

// EvaluateString renders a single string leaf.
func (e *Evaluator) EvaluateString(ctx context.Context, s string, data any) (any, error) {
	if m := tagPattern.FindStringSubmatch(s); m != nil {
		if engine, ok := e.engineFor(m[1]); ok {
			out, err := engine.Evaluate(ctx, s[len(m[0]):], data)
			if err != nil {
				return nil, fmt.Errorf("%s engine: %w", m[1], err)
			}
			return out, nil
		}
	}
	return e.fallback.Evaluate(ctx, s, data)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func isContainer(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	case reflect.Pointer:
		return reflect.TypeOf(v).Elem().Kind() == reflect.Struct
	default:
		return false
	}
}

// normalize converts typed maps, slices and structs to their generic JSON form.
func normalize(v any) (any, error) {
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize template value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize template value: %w", err)
	}
	return out, nil
}

// ToMap converts a value into the generic map form engines expect as data.
func ToMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	out, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return m, nil
}
