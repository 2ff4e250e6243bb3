package tplengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// GJSONEngine resolves gjson paths against the JSON form of the data context.
type GJSONEngine struct{}

func NewGJSONEngine() *GJSONEngine {
	return &GJSONEngine{}
}

func (e *GJSONEngine) Evaluate(_ context.Context, expr string, data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	result := gjson.GetBytes(raw, strings.TrimSpace(expr))
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}
