package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/idc-core/idc/engine/core"
)

// EncodeJSON marshals a value for a JSON column.
func EncodeJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return data, nil
}

// DecodeDocument unmarshals a JSON column into a document.
func DecodeDocument(data []byte) (core.Document, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// DecodeMap unmarshals a JSON column into a generic object.
func DecodeMap(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

// NestFilter turns dotted filter keys into nested objects.
func NestFilter(f Filter) map[string]any {
	out := make(map[string]any)
	for key, value := range f {
		parts := strings.Split(key, ".")
		current := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}
	return out
}

// DocumentTimes extracts createdAt/updatedAt from the document body, falling
// back to now.
func DocumentTimes(doc core.Document, now time.Time) (time.Time, time.Time) {
	return parseTime(doc[core.FieldCreatedAt], now), parseTime(doc[core.FieldUpdatedAt], now)
}

func parseTime(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return fallback.UTC()
}
