package core

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// AsMap converts a tagged struct into its generic JSON map form.
func AsMap(v any) (map[string]any, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(bytes, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value to map: %w", err)
	}
	return out, nil
}

// FromMap decodes generic data into T using mapstructure tags. Input is weakly
// typed so rendered template strings still decode into numeric and bool fields.
func FromMap[T any](data any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(data); err != nil {
		return out, fmt.Errorf("failed to decode %T: %w", out, err)
	}
	return out, nil
}
