package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// DeepCopyMap returns a deep copy of m.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	copied, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return copied
}

// DeepCopy returns a deep copy of v as the same type.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied, ok := deepcopy.Copy(v).(T)
	if !ok {
		return zero, fmt.Errorf("failed to copy value of type %T", v)
	}
	return copied, nil
}
