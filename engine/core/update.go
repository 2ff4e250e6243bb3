package core

import (
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
)

const (
	OpSet   = "$set"
	OpUnset = "$unset"
	OpInc   = "$inc"
	OpMerge = "$merge"
)

var protectedFields = map[string]struct{}{
	FieldID:        {},
	FieldCreatedAt: {},
}

var opOrder = map[string]int{OpMerge: 0, OpSet: 1, OpInc: 2, OpUnset: 3}

// ApplyUpdate applies one update operation or a list of operations to a copy of
// doc. A map without "$" keys is treated as a $merge.
func ApplyUpdate(doc Document, update any) (Document, error) {
	ops, err := updateOps(update)
	if err != nil {
		return nil, err
	}
	result := doc.Clone()
	if result == nil {
		result = Document{}
	}
	for i, op := range ops {
		if err := applyOp(result, op); err != nil {
			return nil, fmt.Errorf("update operation %d: %w", i, err)
		}
	}
	return result, nil
}

func updateOps(update any) ([]map[string]any, error) {
	switch u := update.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{u}, nil
	case Document:
		return []map[string]any{map[string]any(u)}, nil
	case []map[string]any:
		return u, nil
	case []any:
		ops := make([]map[string]any, 0, len(u))
		for i, item := range u {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: operation %d must be an object, got %T", ErrInvalidUpdate, i, item)
			}
			ops = append(ops, m)
		}
		return ops, nil
	default:
		return nil, fmt.Errorf("%w: unsupported update type %T", ErrInvalidUpdate, update)
	}
}

func applyOp(doc Document, op map[string]any) error {
	operators := 0
	for key := range op {
		if strings.HasPrefix(key, "$") {
			operators++
		}
	}
	if operators == 0 {
		return mergeInto(doc, op)
	}
	if operators != len(op) {
		return fmt.Errorf("%w: cannot mix operators and plain fields", ErrInvalidUpdate)
	}
	keys := make([]string, 0, len(op))
	for key := range op {
		if _, ok := opOrder[key]; !ok {
			return fmt.Errorf("%w: unknown operator %s", ErrInvalidUpdate, key)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return opOrder[keys[i]] < opOrder[keys[j]] })
	for _, key := range keys {
		var err error
		switch key {
		case OpMerge:
			fields, ok := op[key].(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s expects an object", ErrInvalidUpdate, key)
			}
			err = mergeInto(doc, fields)
		case OpSet:
			err = setFields(doc, op[key])
		case OpInc:
			err = incFields(doc, op[key])
		case OpUnset:
			err = unsetFields(doc, op[key])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkProtected(path string) error {
	root, _, _ := strings.Cut(path, ".")
	if _, ok := protectedFields[root]; ok {
		return fmt.Errorf("%w: %s", ErrProtectedField, root)
	}
	return nil
}

func mergeInto(doc Document, fields map[string]any) error {
	for key := range fields {
		if err := checkProtected(key); err != nil {
			return err
		}
	}
	dst := map[string]any(doc)
	if err := mergo.Merge(&dst, DeepCopyMap(fields), mergo.WithOverride); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	return nil
}

func setFields(doc Document, arg any) error {
	fields, ok := arg.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s expects an object", ErrInvalidUpdate, OpSet)
	}
	for path, value := range fields {
		if err := checkProtected(path); err != nil {
			return err
		}
		if err := setPath(doc, path, value); err != nil {
			return err
		}
	}
	return nil
}

func unsetFields(doc Document, arg any) error {
	var paths []string
	switch a := arg.(type) {
	case map[string]any:
		for path := range a {
			paths = append(paths, path)
		}
	case []any:
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("%w: %s list entries must be strings", ErrInvalidUpdate, OpUnset)
			}
			paths = append(paths, s)
		}
	case []string:
		paths = a
	default:
		return fmt.Errorf("%w: %s expects an object or a list", ErrInvalidUpdate, OpUnset)
	}
	for _, path := range paths {
		if err := checkProtected(path); err != nil {
			return err
		}
		parent, leaf := lookupParent(doc, path)
		if parent != nil {
			delete(parent, leaf)
		}
	}
	return nil
}

func incFields(doc Document, arg any) error {
	fields, ok := arg.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s expects an object", ErrInvalidUpdate, OpInc)
	}
	for path, delta := range fields {
		if err := checkProtected(path); err != nil {
			return err
		}
		if !isNumber(delta) {
			return fmt.Errorf("%w: %s value for %s must be numeric", ErrInvalidUpdate, OpInc, path)
		}
		var current any
		if parent, leaf := lookupParent(doc, path); parent != nil {
			current = parent[leaf]
		}
		if current != nil && !isNumber(current) {
			return fmt.Errorf("%w: cannot increment non-numeric field %s", ErrInvalidUpdate, path)
		}
		if err := setPath(doc, path, addNumbers(current, delta)); err != nil {
			return err
		}
	}
	return nil
}

func setPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	current := doc
	for i, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists || next == nil {
			child := map[string]any{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s is not an object", ErrInvalidUpdate, strings.Join(parts[:i+1], "."))
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

func lookupParent(doc map[string]any, path string) (map[string]any, string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := current[part].(map[string]any)
		if !ok {
			return nil, ""
		}
		current = child
	}
	return current, parts[len(parts)-1]
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint32, uint64:
		return true
	default:
		return false
	}
}

func addNumbers(current, delta any) any {
	if current == nil {
		return delta
	}
	if isInteger(current) && isInteger(delta) {
		return AsInt64(current) + AsInt64(delta)
	}
	return toFloat(current) + toFloat(delta)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return float64(AsInt64(v))
	}
}
