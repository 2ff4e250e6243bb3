package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	IDSeparator = "~"

	VersionsCollection = "idc-versions"
	ActionsCollection  = "idc-actions"

	maxIDAttempts = 8
)

// ExistsFunc reports whether an id is already taken in a collection.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// GenerateID allocates "<collection>~<uuid-v4>", regenerating while exists
// reports a collision. A nil exists skips the check.
func GenerateID(ctx context.Context, collection string, exists ExistsFunc) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("%w: collection name is required", ErrInvalidID)
	}
	for range maxIDAttempts {
		id := collection + IDSeparator + uuid.NewString()
		if exists == nil {
			return id, nil
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check id collision: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique id in %s after %d attempts", collection, maxIDAttempts)
}

// CollectionFromID strips the trailing "~<uuid>" segment.
func CollectionFromID(id string) (string, error) {
	idx := strings.LastIndex(id, IDSeparator)
	if idx <= 0 || idx == len(id)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id[:idx], nil
}
