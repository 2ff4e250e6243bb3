package cache

import "errors"

var (
	ErrLockNotAcquired = errors.New("cache: lock not acquired")
	ErrLockNotHeld     = errors.New("cache: lock not held")
)
