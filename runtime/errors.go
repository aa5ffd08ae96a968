package runtime

import "errors"

// Common errors used across runtime implementations
var (
	ErrRuntimeNotFound         = errors.New("runtime not found")
	ErrModuleCompileFailed     = errors.New("module compilation failed")
	ErrModuleInstantiateFailed = errors.New("module instantiation failed")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
)
