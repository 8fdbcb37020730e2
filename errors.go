package main

import "github.com/pkg/errors"

// Sentinel errors for the semantic error kinds the dispatcher and
// fanout engine recognize. These are wrapped with context via
// fmt.Errorf("...: %w", ...) at call sites; goroutine boundaries that
// want a stack trace use github.com/pkg/errors.Wrap instead.
var (
	ErrDuplicateName    = errors.New("duplicate name")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrModuleVeto       = errors.New("vetoed by module")
)
