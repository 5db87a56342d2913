// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist within the
// caller's scope. It never distinguishes "exists but not yours" from
// "doesn't exist".
var ErrNotFound = errors.New("not found")

// ErrValidation indicates bad input shape or values. Messages wrapped
// around it are safe to echo back to the caller.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrUnrecoverableCredential indicates a secret that cannot be decrypted
// without the user re-entering it. Callers must surface this distinctly
// so the UI can prompt for re-entry instead of retrying.
var ErrUnrecoverableCredential = errors.New("credential cannot be decrypted; re-entry required")

// ErrCircularDependency indicates a service factory that transitively
// requested itself during construction. This is a wiring bug, not a
// runtime condition.
var ErrCircularDependency = errors.New("circular service dependency")

// ErrBackendUnavailable indicates the target identity system is
// unreachable or not configured.
var ErrBackendUnavailable = errors.New("identity backend unavailable")

// ErrInternal is the catch-all for failures whose detail is logged but
// never leaked to callers.
var ErrInternal = errors.New("internal error")
