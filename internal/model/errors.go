package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates blank or malformed input where a value is required.
	ErrValidation = errors.New("validation error")

	// ErrDimensionMismatch indicates two vectors of unequal length were compared.
	// It is a configuration error and is raised as a panic value.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrBuildInProgress indicates an index build is already running.
	ErrBuildInProgress = errors.New("index build in progress")

	// ErrNotBuilt indicates the index was queried before a successful build.
	ErrNotBuilt = errors.New("index not built")

	// ErrNotFound indicates a requested chunk or source does not exist.
	ErrNotFound = errors.New("not found")
)

// ProviderError reports a failed call to an external embedding or LLM provider
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// BuildError reports a failed index build; the index stays unbuilt
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is or wraps a ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
