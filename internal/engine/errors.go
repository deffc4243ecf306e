package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an event the engine refused to apply.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Source is the writer that submitted the event.
	Source Source

	// EntityType and ID identify the target record, when known.
	EntityType string
	ID         string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRefusedSource: the event came from a writer other than
	// mutation, realtime or load.
	ErrCodeRefusedSource RuntimeErrorCode = "REFUSED_SOURCE"

	// ErrCodeInvalidEvent: the event is malformed (unknown type, bad entity).
	ErrCodeInvalidEvent RuntimeErrorCode = "INVALID_EVENT"

	// ErrCodeStopped: the engine is not accepting events.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.EntityType != "" {
		return fmt.Sprintf("%s: %s (source=%s, %s %s)", e.Code, e.Message, e.Source, e.EntityType, e.ID)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (source=%s)", e.Code, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRefused returns true if the event was rejected for its source.
// Uses errors.As to handle wrapped errors.
func IsRefused(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRefusedSource
	}
	return false
}

// IsStopped returns true if the engine was stopped before applying the event.
func IsStopped(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStopped
	}
	return false
}

func newRefusedError(ev Event) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRefusedSource,
		Message: "writer is not allowed to modify the authoritative store",
		Source:  ev.Source,
	}
}

func newInvalidEventError(ev Event, cause error) *RuntimeError {
	re := &RuntimeError{
		Code:    ErrCodeInvalidEvent,
		Message: cause.Error(),
		Source:  ev.Source,
	}
	switch ev.Type {
	case EventTypeUpsert:
		re.EntityType, re.ID = string(ev.Entity.Type), ev.Entity.ID
	case EventTypeDelete:
		re.EntityType, re.ID = string(ev.EntityType), ev.ID
	}
	return re
}

var errStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped"}
