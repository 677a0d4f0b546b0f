package classify

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes classification failures.
type ErrorCode string

const (
	// ErrCodeModelLoad indicates the model, its manifest, or its labels
	// could not be loaded or did not agree with each other.
	ErrCodeModelLoad ErrorCode = "MODEL_LOAD"

	// ErrCodeInference indicates the model was loaded but running it failed,
	// including a panic inside the backend.
	ErrCodeInference ErrorCode = "INFERENCE"
)

// Error is returned by Classify for every failure.
type Error struct {
	Code ErrorCode
	// Message is a short human-readable description.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsModelLoad returns true if err is a model load failure.
// Uses errors.As to handle wrapped errors.
func IsModelLoad(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeModelLoad
	}
	return false
}

// IsInference returns true if err is an inference failure.
func IsInference(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeInference
	}
	return false
}

func modelLoadError(msg string, err error) *Error {
	return &Error{Code: ErrCodeModelLoad, Message: msg, Err: err}
}

func inferenceError(msg string, err error) *Error {
	return &Error{Code: ErrCodeInference, Message: msg, Err: err}
}
