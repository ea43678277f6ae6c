// Package common defines the error taxonomy shared by the submission pipeline
// and its adapters. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSubmissionInProgress is returned when a form is submitted while an
// earlier submit on the same form has not resolved yet.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// Field names used in ValidationError.Fields.
const (
	FieldFullName = "fullName"
	FieldFile     = "image"
	FieldForm     = "form"
)

// ValidationError describes input the visitor has to fix. No remote call has
// been made when one is returned.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UploadError is a failed proof upload: transport failure, non-2xx status or
// a response without the hosted URL.
type UploadError struct {
	Op     string
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Op, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistenceError is a registration write the store did not commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
