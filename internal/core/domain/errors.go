// Package domain provides the canonical records, conversation turns and
// error taxonomy shared by every layer of the service.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind represents the category of a failure.
type ErrorKind string

const (
	// ErrorKindContract indicates caller input failed its contract.
	ErrorKindContract ErrorKind = "contract_error"

	// ErrorKindModelContract indicates the model answered outside its output contract.
	ErrorKindModelContract ErrorKind = "model_contract_violation"

	// ErrorKindTransport indicates a network, timeout or non-2xx failure talking to a collaborator.
	ErrorKindTransport ErrorKind = "transport_error"

	// ErrorKindPersistence indicates a document store write failed.
	ErrorKindPersistence ErrorKind = "persistence_error"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("not found")

// FieldViolation names one offending field path and what was wrong with it.
type FieldViolation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (v FieldViolation) String() string {
	return v.Path + ": " + v.Reason
}

func joinViolations(vs []FieldViolation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// ContractError is returned when caller-supplied input fails shape
// validation. The model is never called when this error is produced.
type ContractError struct {
	Flow       string           `json:"flow"`
	Violations []FieldViolation `json:"violations"`
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Flow, joinViolations(e.Violations))
}

// Field returns the first offending field path.
func (e *ContractError) Field() string {
	if len(e.Violations) == 0 {
		return ""
	}
	return e.Violations[0].Path
}

// ModelContractViolation is returned when the model's response does not
// satisfy the flow's output shape. It is never retried.
type ModelContractViolation struct {
	Flow       string
	Violations []FieldViolation
	// Raw is the unparsed model text, kept for logs only.
	Raw   string
	Cause error
}

// Error implements the error interface.
func (e *ModelContractViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: model response violates output contract: %v", e.Flow, e.Cause)
	}
	return fmt.Sprintf("%s: model response violates output contract: %s", e.Flow, joinViolations(e.Violations))
}

func (e *ModelContractViolation) Unwrap() error { return e.Cause }

// TransportError wraps network, timeout and non-2xx failures from the model
// or the document store.
type TransportError struct {
	Op         string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure looks transient.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PersistenceError reports a failed document store write. It never affects
// a result that has already been delivered.
type PersistenceError struct {
	Op         string
	Collection string
	Cause      error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Collection, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// KindOf classifies err into one of the taxonomy kinds. It returns an empty
// kind for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var (
		ce *ContractError
		mv *ModelContractViolation
		te *TransportError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ce):
		return ErrorKindContract
	case errors.As(err, &mv):
		return ErrorKindModelContract
	case errors.As(err, &te):
		return ErrorKindTransport
	case errors.As(err, &pe):
		return ErrorKindPersistence
	}
	return ""
}

// HTTPStatusCode returns the status code a handler should answer with for err.
func HTTPStatusCode(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	switch KindOf(err) {
	case ErrorKindContract:
		return http.StatusBadRequest
	case ErrorKindModelContract, ErrorKindTransport:
		return http.StatusBadGateway
	case ErrorKindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
