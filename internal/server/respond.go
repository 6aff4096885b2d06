package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

// maxBodyBytes bounds request bodies; conversation histories are the
// largest legitimate payload.
const maxBodyBytes = 4 << 20

const modelFailureMessage = "the model returned an unexpected response"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind       string                  `json:"kind"`
	Message    string                  `json:"message"`
	Violations []domain.FieldViolation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeError maps err onto the domain taxonomy's status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	status := domain.HTTPStatusCode(err)
	detail := errorDetail{Kind: string(domain.KindOf(err)), Message: err.Error()}

	var ce *domain.ContractError
	var mv *domain.ModelContractViolation
	switch {
	case errors.As(err, &ce):
		detail.Violations = ce.Violations
	case errors.As(err, &mv):
		// the violations quote model output; they stay in the request log
		detail.Message = modelFailureMessage
	case errors.Is(err, domain.ErrNotFound):
		detail.Kind = "not_found"
	case status == http.StatusInternalServerError:
		detail.Kind = "internal_error"
		detail.Message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// decodeJSON reads a JSON request body into v. Malformed bodies are
// reported as contract errors against the named operation.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badBody(op, fmt.Sprintf("read body: %v", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return badBody(op, "request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return badBody(op, err.Error())
	}
	return nil
}

func badBody(op, reason string) error {
	return &domain.ContractError{Flow: op, Violations: []domain.FieldViolation{{Path: "$", Reason: reason}}}
}

func required(op string, fields map[string]string) error {
	var vs []domain.FieldViolation
	for _, name := range sortedKeys(fields) {
		if fields[name] == "" {
			vs = append(vs, domain.FieldViolation{Path: name, Reason: "required field missing"})
		}
	}
	if len(vs) > 0 {
		return &domain.ContractError{Flow: op, Violations: vs}
	}
	return nil
}
