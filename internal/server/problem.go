package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/services"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = "https://wgfleet.io/problems/not-found"
	ProblemTypeBadRequest  = "https://wgfleet.io/problems/bad-request"
	ProblemTypeInternal    = "https://wgfleet.io/problems/internal-error"
	ProblemTypeConflict    = "https://wgfleet.io/problems/conflict"
	ProblemTypeRateLimited = "https://wgfleet.io/problems/rate-limited"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: instance,
	})
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeBadRequest,
		Title:    "Bad Request",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
	})
}

// Conflict writes a 409 problem response.
func Conflict(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeConflict,
		Title:    "Conflict",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: instance,
	})
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: instance,
	})
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeRateLimited,
		Title:    "Too Many Requests",
		Status:   http.StatusTooManyRequests,
		Detail:   detail,
		Instance: instance,
	})
}

// WriteError maps a service error onto the matching problem response:
// not-found to 404, validation to 400, duplicates and exhaustion to 409,
// anything else to 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	instance := r.URL.Path
	switch {
	case errors.Is(err, services.ErrNotFound):
		NotFound(w, err.Error(), instance)
	case errors.Is(err, services.ErrValidation):
		BadRequest(w, err.Error(), instance)
	case errors.Is(err, services.ErrDuplicateInterface),
		errors.Is(err, services.ErrDuplicateAddress),
		errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, ipalloc.ErrAddressSpaceExhausted):
		Conflict(w, err.Error(), instance)
	default:
		InternalError(w, err.Error(), instance)
	}
}
