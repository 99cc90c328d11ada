package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound     = "https://netreach.dev/problems/not-found"
	ProblemTypeBadRequest   = "https://netreach.dev/problems/bad-request"
	ProblemTypeInternal     = "https://netreach.dev/problems/internal-error"
	ProblemTypeRateLimited  = "https://netreach.dev/problems/rate-limited"
	ProblemTypeConflict     = "https://netreach.dev/problems/conflict"
	ProblemTypeUnavailable  = "https://netreach.dev/problems/unavailable"
)

var problemTypes = map[int]string{
	http.StatusBadRequest:          ProblemTypeBadRequest,
	http.StatusNotFound:            ProblemTypeNotFound,
	http.StatusConflict:            ProblemTypeConflict,
	http.StatusTooManyRequests:     ProblemTypeRateLimited,
	http.StatusInternalServerError: ProblemTypeInternal,
	http.StatusServiceUnavailable:  ProblemTypeUnavailable,
}

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

// Error writes a problem response whose type and title follow from status.
func Error(w http.ResponseWriter, status int, detail string) {
	typ, ok := problemTypes[status]
	if !ok {
		typ = "about:blank"
	}
	WriteProblem(w, Problem{
		Type:   typ,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
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
