package compute

import (
	"errors"
	"fmt"
	"net/http"

	"vizflow/internal/domain"
)

// WorkflowRequest is the JSON body sent to POST /v1/workflow on a compute
// agent. Used by both the remote executor (internal/compute/remote.go) and
// the agent handler (internal/agent/handler.go) so the wire contract stays
// in sync at compile time.
type WorkflowRequest struct {
	DatasetID string           `json:"datasetId"`
	Query     WorkflowQuery    `json:"query"`
	Joins     []domain.JoinHop `json:"joins,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
}

// WorkflowQuery wraps the ordered step list.
type WorkflowQuery struct {
	Workflow domain.Workflow `json:"workflow"`
}

// WorkflowResponse is the JSON body returned by POST /v1/workflow. On
// failure Success is false and Message, Code and Field describe the error.
type WorkflowResponse struct {
	Success   bool         `json:"success"`
	Data      []domain.Row `json:"data"`
	RowCount  int          `json:"rowCount"`
	RequestID string       `json:"requestId,omitempty"`
	Message   string       `json:"message,omitempty"`
	Code      string       `json:"code,omitempty"`
	Field     string       `json:"field,omitempty"`
	// Join is set with CodeJoinPath.
	Join *JoinPathDetail `json:"join,omitempty"`
}

// ErrorResponse is the JSON error body returned by the agent on failures.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	Field     string          `json:"field,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Join      *JoinPathDetail `json:"join,omitempty"`
}

// JoinPathDetail carries what a join path error holds beyond its code and
// field (the source dataset).
type JoinPathDetail struct {
	To         string             `json:"to,omitempty"`
	Reason     string             `json:"reason"`
	Candidates [][]domain.JoinHop `json:"candidates,omitempty"`
}

// JoinDetail extracts the join path detail of err, or nil.
func JoinDetail(err error) *JoinPathDetail {
	var join *domain.JoinPathError
	if !errors.As(err, &join) {
		return nil
	}
	return &JoinPathDetail{To: join.To, Reason: join.Reason, Candidates: join.Candidates}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int    `json:"uptimeSeconds"`
	Backend       string `json:"backend"`
	Datasets      int    `json:"datasets"`
	DuckDBVersion string `json:"duckdbVersion,omitempty"`
}

// DatasetInfo describes one dataset an agent can query.
type DatasetInfo struct {
	ID       string         `json:"id"`
	Fields   []domain.Field `json:"fields"`
	RowCount int            `json:"rowCount"`
}

// DatasetsResponse is returned by GET /v1/datasets.
type DatasetsResponse struct {
	Datasets []DatasetInfo `json:"datasets"`
}

// Wire error codes.
const (
	CodeUnknownField = "UNKNOWN_FIELD"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeExecution    = "EXECUTION_ERROR"
	CodeAuth         = "AUTH_ERROR"
	CodeParse        = "PARSE_ERROR"
	CodeJoinPath     = "JOIN_PATH_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

// ErrorCode maps a typed error to its wire code, offending field and HTTP
// status.
func ErrorCode(err error) (code, field string, status int) {
	var (
		unknown  *domain.UnknownFieldError
		notFound *domain.NotFoundError
		valid    *domain.ValidationError
		cyc      *domain.CyclicFieldReferenceError
		join     *domain.JoinPathError
	)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeAuth, "", http.StatusUnauthorized
	case errors.As(err, &unknown):
		return CodeUnknownField, unknown.Field, http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return CodeNotFound, "", http.StatusNotFound
	case errors.As(err, &join):
		return CodeJoinPath, join.From, http.StatusUnprocessableEntity
	case errors.As(err, &valid), errors.As(err, &cyc):
		return CodeValidation, "", http.StatusBadRequest
	}
	return CodeExecution, "", http.StatusInternalServerError
}

// ErrorFromWire rebuilds the typed error an agent reported. join is only
// read for CodeJoinPath; without it the reason defaults to no path.
func ErrorFromWire(code, message, field string, join *JoinPathDetail) error {
	switch code {
	case CodeUnknownField:
		return &domain.UnknownFieldError{Field: field}
	case CodeNotFound:
		return &domain.NotFoundError{Message: message}
	case CodeValidation, CodeParse:
		return &domain.ValidationError{Message: message}
	case CodeJoinPath:
		e := &domain.JoinPathError{From: field, Reason: domain.JoinPathNoPath}
		if join != nil {
			e.To = join.To
			e.Candidates = join.Candidates
			if join.Reason != "" {
				e.Reason = join.Reason
			}
		}
		return e
	case CodeAuth:
		return &domain.TransportError{Op: "remote auth", Err: fmt.Errorf("%w: %s", ErrUnauthorized, message)}
	}
	if message == "" {
		message = "remote execution failed"
	}
	return &domain.TransportError{Op: "remote " + codeOrUnknown(code), Err: errors.New(message)}
}

func codeOrUnknown(code string) string {
	if code == "" {
		return "error"
	}
	return code
}
