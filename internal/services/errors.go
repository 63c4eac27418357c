package services

import (
	"errors"
	"strings"
)

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and test
// with errors.Is.
var (
	// ErrInvalidQuery is a user-correctable input problem.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrSearchUnavailable means the search service could not be reached or
	// answered with a non-success status.
	ErrSearchUnavailable = errors.New("search service unavailable")
	// ErrEnhancementUnavailable means the LLM step failed. It is recovered
	// by fallback formatting and never shown to users.
	ErrEnhancementUnavailable = errors.New("enhancement unavailable")
)

const (
	CodeInvalidQuery      = "invalid_query"
	CodeSearchUnavailable = "search_unavailable"
	CodeInternal          = "internal"
)

const (
	msgSearchUnavailable = "The search service is currently unavailable. Please try again later."
	msgInternal          = "An unexpected error occurred while processing the request."
)

// ErrorCode classifies err for structured error payloads.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return CodeInvalidQuery
	case errors.Is(err, ErrSearchUnavailable):
		return CodeSearchUnavailable
	default:
		return CodeInternal
	}
}

// PublicMessage returns a message that is safe to show to a client. Only
// validation messages authored in this package are passed through.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuery):
		var qe *QueryError
		if errors.As(err, &qe) {
			return qe.Reason
		}
		return "The query is invalid."
	case errors.Is(err, ErrSearchUnavailable):
		return msgSearchUnavailable
	default:
		return msgInternal
	}
}

// QueryError carries an authored, user-facing validation reason.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	if e.Reason == "" {
		return ErrInvalidQuery.Error()
	}
	return ErrInvalidQuery.Error() + ": " + strings.ToLower(e.Reason[:1]) + e.Reason[1:]
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

// NewQueryError returns an ErrInvalidQuery carrying reason as its public
// message.
func NewQueryError(reason string) error {
	return &QueryError{Reason: reason}
}

func invalidQuery(reason string) error {
	return NewQueryError(reason)
}
