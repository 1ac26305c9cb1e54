package errors

import "errors"

// Sentinel errors for the failure classes the pipeline distinguishes.
// Callers classify wrapped errors with errors.Is.
var (
	// ErrMalformedInput indicates a bad risk assessment or corpus record.
	// Never retried.
	ErrMalformedInput = errors.New("malformed input")

	// ErrRetrievalUnavailable indicates the vector index or query backend
	// failed after bounded retries.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationTimeout indicates the text-generation call exceeded its
	// per-call deadline.
	ErrGenerationTimeout = errors.New("generation timeout")

	// ErrGenerationFailed indicates the text-generation backend returned an
	// error.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSchemaViolation indicates the validator rejected a report draft.
	ErrSchemaViolation = errors.New("report schema violation")

	// ErrRetryExhausted indicates the per-session retry budget ran out.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrSessionExpired indicates an operation on a reaped session. The
	// identifier cannot be reused.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionNotFound indicates an unknown session identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrReportNotReady indicates the session has not reached a terminal
	// phase yet.
	ErrReportNotReady = errors.New("report not ready")
)
