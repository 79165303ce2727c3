// Package apperr defines the single error type used to carry an HTTP-status
// shaped code, a human message, a retryability flag, and an optional wrapped
// cause across package boundaries.
package apperr

import "fmt"

// Code identifies the taxonomy kind of an AppError, independent of its
// message text, so callers can branch with IsCode instead of string matching.
type Code string

const (
	CodeInvalidHex        Code = "invalid_hex"
	CodeInvalidBase64     Code = "invalid_base64"
	CodeInvalidLength     Code = "invalid_length"
	CodeInvalidKey        Code = "invalid_key"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeDecryptionFailed  Code = "decryption_failed"
	CodeInvalidGroupSig   Code = "invalid_group_signature"
	CodeInvalidAccessProof Code = "invalid_access_proof"
	CodeInvalidEpoch      Code = "invalid_epoch"
	CodeChainBroken       Code = "chain_broken"
	CodeConflictDetected  Code = "conflict_detected"
	CodeGapDetected       Code = "gap_detected"
	CodeNoHead            Code = "no_head"
	CodeNotMember         Code = "not_member"
	CodeUnknownSender     Code = "unknown_sender"
	CodeMissingCredential Code = "missing_credential"
	CodeReadonlyPending   Code = "readonly_pending_transition"
	CodePendingJoin       Code = "pending_join"
	CodeNotInitialized    Code = "not_initialized"
	CodeSerialization     Code = "serialization_failure"
	CodeStorageIO         Code = "storage_io"
	CodeInvalidJSON       Code = "invalid_json"
	CodeMissingField      Code = "missing_field"
	CodeUnknownAction     Code = "unknown_action"
	CodeSQLExecution      Code = "sql_execution_failure"
	CodeTableNotFound     Code = "table_not_found"
	CodeInvalidMigration  Code = "invalid_migration"
	CodeHTTPStatus        Code = "http_status_error"
	CodeInvalidResponse   Code = "invalid_response"
	CodeTimeout           Code = "timeout"
	CodeNotConfigured     Code = "not_configured"
	CodeOperationInProgress Code = "operation_in_progress"
	CodeInternal          Code = "internal"
)

// AppError is the taxonomy-carrying error type returned across package
// boundaries. HTTPStatus is advisory for transport-facing callers; library
// consumers that never touch HTTP can ignore it and match on Code instead.
type AppError struct {
	HTTPStatus int
	Code       Code
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New builds an AppError with the given code, message, and HTTP status. It is
// not retryable by default.
func New(status int, code Code, message string) *AppError {
	return &AppError{HTTPStatus: status, Code: code, Message: message}
}

// Wrap builds an AppError that carries cause as its Unwrap target.
func Wrap(status int, code Code, message string, cause error) *AppError {
	return &AppError{HTTPStatus: status, Code: code, Message: message, Cause: cause}
}

// Retry marks e as retryable and returns it, for chaining at the construction site.
func (e *AppError) Retry() *AppError {
	e.Retryable = true
	return e
}

// Internal wraps cause as an opaque internal error with HTTP 500.
func Internal(cause error) *AppError {
	return &AppError{HTTPStatus: 500, Code: CodeInternal, Message: "internal error", Cause: cause}
}

// IsCode reports whether err is an *AppError with the given code.
func IsCode(err error, code Code) bool {
	var ae *AppError
	for err != nil {
		if a, ok := err.(*AppError); ok {
			ae = a
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ae != nil && ae.Code == code
}
