// Package apierr defines the typed error taxonomy surfaced to callers of the
// inference-serving core, mirroring the business-error-code hierarchy the
// Python original expresses as exception classes.
package apierr

import "fmt"

// Code is a business error code distinct from the HTTP status it maps to.
type Code int

const (
	CodeGenericHTTP   Code = 1000
	CodeValidation    Code = 1002
	CodeModelManager  Code = 2001
	CodeScheduler     Code = 2002
	CodeCoreNormal    Code = 3000
	CodeCoreResponse  Code = 3001
	CodeInvalidArg    Code = 3100
	CodeSystem        Code = 9000
)

// Error is a business error carrying a numeric code alongside a message, the
// same shape as NormalResponse{code, message, data} in the original schema.
type Error struct {
	Code    Code
	Message string
	Data    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a caller-induced error; no retry is useful.
func InvalidArgument(format string, args ...any) *Error {
	return newf(CodeInvalidArg, format, args...)
}

// ModelManager reports a missing/unconfigured model or a load-state violation.
func ModelManager(format string, args ...any) *Error {
	return newf(CodeModelManager, format, args...)
}

// Scheduler reports a queue-full, classification, or timeout failure.
func Scheduler(format string, args ...any) *Error {
	return newf(CodeScheduler, format, args...)
}

// CoreNormal reports a foreign-call failure carrying a message from the
// native library.
func CoreNormal(format string, args ...any) *Error {
	return newf(CodeCoreNormal, format, args...)
}

// CoreResponse reports a response-parsing failure (content, tool-call).
func CoreResponse(format string, args ...any) *Error {
	return newf(CodeCoreResponse, format, args...)
}

// System wraps an unexpected error under the catch-all business code.
func System(err error) *Error {
	return &Error{Code: CodeSystem, Message: err.Error()}
}

// HTTPStatus returns the conventional HTTP status for a code. Business
// errors in the original are returned with HTTP 200 and an embedded code;
// we instead map to real status codes, which is the idiomatic Go/REST
// rendition of the same taxonomy.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return 422
	case CodeInvalidArg:
		return 400
	case CodeModelManager, CodeScheduler, CodeCoreNormal, CodeCoreResponse:
		return 500
	case CodeGenericHTTP:
		return 400
	default:
		return 500
	}
}
