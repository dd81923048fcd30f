package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stable wire codes produced by the host dispatcher.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeVersionNotSupported = "version_not_supported"
	CodeMethodNotFound      = "method_not_found"
	CodeException           = "exception"
)

// Codes produced locally by the client invoker; they never cross the wire.
const (
	CodeTimeout    = "timeout"
	CodePageUnload = "page-unload"
	CodeNoHost     = "no-webview"
	CodeSendFailed = "postMessage-failed"
	CodeCancelled  = "cancelled"
)

// Error follows the API contract for structured failures.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the local failure behind a client-side error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf helps build protocol errors. details is marshalled as-is; a value
// that cannot be marshalled is dropped.
func Errorf(code, message string, details any) *Error {
	e := &Error{Code: code, Message: message}
	switch d := details.(type) {
	case nil:
	case json.RawMessage:
		e.Details = d
	default:
		if raw, err := json.Marshal(d); err == nil {
			e.Details = raw
		}
	}
	return e
}

// IsCode reports whether err is a bridge *Error with the given code.
func IsCode(err error, code string) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == code
}

// Detailer is implemented by handler errors that carry structured details
// for the failure envelope.
type Detailer interface {
	ErrorDetails() any
}
