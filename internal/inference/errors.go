package inference

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	ErrMissingCredential   = errors.New("API key not configured")
	ErrMalformedCredential = errors.New("API key format is invalid")
)

// TransientError represents a failure that may succeed on another attempt.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a failure that will repeat for the current model.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) error {
	return &FatalError{err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// StatusError is a non-success HTTP response from the inference endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err came from a rate-limit response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// classifyHTTPError wraps a non-success response as transient or fatal.
// Rate limiting and server errors are transient; any other client error is
// fatal for the model that produced it.
func classifyHTTPError(statusCode int, body []byte) error {
	err := &StatusError{StatusCode: statusCode, Message: errorMessage(statusCode, body)}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode >= 400:
		return NewFatalError(err)
	default:
		return NewTransientError(err)
	}
}

// maxBodyMessage caps, in bytes, how much of an unstructured error body is
// quoted in a StatusError.
const maxBodyMessage = 200

// errorMessage prefers the structured error.message field of the body.
func errorMessage(statusCode int, body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxBodyMessage {
		cut := maxBodyMessage
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return msg
}
