package errors

import (
	"fmt"
	"strings"
)

// Quick constructors for the common codes, cause omitted.
func Internal(message string) *Error      { return New(CommonInternal, message, nil) }
func NotFound(message string) *Error      { return New(CommonNotFound, message, nil) }
func Validation(message string) *Error    { return New(CommonValidation, message, nil) }
func Timeout(message string) *Error       { return New(CommonTimeout, message, nil) }
func Conflict(message string) *Error      { return New(CommonConflict, message, nil) }
func Unsupported(message string) *Error   { return New(CommonUnsupported, message, nil) }
func InvalidInput(message string) *Error  { return New(CommonInvalidInput, message, nil) }
func AlreadyExists(message string) *Error { return New(CommonAlreadyExists, message, nil) }

// IsError reports whether err is (or wraps) this package's *Error type.
func IsError(err error) bool {
	_, ok := CodeOf(err)
	return ok
}

// GetCode returns the string form of err's Code, or "" if err isn't ours.
func GetCode(err error) string {
	if c, ok := CodeOf(err); ok {
		return c.String()
	}
	return ""
}

// FormatForLog renders code, message, context and cause on one line, for
// use in places that log an error rather than propagate it.
func FormatForLog(err error) string {
	e, ok := err.(*Error)
	if !ok {
		return err.Error()
	}
	parts := []string{
		fmt.Sprintf("code=%s", e.Code),
		fmt.Sprintf("message=%s", e.Message),
	}
	if keys := e.GetContextKeys(); len(keys) > 0 {
		var ctxParts []string
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.GetContext(k)))
		}
		parts = append(parts, fmt.Sprintf("context=[%s]", strings.Join(ctxParts, " ")))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, " | ")
}
