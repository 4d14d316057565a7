package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
)

// Category is the closed failure taxonomy the engine surfaces to callers.
type Category string

const (
	CategoryPermission Category = "permission"
	CategoryNetwork    Category = "network"
	CategoryService    Category = "service"
	CategoryUnknown    Category = "unknown"
)

// Stage identifies where in the connect sequence a failure was captured.
type Stage string

const (
	StagePermission Stage = "permission"
	StageCredential Stage = "credential"
	StageDial       Stage = "dial"
	StageStream     Stage = "stream"
	StageCapture    Stage = "capture"
)

// CategorizedError is the only error shape the engine exposes. It is derived,
// never persisted.
type CategorizedError struct {
	Category    Category
	Retryable   bool
	UserMessage string
	Cause       error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.UserMessage)
}

func (e *CategorizedError) Unwrap() error { return e.Cause }

// statusCoder is implemented by endpoint client errors that carry an HTTP
// status, without this package importing those clients.
type statusCoder interface{ HTTPStatus() int }

// userMessages are category-specific guidance strings rendered by callers.
var userMessages = map[Category]string{
	CategoryPermission: "Microphone access was denied. Enable microphone permissions and try again.",
	CategoryNetwork:    "Connection lost. Check your network and retry.",
	CategoryService:    "The call service rejected the session. Retrying usually resolves this.",
	CategoryUnknown:    "Something went wrong starting the call.",
}

// Classify maps a raw failure at the given stage to a CategorizedError using
// the supplied policy's retryability mapping.
func Classify(p Policy, stage Stage, err error) *CategorizedError {
	cat := categorize(stage, err)
	return &CategorizedError{
		Category:    cat,
		Retryable:   p.retryable(cat),
		UserMessage: userMessages[cat],
		Cause:       err,
	}
}

func categorize(stage Stage, err error) Category {
	switch stage {
	case StagePermission, StageCapture:
		// Device acquisition failures always require user action outside the
		// engine, including a device disappearing mid-setup.
		return CategoryPermission
	case StageCredential:
		var sc statusCoder
		if errors.As(err, &sc) {
			return CategoryService
		}
		if isTransportError(err) {
			return CategoryNetwork
		}
		return CategoryUnknown
	case StageDial:
		var sc statusCoder
		if errors.As(err, &sc) {
			// Handshake rejected with a status (e.g. expired credential).
			return CategoryService
		}
		if isTransportError(err) {
			return CategoryNetwork
		}
		return CategoryNetwork
	case StageStream:
		if isTransportError(err) {
			return CategoryNetwork
		}
		// The remote endpoint spoke; it rejected or aborted the session.
		return CategoryService
	}
	return CategoryUnknown
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
