// Package geolocation provides device position sources with watch and
// one-shot semantics modelled on the browser geolocation API.
package geolocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"
)

// ErrUnavailable is returned when the device has no position source
var ErrUnavailable = errors.New("geolocation not supported")

// ErrorCode classifies sampling failures
type ErrorCode int

const (
	PermissionDenied ErrorCode = iota + 1
	PositionUnavailable
	Timeout
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseErrorCode maps the W3C numeric codes and their names to an ErrorCode
func ParseErrorCode(s string) ErrorCode {
	switch s {
	case "1", "permission_denied", "PERMISSION_DENIED":
		return PermissionDenied
	case "3", "timeout", "TIMEOUT":
		return Timeout
	default:
		return PositionUnavailable
	}
}

// PositionError is a single sampling failure
type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("position error: %s", e.Code)
	}
	return fmt.Sprintf("position error: %s: %s", e.Code, e.Message)
}

// Options controls accuracy, acquisition timeout and cached-fix tolerance
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// Sample is one result of a watch: either a position or an error
type Sample struct {
	Position models.Position
	Err      error
}

// Source samples the device position
type Source interface {
	// Watch starts continuous sampling until ctx is cancelled; the channel is
	// closed when sampling stops
	Watch(ctx context.Context, opts Options) (<-chan Sample, error)
	// Current returns a single fix honouring opts
	Current(ctx context.Context, opts Options) (models.Position, error)
}
