// Package media owns local capture devices for an interview attempt.
// Permission denial is a first-class outcome, not a failure: callers
// map it to muted/camera-off defaults and carry on.
package media

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a capture device class.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// PermissionError reports that the runtime refused access to a device.
type PermissionError struct {
	Kind  Kind
	Cause error
}

func (e *PermissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media: %s permission denied: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("media: %s permission denied", e.Kind)
}

func (e *PermissionError) Unwrap() error { return e.Cause }

// IsPermissionDenied reports whether err is a device permission denial.
func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// Handle is a live capture stream for one device kind. At most one
// live handle per kind exists at a time; Stop releases every track and
// is idempotent.
type Handle interface {
	Kind() Kind
	Live() bool
	// Level returns the current input level in [0,1]. Video handles
	// always report 0.
	Level() float64
	Stop() error
}

// Acquirer requests capture devices from the runtime.
type Acquirer interface {
	Acquire(ctx context.Context, kind Kind) (Handle, error)
}

// Release stops h if it exists. Safe on nil and on already-stopped
// handles.
func Release(h Handle) {
	if h == nil {
		return
	}
	_ = h.Stop()
}

// Denied is an Acquirer for deployments with no capture devices; every
// request is refused, which callers degrade to muted/camera-off.
type Denied struct{}

func (Denied) Acquire(_ context.Context, kind Kind) (Handle, error) {
	return nil, &PermissionError{Kind: kind}
}
