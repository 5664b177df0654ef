package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidPhase     = errors.New("operation not allowed in current phase")
	ErrBusy             = errors.New("another call is already open")
	ErrNoConnection     = errors.New("no matching peer connection")
	ErrStreamReleased   = errors.New("media stream already released")
	ErrUnknownEvent     = errors.New("unknown signaling event")
	ErrMalformedMessage = errors.New("malformed signaling message")
)

// MediaAccessError reports that a local capture device was denied or absent.
type MediaAccessError struct {
	Kind MediaKind
	Err  error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access (%s): %v", e.Kind, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// SignalingDeliveryError wraps a failed transport send. Sends are never retried.
type SignalingDeliveryError struct {
	Event Event
	Err   error
}

func (e *SignalingDeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Event, e.Err)
}

func (e *SignalingDeliveryError) Unwrap() error { return e.Err }

// BackendSyncError wraps a failed call to the meeting backend.
type BackendSyncError struct {
	MeetingID MeetingID
	Op        string
	Err       error
}

func (e *BackendSyncError) Error() string {
	return fmt.Sprintf("meeting %s: %s: %v", e.MeetingID, e.Op, e.Err)
}

func (e *BackendSyncError) Unwrap() error { return e.Err }

// IsMediaAccess reports whether err carries a MediaAccessError.
func IsMediaAccess(err error) bool {
	var target *MediaAccessError
	return errors.As(err, &target)
}
