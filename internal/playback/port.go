// Package playback defines the port the engine drives to start and stop
// media on a remote device.
package playback

import (
	"context"
	"errors"
	"fmt"
)

// Port controls playback on external devices. Implementations must honour
// ctx cancellation.
type Port interface {
	Start(ctx context.Context, deviceID, sourceURI string, opts StartOptions) error
	Stop(ctx context.Context, deviceID string, opts StopOptions) error
	ListDevices(ctx context.Context) ([]Device, error)
}

// Lister is implemented by ports that can enumerate the user's playlists.
type Lister interface {
	ListPlaylists(ctx context.Context) ([]Playlist, error)
}

// StartOptions are the optional playback parameters of a start.
type StartOptions struct {
	Volume  *int
	Shuffle bool
}

// StopOptions narrows a stop. When OnlyIfSource is set the device is only
// paused while that source is playing.
type StopOptions struct {
	OnlyIfSource string
}

// Device is a playback target.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent,omitempty"`
}

// Playlist is a playable source offered to the management UI.
type Playlist struct {
	URI        string `json:"uri"`
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	TrackCount int    `json:"track_count"`
	ImageURL   string `json:"image_url,omitempty"`
}

// ==========================================================================
// Errors
// ==========================================================================

// Reason classifies a playback failure.
type Reason string

const (
	ReasonDeviceOffline Reason = "device_offline"
	ReasonAuthExpired   Reason = "auth_expired"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonNotConfigured Reason = "not_configured"
	ReasonUnknown       Reason = "unknown"
)

// Error is a classified playback failure.
type Error struct {
	Reason  Reason
	Message string
	// Status is the upstream HTTP status, when there was one.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("playback %s (%d): %s", e.Reason, e.Status, e.Message)
	}
	return fmt.Sprintf("playback %s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

// ReasonOf classifies any error returned by a port.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonUnknown
}

// Classify wraps err as an *Error. Deadline and cancellation errors become
// unknown failures with a timeout message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Reason: ReasonUnknown, Message: "playback call timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Reason: ReasonUnknown, Message: "playback call canceled", Err: err}
	default:
		return &Error{Reason: ReasonUnknown, Message: err.Error(), Err: err}
	}
}

// ==========================================================================
// Unconfigured
// ==========================================================================

// Unconfigured is the port used when no playback backend has credentials.
// Every call fails with ReasonNotConfigured.
type Unconfigured struct{}

var errNotConfigured = NewError(ReasonNotConfigured, "no playback backend configured")

func (Unconfigured) Start(context.Context, string, string, StartOptions) error {
	return errNotConfigured
}

func (Unconfigured) Stop(context.Context, string, StopOptions) error { return errNotConfigured }

func (Unconfigured) ListDevices(context.Context) ([]Device, error) { return nil, errNotConfigured }
