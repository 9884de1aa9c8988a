// Package session owns the single browser session: launch, sign-in check,
// a first-come-first-served gate around every turn, liveness probing with
// transparent restart, and a periodic conversation reset.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

// State is the session lifecycle state.
type State int32

const (
	StateDown State = iota
	StateLaunching
	StateIdle
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateLaunching:
		return "launching"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady means there is no live session to run a turn on.
	ErrNotReady = errors.New("session not ready")
	// ErrNotAuthenticated is a fatal startup error: the page is not signed in
	// and no interactive login is configured (or it failed).
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrSessionUnhealthy means the liveness probe failed and the restart
	// that followed failed too.
	ErrSessionUnhealthy = errors.New("session: unhealthy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Recorder receives every finished turn, successful or not.
type Recorder interface {
	Record(ctx context.Context, t turnlog.Turn) error
}

// Request is one prompt, optionally with a server-local image.
type Request struct {
	Prompt    string
	ImagePath string
}

// Answer is the result of a turn.
type Answer struct {
	Text      string
	Truncated bool
	Verdict   string
	Requests  int64 // successful turns so far, this one included
	Elapsed   time.Duration
	TurnID    string
}

// Status is a point-in-time view for health reporting.
type Status struct {
	State    string `json:"state"`
	Ready    bool   `json:"ready"`
	Site     string `json:"site"`
	Requests int64  `json:"request_count"`
	Queued   int64  `json:"queued"`
	Restarts int64  `json:"restarts"`
}
