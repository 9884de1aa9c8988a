package chat

import "time"

// Timing holds every wait and threshold used during a turn.
type Timing struct {
	// ResolveWait bounds each candidate in the resolver's second pass.
	ResolveWait time.Duration
	// ElementTimeout bounds the wait for the input box before giving up.
	ElementTimeout time.Duration
	// ReadyTimeout bounds the wait for the logged-in indicator after a new conversation.
	ReadyTimeout time.Duration

	PollInterval    time.Duration
	ResponseTimeout time.Duration
	FastStableReads int
	SlowStableReads int
	TransientMaxLen int

	ConfirmInterval      time.Duration
	ConfirmTimeout       time.Duration
	ImageResubmitTimeout time.Duration
	// ImageSettle is the pause between a finished upload and typing the prompt.
	ImageSettle time.Duration

	NewChatWait time.Duration
}

// DefaultTiming returns the tuned defaults for the supported sites.
func DefaultTiming() Timing {
	return Timing{
		ResolveWait:          500 * time.Millisecond,
		ElementTimeout:       10 * time.Second,
		ReadyTimeout:         5 * time.Second,
		PollInterval:         300 * time.Millisecond,
		ResponseTimeout:      120 * time.Second,
		FastStableReads:      2,
		SlowStableReads:      3,
		TransientMaxLen:      30,
		ConfirmInterval:      300 * time.Millisecond,
		ConfirmTimeout:       1500 * time.Millisecond,
		ImageResubmitTimeout: 6 * time.Second,
		ImageSettle:          500 * time.Millisecond,
		NewChatWait:          3 * time.Second,
	}
}

// AttachTiming configures the image attachment flow.
type AttachTiming struct {
	MaxAttempts     int
	TriggerTimeout  time.Duration
	MenuTimeout     time.Duration
	ChooserTimeout  time.Duration
	PreviewTimeout  time.Duration
	PreviewInterval time.Duration
	RetryPause      time.Duration
	FaultPause      time.Duration
	// DismissX/DismissY is an empty spot clicked to close a stuck menu.
	DismissX float64
	DismissY float64
}

func DefaultAttachTiming() AttachTiming {
	return AttachTiming{
		MaxAttempts:     3,
		TriggerTimeout:  5 * time.Second,
		MenuTimeout:     3 * time.Second,
		ChooserTimeout:  10 * time.Second,
		PreviewTimeout:  10 * time.Second,
		PreviewInterval: 200 * time.Millisecond,
		RetryPause:      500 * time.Millisecond,
		FaultPause:      time.Second,
		DismissX:        10,
		DismissY:        10,
	}
}
