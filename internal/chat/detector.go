package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
)

// Verdicts reported by Detector.Await.
const (
	VerdictStable         = "stable"
	VerdictIndicatorStuck = "stable_indicator_stuck"
	VerdictTruncated      = "truncated"
	VerdictTimeout        = "timeout"
)

// Completion is the outcome of waiting for an answer.
type Completion struct {
	Text string
	// Truncated is set when the budget ran out before the text settled.
	Truncated bool
	Verdict   string
	Polls     int
}

// TransientFilter recognises placeholder status text ("thinking", "parsing
// image") that some sites show before the answer. Only short texts qualify.
type TransientFilter struct {
	phrases []string
	maxLen  int
}

func NewTransientFilter(phrases []string, maxLen int) TransientFilter {
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return TransientFilter{phrases: lower, maxLen: maxLen}
}

// Match reports whether text is a status placeholder.
func (f TransientFilter) Match(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > f.maxLen {
		return false
	}
	text = strings.ToLower(text)
	for _, p := range f.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Detector decides when the assistant has finished answering.
//
// Content that stops changing while no generation indicator is visible
// completes after FastStable unchanged reads. Indicators on some sites are
// stale nodes that never go away, so content unchanged for SlowStable reads
// completes regardless of the indicator.
type Detector struct {
	Signals    Signals
	Clock      poll.Clock
	Interval   time.Duration
	Timeout    time.Duration
	FastStable int
	SlowStable int
	Transient  TransientFilter
}

// NewDetector builds a detector from t.
func NewDetector(signals Signals, t Timing, transient []string, clock poll.Clock) *Detector {
	return &Detector{
		Signals:    signals,
		Clock:      clock,
		Interval:   t.PollInterval,
		Timeout:    t.ResponseTimeout,
		FastStable: t.FastStableReads,
		SlowStable: t.SlowStableReads,
		Transient:  NewTransientFilter(transient, t.TransientMaxLen),
	}
}

// Await polls until the answer settles. pre is the newest assistant message
// before the prompt was submitted; it is never returned. When the budget runs
// out, the last content seen is returned as a truncated completion, or
// ErrResponseTimeout if nothing new ever appeared.
func (d *Detector) Await(ctx context.Context, pre string) (Completion, error) {
	var (
		last       string
		fast, slow int
		result     Completion
		firstSeen  time.Time
	)
	start := d.now()

	p := poll.Poller{Clock: d.Clock, Interval: d.Interval, Timeout: d.Timeout}
	err := p.Run(ctx, func(attempt int) (bool, error) {
		result.Polls = attempt
		generating := d.Signals.Generating(ctx)
		current := d.Signals.LatestResponse(ctx)

		switch {
		case current == "":
			return false, nil
		case current == pre:
			return false, nil
		case d.Transient.Match(current):
			L_trace("completion: skipping status text", "text", current)
			return false, nil
		}

		if firstSeen.IsZero() {
			firstSeen = d.now()
			L_debug("completion: first content", "after", firstSeen.Sub(start), "preview", Truncate(current, 80))
		}

		if current != last {
			last = current
			fast, slow = 0, 0
			return false, nil
		}

		slow++
		if !generating {
			fast++
		}
		switch {
		case !generating && fast >= d.FastStable:
			result.Verdict = VerdictStable
		case slow >= d.SlowStable:
			result.Verdict = VerdictStable
			if generating {
				result.Verdict = VerdictIndicatorStuck
			}
		default:
			return false, nil
		}
		result.Text = current
		return true, nil
	})

	switch {
	case err == nil:
		L_debug("completion: settled", "verdict", result.Verdict, "polls", result.Polls, "elapsed", d.now().Sub(start))
	case errors.Is(err, poll.ErrExhausted):
		if last == "" {
			MetricOutcome("completion", "verdict", VerdictTimeout)
			L_warn("completion: no response", "polls", result.Polls)
			return Completion{Verdict: VerdictTimeout, Polls: result.Polls}, ErrResponseTimeout
		}
		L_warn("completion: budget exhausted, returning partial answer", "polls", result.Polls, "length", len(last))
		result.Text = last
		result.Truncated = true
		result.Verdict = VerdictTruncated
	default:
		return Completion{Polls: result.Polls}, err
	}

	MetricOutcome("completion", "verdict", result.Verdict)
	return result, nil
}

func (d *Detector) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}
