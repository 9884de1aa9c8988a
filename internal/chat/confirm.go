package chat

import (
	"context"
	"strings"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

// Confirmer submits the composed prompt and looks for evidence that the page
// accepted it. Sites give no explicit acknowledgement, so any of three
// signals counts: the input emptied, generation started, or the newest
// assistant message changed.
type Confirmer struct {
	page       driver.Page
	resolver   *Resolver
	signals    Signals
	clock      poll.Clock
	timing     Timing
	submitWith string
}

func NewConfirmer(page driver.Page, resolver *Resolver, signals Signals, t Timing, submitWith string, clock poll.Clock) *Confirmer {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Confirmer{
		page:       page,
		resolver:   resolver,
		signals:    signals,
		clock:      clock,
		timing:     t,
		submitWith: submitWith,
	}
}

// Check evaluates the signals cheapest first.
func (c *Confirmer) Check(ctx context.Context, input driver.Element, pre string) bool {
	if v, err := input.Value(ctx); err == nil && strings.TrimSpace(v) == "" {
		L_trace("confirm: input cleared")
		return true
	}
	if c.signals.Generating(ctx) {
		L_trace("confirm: generation started")
		return true
	}
	if cur := c.signals.LatestResponse(ctx); cur != "" && cur != pre {
		L_trace("confirm: new content appeared")
		return true
	}
	return false
}

// Submit sends the prompt and reports whether a signal confirmed it.
//
// A plain prompt is submitted once and then checked every ConfirmInterval
// for ConfirmTimeout. Right after an image upload the compose action may not
// be armed yet, so with imagePending the submit is repeated every
// ConfirmInterval until a signal fires or ImageResubmitTimeout runs out.
//
// An unconfirmed submission is not an error: the caller still waits for the
// answer, which is the authoritative check.
func (c *Confirmer) Submit(ctx context.Context, input driver.Element, pre string, imagePending bool) (bool, error) {
	interval := c.timing.ConfirmInterval
	budget := c.timing.ConfirmTimeout
	if imagePending {
		budget = c.timing.ImageResubmitTimeout
	}
	attempts := poll.Poller{Interval: interval, Timeout: budget}.Attempts()

	if !imagePending {
		if err := c.submit(ctx); err != nil {
			return false, err
		}
	}
	for i := 1; i <= attempts; i++ {
		if imagePending {
			if err := c.submit(ctx); err != nil {
				return false, err
			}
		}
		if err := c.clock.Sleep(ctx, interval); err != nil {
			return false, err
		}
		if c.Check(ctx, input, pre) {
			if i > 1 {
				L_debug("confirm: submission confirmed", "check", i, "imagePending", imagePending)
			}
			return true, nil
		}
	}

	L_debug("confirm: no signal, assuming sent", "error", ErrSubmissionUncertain, "imagePending", imagePending)
	return false, nil
}

// submit performs the site's send action. Button sites fall back to Enter
// when the button cannot be found.
func (c *Confirmer) submit(ctx context.Context) error {
	if c.submitWith == site.SubmitButton {
		if btn, loc := c.resolver.Probe(ctx, site.RoleSend); btn != nil {
			err := btn.Click(ctx)
			if err == nil {
				return nil
			}
			L_debug("confirm: send button click failed, pressing enter", "locator", loc, "error", err)
		}
	}
	return c.page.Press(ctx, driver.KeyEnter)
}
