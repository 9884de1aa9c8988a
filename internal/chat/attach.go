package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

// attemptOutcome is how one pass through the attachment flow ended.
type attemptOutcome int

const (
	outcomeAttached  attemptOutcome = iota // preview appeared
	outcomeNoPreview                       // file handed over, no preview seen
	outcomeNoTrigger                       // attachment affordance missing
	outcomeNoMenu                          // menu did not open
	outcomeFault                           // a step errored
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeAttached:
		return "attached"
	case outcomeNoPreview:
		return "no_preview"
	case outcomeNoTrigger:
		return "no_trigger"
	case outcomeNoMenu:
		return "no_menu"
	default:
		return "fault"
	}
}

// Attacher drives a site's upload flow: open the attachment affordance, pick
// the local-file entry, feed the intercepted file chooser, then look for a
// preview. Sites without a menu item get the chooser straight from the trigger.
type Attacher struct {
	page       driver.Page
	resolver   *Resolver
	clock      poll.Clock
	timing     AttachTiming
	attachOpen string
}

func NewAttacher(page driver.Page, resolver *Resolver, t AttachTiming, attachOpen string, clock poll.Clock) *Attacher {
	if clock == nil {
		clock = poll.RealClock{}
	}
	if t.MaxAttempts < 1 {
		t.MaxAttempts = 1
	}
	return &Attacher{page: page, resolver: resolver, clock: clock, timing: t, attachOpen: attachOpen}
}

// Attach uploads the file at path. A missing file fails before any UI work.
// A missing trigger fails at once; a menu that never opens or a faulting step
// is retried up to MaxAttempts. If the file was handed over but no preview
// shows, Attach still succeeds: the preview is corroboration, not proof.
func (a *Attacher) Attach(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &AttachmentError{Path: path, Reason: "bad path", Err: err}
	}
	if st, err := os.Stat(abs); err != nil {
		return &AttachmentError{Path: path, Reason: "file not found", Err: err}
	} else if st.IsDir() {
		return &AttachmentError{Path: path, Reason: "path is a directory"}
	}

	L_info("attach: uploading image", "path", abs)
	start := a.clock.Now()

	for attempt := 1; attempt <= a.timing.MaxAttempts; attempt++ {
		MetricInc("attach", "attempts")
		outcome, stepErr := a.attempt(ctx, abs)
		if err := ctx.Err(); err != nil {
			return err
		}

		switch outcome {
		case outcomeAttached:
			MetricOutcome("attach", "result", outcome.String())
			L_info("attach: image ready", "elapsed", a.clock.Now().Sub(start))
			return nil

		case outcomeNoPreview:
			MetricOutcome("attach", "result", outcome.String())
			L_warn("attach: no preview seen, continuing anyway", "path", abs)
			return nil

		case outcomeNoTrigger:
			MetricOutcome("attach", "result", outcome.String())
			return &AttachmentError{Path: path, Reason: "attachment control not found", Err: stepErr}

		case outcomeNoMenu:
			L_debug("attach: menu did not open", "attempt", attempt, "of", a.timing.MaxAttempts)
			if attempt < a.timing.MaxAttempts {
				if err := a.dismissAndPause(ctx, a.timing.RetryPause); err != nil {
					return err
				}
			}

		case outcomeFault:
			if attempt == a.timing.MaxAttempts {
				MetricOutcome("attach", "result", outcome.String())
				return &AttachmentError{Path: path, Reason: "upload failed", Err: stepErr}
			}
			L_debug("attach: attempt failed, retrying", "attempt", attempt, "error", stepErr)
			if err := a.dismissAndPause(ctx, a.timing.FaultPause); err != nil {
				return err
			}
		}
	}

	MetricOutcome("attach", "result", outcomeNoMenu.String())
	return &AttachmentError{
		Path:   path,
		Reason: fmt.Sprintf("upload menu did not open after %d attempts", a.timing.MaxAttempts),
	}
}

func (a *Attacher) attempt(ctx context.Context, path string) (attemptOutcome, error) {
	trigger, loc, err := a.resolver.Await(ctx, site.RoleAttachTrigger, a.timing.TriggerTimeout)
	if err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return outcomeNoTrigger, err
		}
		return outcomeFault, err
	}
	L_trace("attach: trigger found", "locator", loc)

	chooser := trigger
	if len(a.resolver.candidates(site.RoleAttachMenuItem)) > 0 {
		if a.attachOpen == site.AttachHover {
			err = trigger.Hover(ctx)
		} else {
			err = trigger.Click(ctx)
		}
		if err != nil {
			return outcomeFault, fmt.Errorf("open attachment menu: %w", err)
		}

		item, _, err := a.resolver.Await(ctx, site.RoleAttachMenuItem, a.timing.MenuTimeout)
		if err != nil {
			if errors.Is(err, ErrElementNotFound) {
				return outcomeNoMenu, err
			}
			return outcomeFault, err
		}
		chooser = item
	}

	if err := a.page.ChooseFiles(ctx, chooser, []string{path}, a.timing.ChooserTimeout); err != nil {
		return outcomeFault, err
	}
	L_debug("attach: file handed to chooser, waiting for preview")

	if len(a.resolver.candidates(site.RoleImagePreview)) == 0 {
		return outcomeNoPreview, nil
	}
	p := poll.Poller{Clock: a.clock, Interval: a.timing.PreviewInterval, Timeout: a.timing.PreviewTimeout}
	err = p.Run(ctx, func(int) (bool, error) {
		el, _ := a.resolver.Probe(ctx, site.RoleImagePreview)
		return el != nil, nil
	})
	switch {
	case err == nil:
		return outcomeAttached, nil
	case errors.Is(err, poll.ErrExhausted):
		return outcomeNoPreview, nil
	default:
		return outcomeFault, err
	}
}

// dismissAndPause clicks an empty spot to close a stuck menu, then waits.
func (a *Attacher) dismissAndPause(ctx context.Context, pause time.Duration) error {
	if err := a.page.ClickAt(ctx, a.timing.DismissX, a.timing.DismissY); err != nil {
		L_trace("attach: dismiss click failed", "error", err)
	}
	return a.clock.Sleep(ctx, pause)
}
