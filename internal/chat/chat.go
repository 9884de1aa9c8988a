// Package chat drives one conversation on a chat site: find the compose box,
// submit a prompt (optionally with an image), confirm the page took it, and
// wait until the answer has settled.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

// Reply is the answer to one prompt.
type Reply struct {
	Text string
	// Truncated means the answer was still changing when the response budget
	// ran out.
	Truncated bool
	Verdict   string
	Confirmed bool
	Elapsed   time.Duration
}

// Chat is a conversation bound to one page and one site profile. It is not
// safe for concurrent use; callers serialize turns.
type Chat struct {
	page         driver.Page
	profile      *site.Profile
	timing       Timing
	attachTiming AttachTiming
	clock        poll.Clock

	resolver  *Resolver
	observer  *Observer
	confirmer *Confirmer
	detector  *Detector
	attacher  *Attacher
}

// New creates a chat on page for profile. A nil clock means wall time.
func New(page driver.Page, profile *site.Profile, t Timing, at AttachTiming, clock poll.Clock) *Chat {
	if clock == nil {
		clock = poll.RealClock{}
	}
	c := &Chat{
		page:         page,
		timing:       t,
		attachTiming: at,
		clock:        clock,
		resolver:     NewResolver(page, profile.Selectors, t.ResolveWait, clock),
	}
	c.observer = NewObserver(page, c.resolver)
	c.bind(profile)
	return c
}

// bind wires the profile-dependent components.
func (c *Chat) bind(profile *site.Profile) {
	c.profile = profile
	c.confirmer = NewConfirmer(c.page, c.resolver, c.observer, c.timing, profile.SubmitWith, c.clock)
	c.detector = NewDetector(c.observer, c.timing, profile.TransientPhrases, c.clock)
	c.attacher = NewAttacher(c.page, c.resolver, c.attachTiming, profile.AttachOpen, c.clock)
}

// SetProfile switches to a new profile. Cached locators are dropped.
func (c *Chat) SetProfile(profile *site.Profile) {
	c.resolver.SetTable(profile.Selectors)
	c.bind(profile)
	L_info("chat: profile applied", "site", profile.Name)
}

func (c *Chat) Profile() *site.Profile { return c.profile }

func (c *Chat) Resolver() *Resolver { return c.resolver }

// Send submits prompt and waits for the answer.
func (c *Chat) Send(ctx context.Context, prompt string) (Reply, error) {
	return c.send(ctx, prompt, false)
}

// SendWithImage attaches the image at path, then submits prompt. Nothing is
// typed if the attachment fails.
func (c *Chat) SendWithImage(ctx context.Context, prompt, path string) (Reply, error) {
	start := c.clock.Now()
	if err := c.attacher.Attach(ctx, path); err != nil {
		return Reply{}, err
	}
	if err := c.clock.Sleep(ctx, c.timing.ImageSettle); err != nil {
		return Reply{}, err
	}
	reply, err := c.send(ctx, prompt, true)
	reply.Elapsed = c.clock.Now().Sub(start)
	return reply, err
}

func (c *Chat) send(ctx context.Context, prompt string, imagePending bool) (Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		return Reply{}, errors.New("chat: empty prompt")
	}
	start := c.clock.Now()
	L_info("chat: sending", "site", c.profile.Name, "prompt", Truncate(prompt, 50), "image", imagePending)

	input, err := c.findInput(ctx)
	if err != nil {
		return Reply{}, err
	}

	if err := input.Click(ctx); err != nil {
		L_debug("chat: focusing input failed", "error", err)
	}
	if err := input.Fill(ctx, prompt); err != nil {
		return Reply{}, fmt.Errorf("chat: type prompt: %w", err)
	}

	pre := c.observer.LatestResponse(ctx)
	if pre != "" {
		L_debug("chat: page already shows an answer", "preview", Truncate(pre, 80))
	}

	if err := input.Click(ctx); err != nil {
		L_trace("chat: refocusing input failed", "error", err)
	}
	confirmed, err := c.confirmer.Submit(ctx, input, pre, imagePending)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: submit: %w", err)
	}
	MetricDuration("chat", "submit", c.clock.Now().Sub(start))

	done, err := c.detector.Await(ctx, pre)
	if err != nil {
		return Reply{Confirmed: confirmed, Verdict: done.Verdict}, err
	}

	text := done.Text
	if c.profile.AnswerFormat == site.FormatMarkdown {
		if md := c.observer.LatestMarkdown(ctx); md != "" {
			text = md
		}
	}

	reply := Reply{
		Text:      text,
		Truncated: done.Truncated,
		Verdict:   done.Verdict,
		Confirmed: confirmed,
		Elapsed:   c.clock.Now().Sub(start),
	}
	L_info("chat: answer received", "verdict", reply.Verdict, "length", len(reply.Text), "elapsed", reply.Elapsed)
	return reply, nil
}

// findInput resolves the compose box, falling back to a longer wait while the
// page finishes rendering.
func (c *Chat) findInput(ctx context.Context) (driver.Element, error) {
	input, _, err := c.resolver.Resolve(ctx, site.RoleInput)
	if err == nil {
		return input, nil
	}
	if !errors.Is(err, ErrElementNotFound) {
		return nil, err
	}
	input, _, err = c.resolver.Await(ctx, site.RoleInput, c.timing.ElementTimeout)
	if err != nil {
		return nil, err
	}
	return input, nil
}

// NewConversation starts a fresh conversation, via the site's new-chat
// control when present or by reloading the chat URL otherwise.
func (c *Chat) NewConversation(ctx context.Context) error {
	c.resolver.Reset()

	btn, loc, err := c.resolver.Await(ctx, site.RoleNewChat, c.timing.NewChatWait)
	switch {
	case err == nil:
		L_debug("chat: clicking new conversation", "locator", loc)
		if err := btn.Click(ctx); err != nil {
			return fmt.Errorf("chat: new conversation: %w", err)
		}
	case errors.Is(err, ErrElementNotFound):
		L_info("chat: no new-conversation control, reloading chat page")
		if err := c.page.Navigate(ctx, c.profile.URL); err != nil {
			return fmt.Errorf("chat: new conversation: %w", err)
		}
	default:
		return err
	}

	// The new DOM replaces every cached node
	c.resolver.Reset()
	if _, _, err := c.resolver.Await(ctx, site.RoleLoggedIn, c.timing.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		L_warn("chat: page not ready after new conversation", "error", err)
		return nil
	}
	L_info("chat: new conversation started")
	return nil
}
