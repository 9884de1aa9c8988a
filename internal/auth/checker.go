package auth

import (
	"context"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

// Timing holds the login check and interactive login bounds.
type Timing struct {
	ReadyWait     time.Duration // per-candidate wait for the page to render
	LoginWait     time.Duration // total time a human gets to sign in
	LoginInterval time.Duration
	SignInProbe   time.Duration // per-candidate wait while looking for the sign-in control
	Settle        time.Duration // pause after the sign-in control disappears
	ReloadSettle  time.Duration
	Recheck       time.Duration // sign-in probe after the reload
}

// DefaultTiming returns the login bounds used against the builtin sites.
func DefaultTiming() Timing {
	return Timing{
		ReadyWait:     time.Second,
		LoginWait:     5 * time.Minute,
		LoginInterval: time.Second,
		SignInProbe:   2 * time.Second,
		Settle:        3 * time.Second,
		ReloadSettle:  2 * time.Second,
		Recheck:       3 * time.Second,
	}
}

// Checker decides from page elements whether the session is signed in.
// Having loaded a snapshot proves nothing; cookies expire server-side.
type Checker struct {
	page   driver.Page
	table  site.SelectorTable
	timing Timing
}

func NewChecker(page driver.Page, table site.SelectorTable, timing Timing) *Checker {
	return &Checker{page: page, table: table, timing: timing}
}

// Authenticated waits for the page to render (the logged-in indicator shows
// whether or not the user is signed in on the builtin sites) and then probes,
// without waiting, for a visible sign-in control.
func (c *Checker) Authenticated(ctx context.Context) bool {
	if !c.pageReady(ctx) {
		L_debug("auth: page did not render")
		return false
	}
	if c.SignInVisible(ctx, 0) {
		return false
	}
	L_debug("auth: page rendered without a sign-in control")
	return true
}

func (c *Checker) pageReady(ctx context.Context) bool {
	for _, loc := range c.table.Candidates(site.RoleLoggedIn) {
		el, err := c.page.Wait(ctx, loc, c.timing.ReadyWait)
		if err != nil {
			L_trace("auth: ready probe failed", "locator", loc, "error", err)
			continue
		}
		if el != nil {
			return true
		}
	}
	return false
}

// SignInVisible reports whether a sign-in control is showing. With wait > 0
// each candidate gets a bounded wait, otherwise a single probe.
func (c *Checker) SignInVisible(ctx context.Context, wait time.Duration) bool {
	for _, loc := range c.table.Candidates(site.RoleNotLoggedIn) {
		var el driver.Element
		var err error
		if wait > 0 {
			el, err = c.page.Wait(ctx, loc, wait)
		} else {
			el, err = c.page.Query(ctx, loc)
		}
		if err != nil || el == nil {
			continue
		}
		if visible, err := el.Visible(ctx); err == nil && visible {
			L_debug("auth: sign-in control visible", "locator", loc)
			return true
		}
	}
	return false
}
