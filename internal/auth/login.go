package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
)

// ErrLoginTimeout is returned when nobody signed in within Timing.LoginWait.
var ErrLoginTimeout = errors.New("auth: login timed out")

// Login waits for a human to sign in through a headed browser window, then
// saves the snapshot.
type Login struct {
	Browser driver.Browser
	Page    driver.Page
	Checker *Checker
	Store   *Store
	Timing  Timing
	Clock   poll.Clock // nil means wall time
}

// Wait polls until the sign-in control has disappeared and is still gone after
// a reload, then persists the browser state.
func (l *Login) Wait(ctx context.Context) error {
	clock := l.Clock
	if clock == nil {
		clock = poll.RealClock{}
	}
	deadline := clock.Now().Add(l.Timing.LoginWait)
	L_info("auth: waiting for sign-in in the browser window", "timeout", l.Timing.LoginWait)

	p := poll.Poller{Clock: clock, Interval: l.Timing.LoginInterval, Timeout: l.Timing.LoginWait}
	err := p.Run(ctx, func(attempt int) (bool, error) {
		if clock.Now().After(deadline) {
			return false, ErrLoginTimeout
		}
		if l.Checker.SignInVisible(ctx, l.Timing.SignInProbe) {
			return false, nil
		}
		L_info("auth: sign-in control gone, letting the session settle")
		if err := clock.Sleep(ctx, l.Timing.Settle); err != nil {
			return false, err
		}
		if err := l.Page.Reload(ctx); err != nil {
			L_warn("auth: reload after sign-in failed", "error", err)
			return false, nil
		}
		if err := clock.Sleep(ctx, l.Timing.ReloadSettle); err != nil {
			return false, err
		}
		if l.Checker.SignInVisible(ctx, l.Timing.Recheck) {
			L_warn("auth: signed out again after reload, still waiting")
			return false, nil
		}
		return true, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return ErrLoginTimeout
	}
	if err != nil {
		return err
	}
	L_info("auth: sign-in detected")
	return SaveSnapshot(ctx, l.Browser, l.Store)
}

// SaveSnapshot exports the browser's cookies and storage into store.
func SaveSnapshot(ctx context.Context, b driver.Browser, store *Store) error {
	state, err := b.ExportState(ctx)
	if err != nil {
		return fmt.Errorf("auth: export browser state: %w", err)
	}
	return store.Save(state)
}
