package main

import (
	"context"
	"fmt"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/auth"
	"github.com/roelfdiedericks/chatrelay/internal/chat"
	"github.com/roelfdiedericks/chatrelay/internal/config"
	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/session"
	"github.com/roelfdiedericks/chatrelay/internal/site"
	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

// app is one wired session: manager, optional turn history, optional
// profile watcher.
type app struct {
	cfg     *config.Config
	mgr     *session.Manager
	turns   *turnlog.Store
	watcher *site.Watcher
}

func driverOptions(cfg *config.Config) driver.Options {
	b := cfg.Browser
	return driver.Options{
		Bin:          b.Bin,
		DownloadDir:  b.Dir,
		ProfileDir:   b.ProfileDir,
		Headless:     b.Headless,
		NoSandbox:    b.NoSandbox,
		Stealth:      b.Stealth,
		SlowMotion:   b.SlowMotion,
		UserAgent:    b.UserAgent,
		Window:       b.Window,
		ExtraFlags:   b.ExtraFlags,
		Timeout:      cfg.Timeouts.Navigation,
		AutoDownload: b.AutoDownload,
	}
}

func chatTiming(cfg *config.Config) chat.Timing {
	t := chat.DefaultTiming()
	d := cfg.Detection
	t.ResolveWait = d.ResolveWait
	t.ElementTimeout = cfg.Timeouts.Element
	t.PollInterval = d.PollInterval
	t.ResponseTimeout = cfg.Timeouts.Response
	t.FastStableReads = d.FastStableReads
	t.SlowStableReads = d.SlowStableReads
	t.TransientMaxLen = d.TransientMaxLen
	t.ConfirmInterval = d.ConfirmInterval
	t.ConfirmTimeout = d.ConfirmTimeout
	t.ImageResubmitTimeout = d.ImageResubmitTimeout
	return t
}

func attachTiming(cfg *config.Config) chat.AttachTiming {
	a := cfg.Attach
	return chat.AttachTiming{
		MaxAttempts:     a.MaxAttempts,
		TriggerTimeout:  a.TriggerTimeout,
		MenuTimeout:     a.MenuTimeout,
		ChooserTimeout:  a.ChooserTimeout,
		PreviewTimeout:  a.PreviewTimeout,
		PreviewInterval: a.PreviewInterval,
		RetryPause:      a.RetryPause,
		FaultPause:      a.FaultPause,
		DismissX:        a.DismissX,
		DismissY:        a.DismissY,
	}
}

func authTiming(cfg *config.Config) auth.Timing {
	t := auth.DefaultTiming()
	t.LoginWait = cfg.Timeouts.LoginWait
	return t
}

func sessionOptions(cfg *config.Config, profile *site.Profile, launcher driver.Launcher) session.Options {
	return session.Options{
		Launcher:          launcher,
		Profile:           profile,
		Snapshots:         auth.NewStore(cfg.Paths.StateFile),
		Chat:              chatTiming(cfg),
		Attach:            attachTiming(cfg),
		Auth:              authTiming(cfg),
		NavigationTimeout: cfg.Timeouts.Navigation,
		ProbeTimeout:      cfg.Timeouts.Probe,
		NewChatInterval:   cfg.Session.NewChatInterval,
		InteractiveLogin:  cfg.Session.InteractiveLogin,
		Keepalive:         cfg.Session.Keepalive,
	}
}

// newApp wires everything without launching the browser. withHistory opens
// the turn database when one is configured.
func newApp(cfg *config.Config, withHistory bool) (*app, error) {
	profile, err := site.Resolve(cfg.Site, cfg.SiteFile)
	if err != nil {
		return nil, err
	}
	opts := sessionOptions(cfg, profile, driver.NewRodLauncher(driverOptions(cfg)))

	a := &app{cfg: cfg}
	if withHistory && cfg.Paths.TurnDB != "" {
		if a.turns, err = turnlog.Open(cfg.Paths.TurnDB); err != nil {
			return nil, err
		}
		// Only set when non-nil: a nil *Store in the interface is not a nil Recorder
		opts.Recorder = a.turns
	}

	if a.mgr, err = session.NewManager(opts); err != nil {
		a.close(context.Background())
		return nil, err
	}

	if cfg.SiteFile != "" {
		a.watcher, err = site.NewWatcher(cfg.SiteFile, cfg.Site, 500*time.Millisecond, a.mgr.SetProfile)
		if err != nil {
			L_warn("site: hot reload disabled", "file", cfg.SiteFile, "error", err)
		} else {
			a.watcher.Start()
		}
	}

	L_info("chatrelay: configured", "site", profile.Name, "headless", cfg.Browser.Headless, "state", cfg.Paths.StateFile)
	return a, nil
}

// start launches the browser and signs in.
func (a *app) start(ctx context.Context) error {
	if err := a.mgr.Startup(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			L_debug("site: watcher stop", "error", err)
		}
	}
	if a.mgr != nil {
		a.mgr.Close(ctx)
	}
	if a.turns != nil {
		if err := a.turns.Close(); err != nil {
			L_warn("turnlog: close failed", "error", err)
		}
	}
}
