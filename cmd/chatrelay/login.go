package main

import (
	"context"
	"fmt"

	"github.com/roelfdiedericks/chatrelay/internal/auth"
	"github.com/roelfdiedericks/chatrelay/internal/config"
)

// LoginCmd opens a headed browser and waits for a human to sign in.
type LoginCmd struct {
	Fresh bool `help:"Discard the saved login first."`
}

func (c *LoginCmd) Run(g *Globals) error {
	cfg, err := g.load(func(c *config.Config) {
		c.Browser.Headless = false
		c.Session.InteractiveLogin = true
		c.Session.Keepalive = ""
	})
	if err != nil {
		return err
	}

	if c.Fresh {
		if err := auth.NewStore(cfg.Paths.StateFile).Remove(); err != nil {
			return err
		}
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	fmt.Println(styles.hint.Render(fmt.Sprintf("Sign in to %s in the browser window (waiting up to %s).", cfg.Site, cfg.Timeouts.LoginWait)))
	if err := a.start(ctx); err != nil {
		return err
	}
	// Refresh even when the old login was still valid
	if err := a.mgr.SaveSnapshot(ctx); err != nil {
		return err
	}
	fmt.Println(styles.ok.Render("Signed in. Login saved to " + cfg.Paths.StateFile))
	return nil
}
