package main

import (
	"context"
	"os"
	"strings"

	"github.com/roelfdiedericks/chatrelay/internal/config"
	"github.com/roelfdiedericks/chatrelay/internal/session"
)

// AskCmd sends a single prompt.
type AskCmd struct {
	Prompt []string `arg:"" help:"Prompt text."`
	Image  string   `help:"Attach an image file." type:"existingfile"`
}

func (c *AskCmd) Run(g *Globals) error {
	cfg, err := g.load(func(c *config.Config) { c.Session.Keepalive = "" })
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.start(ctx); err != nil {
		return err
	}

	styled := isTTY(os.Stdout)
	ans, err := a.mgr.Ask(ctx, session.Request{
		Prompt:    strings.Join(c.Prompt, " "),
		ImagePath: c.Image,
	})
	if err != nil {
		printError(os.Stderr, err, isTTY(os.Stderr))
		return err
	}
	printAnswer(os.Stdout, cfg.Site, ans, styled)
	return nil
}
