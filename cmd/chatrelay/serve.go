package main

import (
	"context"
	"time"

	httpapi "github.com/roelfdiedericks/chatrelay/internal/http"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Listen string `help:"Listen address (overrides server.listen)."`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Server.Listen = c.Listen
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

	var turns httpapi.TurnLister
	if a.turns != nil {
		turns = a.turns
	}
	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Listen:            cfg.Server.Listen,
		Token:             cfg.Server.Token,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		MaxImageBytes:     cfg.Server.MaxImageBytes,
	}, a.mgr, turns)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	if cfg.Server.Token == "" {
		L_warn("http: no token configured, API is unauthenticated", "listen", cfg.Server.Listen)
	}

	<-ctx.Done()
	stop()
	L_info("chatrelay: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
