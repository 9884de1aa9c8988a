// Command chatrelay drives a web chat site through a browser and serves it
// as a local API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/roelfdiedericks/chatrelay/internal/config"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

const version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Config file (default ./chatrelay.toml, then ~/.chatrelay/chatrelay.toml)." short:"c" type:"path"`
	Site   string `help:"Site profile to drive (builtin name, or the base of site_file)."`
	Debug  bool   `help:"Debug logging and a visible browser window."`
	Headed bool   `help:"Show the browser window."`
}

// load reads the config, applies the global flags and starts logging.
func (g *Globals) load(extra ...func(*config.Config)) (*config.Config, error) {
	overrides := []func(*config.Config){func(c *config.Config) {
		if g.Site != "" {
			c.Site = g.Site
		}
		if g.Debug {
			c.Debug = true
			c.Log.Level = "debug"
			c.Browser.Headless = false
		}
		if g.Headed {
			c.Browser.Headless = false
		}
	}}
	cfg, err := config.Load(g.Config, append(overrides, extra...)...)
	if err != nil {
		return nil, err
	}
	Init(cfg.LoggingConfig())
	if cfg.Source != "" {
		L_debug("config: using file", "path", cfg.Source)
	}
	return cfg, nil
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve       ServeCmd       `cmd:"" help:"Start the browser session and the HTTP API."`
	Login       LoginCmd       `cmd:"" help:"Open a visible browser, wait for you to sign in, and save the login."`
	Ask         AskCmd         `cmd:"" help:"Send one prompt and print the answer."`
	Interactive InteractiveCmd `cmd:"" aliases:"i" help:"Chat from the terminal."`
	Version     VersionCmd     `cmd:"" help:"Print the version."`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("chatrelay %s\n", version)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	// A missing .env is normal
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chatrelay"),
		kong.Description("Relay prompts to a web chat site through a headless browser."),
		kong.UsageOnError(),
	)
	err := kctx.Run(&cli.Globals)
	Close()
	kctx.FatalIfErrorf(err)
}
