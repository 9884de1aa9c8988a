package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/roelfdiedericks/chatrelay/internal/config"
	"github.com/roelfdiedericks/chatrelay/internal/session"
)

// InteractiveCmd runs a prompt loop against one session.
type InteractiveCmd struct{}

type lineKind int

const (
	lineSkip lineKind = iota
	linePrompt
	lineNew
	lineHelp
	lineQuit
)

type inputLine struct {
	kind   lineKind
	prompt string
	image  string
}

const interactiveHelp = `/image <path> <prompt>  send a prompt with an image
/new                    start a new conversation
/help                   show this help
/quit                   leave`

// parseLine turns one line of input into an action. The bare words quit,
// exit, q and new work too.
func parseLine(s string) (inputLine, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return inputLine{kind: lineSkip}, nil
	}
	switch strings.ToLower(s) {
	case "/quit", "/exit", "/q", "quit", "exit", "q":
		return inputLine{kind: lineQuit}, nil
	case "/new", "new":
		return inputLine{kind: lineNew}, nil
	case "/help", "/?":
		return inputLine{kind: lineHelp}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return inputLine{kind: linePrompt, prompt: s}, nil
	}

	cmd, rest, _ := strings.Cut(s, " ")
	if strings.ToLower(cmd) != "/image" {
		return inputLine{}, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	path, prompt, _ := strings.Cut(strings.TrimSpace(rest), " ")
	prompt = strings.TrimSpace(prompt)
	if path == "" || prompt == "" {
		return inputLine{}, errors.New("usage: /image <path> <prompt>")
	}
	return inputLine{kind: linePrompt, prompt: prompt, image: path}, nil
}

// lineReader returns the next line, or io.EOF when input ends.
type lineReader func() (string, error)

func huhReader() lineReader {
	return func() (string, error) {
		var text string
		err := huh.NewInput().
			Title("You").
			Value(&text).
			Run()
		if errors.Is(err, huh.ErrUserAborted) {
			return "", io.EOF
		}
		return text, err
	}
}

func scanReader(r io.Reader) lineReader {
	sc := bufio.NewScanner(r)
	return func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return sc.Text(), nil
	}
}

func (c *InteractiveCmd) Run(g *Globals) error {
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

	read := scanReader(os.Stdin)
	if isTTY(os.Stdin) {
		read = huhReader()
	}
	styled := isTTY(os.Stdout)
	if styled {
		fmt.Println(styles.title.Render("chatrelay · " + cfg.Site))
		fmt.Println(styles.hint.Render(interactiveHelp))
	}
	return runLoop(ctx, a.mgr, cfg.Site, read, os.Stdout, styled)
}

// asker is the part of the session the loop needs.
type asker interface {
	Ask(ctx context.Context, req session.Request) (session.Answer, error)
	NewConversation(ctx context.Context) error
}

func runLoop(ctx context.Context, s asker, site string, read lineReader, out io.Writer, styled bool) error {
	for ctx.Err() == nil {
		raw, err := read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line, err := parseLine(raw)
		if err != nil {
			printError(out, err, styled)
			continue
		}
		switch line.kind {
		case lineSkip:
		case lineQuit:
			return nil
		case lineHelp:
			fmt.Fprintln(out, interactiveHelp)
		case lineNew:
			if err := s.NewConversation(ctx); err != nil {
				printError(out, err, styled)
				continue
			}
			fmt.Fprintln(out, styles.hint.Render("new conversation"))
		case linePrompt:
			if styled {
				fmt.Fprintln(out, styles.hint.Render("You: "+line.prompt))
			}
			ans, err := s.Ask(ctx, session.Request{Prompt: line.prompt, ImagePath: line.image})
			if err != nil {
				printError(out, err, styled)
				continue
			}
			printAnswer(out, site, ans, styled)
		}
	}
	return nil
}
