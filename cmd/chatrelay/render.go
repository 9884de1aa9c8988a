package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/roelfdiedericks/chatrelay/internal/session"
)

// Colors
var (
	primaryColor   = lipgloss.Color("39")  // Blue
	secondaryColor = lipgloss.Color("245") // Gray
	errorColor     = lipgloss.Color("196") // Red
	successColor   = lipgloss.Color("82")  // Green
	warningColor   = lipgloss.Color("214") // Orange
)

var styles = struct {
	title, answer, meta, warn, err, ok, hint lipgloss.Style
}{
	title: lipgloss.NewStyle().
		Bold(true).
		Foreground(primaryColor),
	answer: lipgloss.NewStyle().
		Foreground(lipgloss.Color("229")). // Light yellow
		PaddingLeft(2),
	meta: lipgloss.NewStyle().
		Foreground(secondaryColor).
		Italic(true),
	warn: lipgloss.NewStyle().Foreground(warningColor),
	err:  lipgloss.NewStyle().Foreground(errorColor),
	ok:   lipgloss.NewStyle().Foreground(successColor),
	hint: lipgloss.NewStyle().Foreground(secondaryColor),
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printAnswer writes the answer styled for a terminal, or bare when piped.
func printAnswer(w io.Writer, site string, ans session.Answer, styled bool) {
	if !styled {
		fmt.Fprintln(w, ans.Text)
		return
	}
	fmt.Fprintln(w, styles.title.Render(site+":"))
	fmt.Fprintln(w, styles.answer.Render(ans.Text))
	if ans.Truncated {
		fmt.Fprintln(w, styles.warn.Render("(answer may be cut off: the page never settled)"))
	}
	fmt.Fprintln(w, styles.meta.Render(fmt.Sprintf("%s · #%d · %s", ans.Verdict, ans.Requests, ans.Elapsed.Round(100*time.Millisecond))))
}

func printError(w io.Writer, err error, styled bool) {
	if !styled {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintln(w, styles.err.Render("✗ "+err.Error()))
}
