// Package driver is the narrow browser capability chatrelay drives: launch a
// browser, open a page from persisted state, probe and read elements, and
// dispatch input. The go-rod implementation lives in rod.go; tests use
// driver/fakepage.
package driver

import (
	"context"
	"time"
)

// Key names accepted by Page.Press.
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyEscape    Key = "Escape"
	KeyBackspace Key = "Backspace"
	KeyTab       Key = "Tab"
)

// Element is a handle to a DOM node. Handles can go stale when the page
// re-renders; every method then returns an error.
type Element interface {
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Value returns the input value, or the text of a contenteditable node.
	Value(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	// Fill replaces the element's content with text.
	Fill(ctx context.Context, text string) error
}

// Page is one browser tab.
type Page interface {
	// Query is a zero-wait probe. It returns (nil, nil) when nothing matches.
	Query(ctx context.Context, locator string) (Element, error)
	// QueryAll returns every current match, in document order, without waiting.
	QueryAll(ctx context.Context, locator string) ([]Element, error)
	// Wait polls for locator up to timeout. It returns (nil, nil) on timeout.
	Wait(ctx context.Context, locator string, timeout time.Duration) (Element, error)

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Title(ctx context.Context) (string, error)

	Press(ctx context.Context, key Key) error
	ClickAt(ctx context.Context, x, y float64) error

	// ChooseFiles intercepts the next native file chooser, clicks trigger to
	// open it, and supplies paths. It fails if no chooser opens within timeout.
	ChooseFiles(ctx context.Context, trigger Element, paths []string, timeout time.Duration) error
}

// Browser is a launched browser process.
type Browser interface {
	// OpenPage creates a page, seeding it with a snapshot from ExportState
	// when state is non-empty.
	OpenPage(ctx context.Context, state []byte) (Page, error)
	// ExportState serialises cookies and storage into an opaque snapshot.
	ExportState(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
