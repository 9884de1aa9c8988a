package chat

import (
	"context"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

// Signals is what completion detection reads from the page each poll.
type Signals interface {
	// Generating reports whether a stop control or loading indicator is visible.
	Generating(ctx context.Context) bool
	// LatestResponse returns the trimmed text of the newest assistant message,
	// or "" when there is none.
	LatestResponse(ctx context.Context) string
}

// Observer reads generation state and answer content from the page. Every
// read is zero-wait; faults read as "nothing there".
type Observer struct {
	page     driver.Page
	resolver *Resolver
}

func NewObserver(page driver.Page, resolver *Resolver) *Observer {
	return &Observer{page: page, resolver: resolver}
}

func (o *Observer) Generating(ctx context.Context) bool {
	for _, role := range []site.Role{site.RoleStop, site.RoleLoading} {
		for _, loc := range o.resolver.candidates(role) {
			el, err := o.page.Query(ctx, loc)
			if err != nil || el == nil {
				continue
			}
			if visible, err := el.Visible(ctx); err == nil && visible {
				L_trace("observer: generating", "role", role, "locator", loc)
				return true
			}
		}
	}
	return false
}

func (o *Observer) LatestResponse(ctx context.Context) string {
	el := o.latestMessage(ctx)
	if el == nil {
		return ""
	}
	text, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// LatestMarkdown converts the newest assistant message's HTML to markdown.
// It falls back to plain text when the HTML cannot be read or converted.
func (o *Observer) LatestMarkdown(ctx context.Context) string {
	el := o.latestMessage(ctx)
	if el == nil {
		return ""
	}
	html, err := el.HTML(ctx)
	if err == nil && strings.TrimSpace(html) != "" {
		md, err := htmltomd.ConvertString(html)
		if err == nil && strings.TrimSpace(md) != "" {
			return strings.TrimSpace(md)
		}
		L_debug("observer: markdown conversion failed, using text", "error", err)
	}
	text, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// latestMessage returns the last element of the first assistant-message
// locator that matches anything, preferring the one that matched last time.
func (o *Observer) latestMessage(ctx context.Context) driver.Element {
	cands := o.resolver.candidates(site.RoleAssistantMessage)
	if cached, ok := o.resolver.Cached(site.RoleAssistantMessage); ok {
		cands = append([]string{cached}, cands...)
	}
	for _, loc := range cands {
		els, err := o.page.QueryAll(ctx, loc)
		if err != nil || len(els) == 0 {
			continue
		}
		o.resolver.remember(site.RoleAssistantMessage, loc)
		return els[len(els)-1]
	}
	return nil
}
