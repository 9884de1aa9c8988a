package driver

import (
	"fmt"
	"strings"
)

// LocatorKind says how a locator expression is evaluated.
type LocatorKind int

const (
	LocatorCSS LocatorKind = iota
	LocatorXPath
)

// Locator is a parsed locator string.
type Locator struct {
	Kind LocatorKind
	Expr string
}

func (l Locator) String() string {
	if l.Kind == LocatorXPath {
		return "xpath=" + l.Expr
	}
	return l.Expr
}

// ParseLocator understands three forms:
//
//	css selector         `[class*="chat-input"] textarea` (default), or `css=...`
//	xpath=<expr>         `xpath=//button[@type='submit']`
//	text=<exact text>    matches an element whose own text node equals the value
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("driver: empty locator")
	}
	switch {
	case strings.HasPrefix(s, "xpath="):
		expr := strings.TrimSpace(strings.TrimPrefix(s, "xpath="))
		if expr == "" {
			return Locator{}, fmt.Errorf("driver: empty xpath in %q", s)
		}
		return Locator{Kind: LocatorXPath, Expr: expr}, nil
	case strings.HasPrefix(s, "text="):
		text := strings.TrimSpace(strings.TrimPrefix(s, "text="))
		if text == "" {
			return Locator{}, fmt.Errorf("driver: empty text in %q", s)
		}
		return Locator{
			Kind: LocatorXPath,
			Expr: fmt.Sprintf("//*[normalize-space(text())=%s]", xpathLiteral(text)),
		}, nil
	case strings.HasPrefix(s, "css="):
		return Locator{Kind: LocatorCSS, Expr: strings.TrimSpace(strings.TrimPrefix(s, "css="))}, nil
	default:
		return Locator{Kind: LocatorCSS, Expr: s}, nil
	}
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value containing both quote kinds is built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
