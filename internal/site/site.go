// Package site describes the target chat pages: which logical UI roles exist,
// the ordered locator candidates for each role, and the per-site behaviour
// switches. Site differences are configuration; the interaction code in
// internal/chat is shared by every profile.
package site

import (
	"fmt"
	"strings"
)

// Role is a logical UI function, independent of its DOM representation.
type Role string

const (
	RoleInput            Role = "input_box"
	RoleSend             Role = "send_button"
	RoleAssistantMessage Role = "assistant_message"
	RoleStop             Role = "stop_button"
	RoleLoading          Role = "loading"
	RoleLoggedIn         Role = "logged_in_indicator"
	RoleNotLoggedIn      Role = "not_logged_in_indicator"
	RoleAttachTrigger    Role = "attachment_trigger"
	RoleAttachMenuItem   Role = "attachment_menu_item"
	RoleImagePreview     Role = "image_preview"
	RoleNewChat          Role = "new_chat_button"
)

// requiredRoles must have at least one locator for a profile to be usable.
var requiredRoles = []Role{RoleInput, RoleAssistantMessage, RoleLoggedIn}

// Submit modes
const (
	SubmitEnter  = "enter"
	SubmitButton = "button"
)

// Attachment trigger modes
const (
	AttachClick = "click"
	AttachHover = "hover"
)

// Answer formats
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// SelectorTable maps a role to its locator candidates, most likely first.
type SelectorTable map[Role][]string

// Candidates returns the locators for role. The result must not be modified.
func (t SelectorTable) Candidates(role Role) []string {
	return t[role]
}

// Clone returns a deep copy of the table.
func (t SelectorTable) Clone() SelectorTable {
	out := make(SelectorTable, len(t))
	for role, locs := range t {
		out[role] = append([]string(nil), locs...)
	}
	return out
}

// Profile is everything chatrelay needs to know about one chat site.
type Profile struct {
	Name string `yaml:"name"`
	// Base names a builtin profile this one overlays (YAML files only).
	Base string `yaml:"base,omitempty"`
	URL  string `yaml:"url"`

	Selectors SelectorTable `yaml:"selectors"`

	// TransientPhrases are placeholder texts shown before the real answer.
	TransientPhrases []string `yaml:"transient_phrases"`

	SubmitWith   string `yaml:"submit_with"`
	AttachOpen   string `yaml:"attach_open"`
	AnswerFormat string `yaml:"answer_format"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Selectors = p.Selectors.Clone()
	c.TransientPhrases = append([]string(nil), p.TransientPhrases...)
	return &c
}

// Validate checks that the profile can drive a chat turn.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("site: profile has no name")
	}
	if p.URL == "" {
		return fmt.Errorf("site %s: url is required", p.Name)
	}
	for _, role := range requiredRoles {
		if len(p.Selectors[role]) == 0 {
			return fmt.Errorf("site %s: no locators for role %s", p.Name, role)
		}
	}
	switch p.SubmitWith {
	case SubmitEnter, SubmitButton:
	default:
		return fmt.Errorf("site %s: submit_with must be %q or %q, got %q", p.Name, SubmitEnter, SubmitButton, p.SubmitWith)
	}
	switch p.AttachOpen {
	case AttachClick, AttachHover:
	default:
		return fmt.Errorf("site %s: attach_open must be %q or %q, got %q", p.Name, AttachClick, AttachHover, p.AttachOpen)
	}
	switch p.AnswerFormat {
	case FormatText, FormatMarkdown:
	default:
		return fmt.Errorf("site %s: answer_format must be %q or %q, got %q", p.Name, FormatText, FormatMarkdown, p.AnswerFormat)
	}
	for role, locs := range p.Selectors {
		for _, loc := range locs {
			if strings.TrimSpace(loc) == "" {
				return fmt.Errorf("site %s: empty locator for role %s", p.Name, role)
			}
		}
	}
	return nil
}

// applyDefaults fills unset behaviour switches.
func (p *Profile) applyDefaults() {
	if p.SubmitWith == "" {
		p.SubmitWith = SubmitEnter
	}
	if p.AttachOpen == "" {
		p.AttachOpen = AttachClick
	}
	if p.AnswerFormat == "" {
		p.AnswerFormat = FormatText
	}
	if p.Selectors == nil {
		p.Selectors = SelectorTable{}
	}
}
