package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/chatrelay/internal/driver/fakepage"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

func testProfile() *site.Profile {
	return &site.Profile{
		Name: "test",
		URL:  "https://chat.test/",
		Selectors: site.SelectorTable{
			site.RoleInput:            {"#compose", "textarea"},
			site.RoleSend:             {"button.send"},
			site.RoleAssistantMessage: {".answer"},
			site.RoleStop:             {"button.stop"},
			site.RoleLoading:          {".loading"},
			site.RoleLoggedIn:         {"textarea"},
			site.RoleAttachTrigger:    {".clip"},
			site.RoleAttachMenuItem:   {"text=Upload"},
			site.RoleImagePreview:     {".preview img"},
			site.RoleNewChat:          {"button.new"},
		},
		TransientPhrases: []string{"thinking", "思考中"},
		SubmitWith:       site.SubmitEnter,
		AttachOpen:       site.AttachClick,
		AnswerFormat:     site.FormatText,
	}
}

func newClock() *poll.FakeClock {
	return poll.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

// hookClock is a virtual clock that runs onSleep after every Sleep, letting
// tests change the page as time passes.
type hookClock struct {
	*poll.FakeClock
	onSleep func(n int)
}

func (c *hookClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.FakeClock.Sleep(ctx, d); err != nil {
		return err
	}
	if c.onSleep != nil {
		c.onSleep(c.Sleeps())
	}
	return nil
}

// scripted replays generating/content readings, one pair per poll. The last
// entry repeats once the script runs out.
type scripted struct {
	generating []bool
	content    []string
	reads      int
}

func (s *scripted) Generating(ctx context.Context) bool {
	if len(s.generating) == 0 {
		return false
	}
	return s.generating[min(s.reads, len(s.generating)-1)]
}

func (s *scripted) LatestResponse(ctx context.Context) string {
	if len(s.content) == 0 {
		return ""
	}
	c := s.content[min(s.reads, len(s.content)-1)]
	s.reads++
	return c
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o600))
	return path
}

// composePage returns a page with an input box that empties on Enter.
func composePage() (*fakepage.Page, *fakepage.Element) {
	page := fakepage.New()
	input := fakepage.NewElement("")
	page.Set("textarea", input)
	return page, input
}
