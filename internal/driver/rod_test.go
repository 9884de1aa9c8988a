package driver

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// livePage launches a headless local Chromium. Tests using it are skipped
// when none is installed.
func livePage(t *testing.T) *rodPage {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a browser")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no local Chromium")
	}
	ctx := context.Background()
	b, err := NewRodLauncher(Options{Headless: true, NoSandbox: true, Timeout: 10 * time.Second}).Launch(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	p, err := b.OpenPage(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, p.Navigate(ctx, "about:blank"))
	return p.(*rodPage)
}

func TestTimedReleaseStopsTimer(t *testing.T) {
	p := livePage(t)
	ctx := context.Background()

	page, release := p.timed(ctx, time.Hour)
	require.NoError(t, page.GetContext().Err())
	release()
	assert.ErrorIs(t, page.GetContext().Err(), context.Canceled)

	_, err := p.Title(ctx)
	assert.NoError(t, err, "releasing a timed op leaves the page usable")
}

func TestWaitForMissingElement(t *testing.T) {
	p := livePage(t)

	el, err := p.Wait(context.Background(), "#missing", 200*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, el)
}
