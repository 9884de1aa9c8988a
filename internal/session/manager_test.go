package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roelfdiedericks/chatrelay/internal/auth"
	"github.com/roelfdiedericks/chatrelay/internal/chat"
	"github.com/roelfdiedericks/chatrelay/internal/driver"
	"github.com/roelfdiedericks/chatrelay/internal/driver/fakepage"
	"github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testProfile() *site.Profile {
	return &site.Profile{
		Name: "test",
		URL:  "https://chat.test/",
		Selectors: site.SelectorTable{
			site.RoleInput:            {"textarea"},
			site.RoleAssistantMessage: {".answer"},
			site.RoleLoggedIn:         {"textarea"},
			site.RoleNotLoggedIn:      {"button.login"},
			site.RoleNewChat:          {"button.new"},
		},
		SubmitWith:   site.SubmitEnter,
		AttachOpen:   site.AttachClick,
		AnswerFormat: site.FormatText,
	}
}

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

// chatPage answers every Enter with "answer N" and clears the input.
func chatPage() (*fakepage.Page, *fakepage.Element) {
	page := fakepage.New()
	input := fakepage.NewElement("")
	page.Set("textarea", input)
	n := 0
	page.OnPress = func(key driver.Key) {
		if key != driver.KeyEnter {
			return
		}
		n++
		input.SetValue("")
		page.Add(".answer", fakepage.NewElement(fmt.Sprintf("answer %d", n)))
	}
	return page, input
}

// launcherFor hands out one browser per page, in order.
func launcherFor(pages ...*fakepage.Page) (*fakepage.Launcher, []*fakepage.Browser) {
	browsers := make([]*fakepage.Browser, len(pages))
	for i, p := range pages {
		browsers[i] = fakepage.NewBrowser(p)
	}
	next := 0
	return &fakepage.Launcher{New: func() *fakepage.Browser {
		b := browsers[next]
		if next < len(browsers)-1 {
			next++
		}
		return b
	}}, browsers
}

type memRecorder struct {
	mu    sync.Mutex
	turns []turnlog.Turn
	onRec func()
}

func (r *memRecorder) Record(ctx context.Context, t turnlog.Turn) error {
	if r.onRec != nil {
		r.onRec()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
	return nil
}

func (r *memRecorder) all() []turnlog.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]turnlog.Turn(nil), r.turns...)
}

func newManager(t *testing.T, l driver.Launcher, mutate func(o *Options)) *Manager {
	t.Helper()
	opts := Options{
		Launcher:  l,
		Profile:   testProfile(),
		Snapshots: auth.NewStore(filepath.Join(t.TempDir(), "state.json")),
		Chat:      chat.DefaultTiming(),
		Attach:    chat.DefaultAttachTiming(),
		Auth:      auth.DefaultTiming(),
		Clock:     &hookClock{FakeClock: poll.NewFakeClock(time.Unix(0, 0))},
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func startedManager(t *testing.T, l driver.Launcher, mutate func(o *Options)) *Manager {
	t.Helper()
	m := newManager(t, l, mutate)
	require.NoError(t, m.Startup(context.Background()))
	return m
}

func TestStartupResumesSnapshot(t *testing.T) {
	page, _ := chatPage()
	l, browsers := launcherFor(page)
	store := auth.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, store.Save([]byte(`{"cookies":[{"name":"sid"}],"origins":[]}`)))

	m := startedManager(t, l, func(o *Options) { o.Snapshots = store })
	assert.True(t, m.Ready())
	assert.Equal(t, "idle", m.Status().State)
	require.Len(t, browsers[0].OpenedWith(), 1)
	assert.JSONEq(t, `{"cookies":[{"name":"sid"}],"origins":[]}`, string(browsers[0].OpenedWith()[0]))
	assert.Equal(t, []string{"https://chat.test/"}, page.Navigated)

	require.NoError(t, m.Startup(context.Background()), "second startup is a no-op")
	assert.Equal(t, 1, l.Launches())
}

func TestStartupDurationUsesSessionClock(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	metrics.GetInstance().Reset()
	startedManager(t, l, nil)

	snap := metrics.GetInstance().GetSnapshot()["session/startup"]
	require.NotNil(t, snap)
	timing, ok := snap.Data.(metrics.TimingSnapshot)
	require.True(t, ok)
	// the virtual clock starts at the epoch; wall time would be decades
	assert.Less(t, timing.LastMs, float64(time.Minute/time.Millisecond))
}

func TestStartupNotAuthenticated(t *testing.T) {
	page, _ := chatPage()
	page.Set("button.login", fakepage.NewElement("Log in"))
	l, browsers := launcherFor(page)
	m := newManager(t, l, nil)

	err := m.Startup(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, m.Ready())
	assert.Equal(t, StateDown, m.State())
	assert.True(t, browsers[0].Closed())
}

func TestStartupLaunchFailure(t *testing.T) {
	m := newManager(t, &fakepage.Launcher{Err: errors.New("no chromium")}, nil)
	err := m.Startup(context.Background())
	assert.ErrorContains(t, err, "no chromium")
	assert.Equal(t, StateDown, m.State())
}

func TestStartupInteractiveLogin(t *testing.T) {
	page, _ := chatPage()
	page.Set("button.login", fakepage.NewElement("Log in"))
	l, browsers := launcherFor(page)
	browsers[0].State = []byte(`{"cookies":[{"name":"BDUSS"}],"origins":[]}`)
	clock := &hookClock{FakeClock: poll.NewFakeClock(time.Unix(0, 0))}
	clock.onSleep = func(n int) {
		if n == 3 {
			page.Remove("button.login")
		}
	}
	store := auth.NewStore(filepath.Join(t.TempDir(), "state.json"))

	m := startedManager(t, l, func(o *Options) {
		o.InteractiveLogin = true
		o.Snapshots = store
		o.Clock = clock
	})
	assert.True(t, m.Ready())
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, browsers[0].State, saved)
}

func TestAskReturnsAnswers(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	rec := &memRecorder{}
	m := startedManager(t, l, func(o *Options) { o.Recorder = rec })
	ctx := context.Background()

	a, err := m.Ask(ctx, Request{Prompt: "first"})
	require.NoError(t, err)
	assert.Equal(t, "answer 1", a.Text)
	assert.Equal(t, int64(1), a.Requests)

	a, err = m.Ask(ctx, Request{Prompt: "second"})
	require.NoError(t, err)
	assert.Equal(t, "answer 2", a.Text)
	assert.Equal(t, int64(2), a.Requests)
	assert.Equal(t, int64(2), m.RequestCount())

	turns := rec.all()
	require.Len(t, turns, 2)
	assert.Equal(t, "second", turns[1].Prompt)
	assert.Equal(t, "answer 2", turns[1].Answer)
	assert.Equal(t, a.TurnID, turns[1].ID)
	assert.Equal(t, "test", turns[1].Site)
}

func TestAskBeforeStartup(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	m := newManager(t, l, nil)
	_, err := m.Ask(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, l.Launches())
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	m := startedManager(t, l, nil)
	_, err := m.Ask(context.Background(), Request{Prompt: "  "})
	assert.Error(t, err)
	assert.Zero(t, m.RequestCount())
}

func TestAskNeverOverlaps(t *testing.T) {
	page, input := chatPage()
	var active, maxActive atomic.Int32
	input.OnFill = func(string) {
		n := active.Add(1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	rec := &memRecorder{onRec: func() { active.Add(-1) }}
	l, _ := launcherFor(page)
	m := startedManager(t, l, func(o *Options) { o.Recorder = rec })

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Ask(context.Background(), Request{Prompt: fmt.Sprintf("q%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), maxActive.Load(), "turns overlapped")
	assert.Equal(t, int64(callers), m.RequestCount())
	assert.Len(t, rec.all(), callers)
}

func TestAskServesCallersInArrivalOrder(t *testing.T) {
	page, input := chatPage()
	l, _ := launcherFor(page)
	m := startedManager(t, l, nil)

	require.NoError(t, m.gate.Acquire(context.Background(), 1))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Ask(context.Background(), Request{Prompt: fmt.Sprintf("p%d", i)})
			assert.NoError(t, err)
		}(i)
		want := int64(i + 1)
		require.Eventually(t, func() bool { return m.Status().Queued == want }, time.Second, time.Millisecond)
		// let the caller reach the semaphore's wait list
		time.Sleep(20 * time.Millisecond)
	}
	m.gate.Release(1)
	wg.Wait()

	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, input.Fills)
	assert.Zero(t, m.Status().Queued)
}

func TestAskWaitHonoursContext(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	m := startedManager(t, l, nil)

	require.NoError(t, m.gate.Acquire(context.Background(), 1))
	defer m.gate.Release(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Ask(ctx, Request{Prompt: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, m.Status().Queued)
}

func TestAskOutlivesCallerCancellation(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	clock := &hookClock{FakeClock: poll.NewFakeClock(time.Unix(0, 0))}
	m := startedManager(t, l, func(o *Options) { o.Clock = clock })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	a, err := m.Ask(ctx, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Error(t, ctx.Err())
	assert.Equal(t, "answer 1", a.Text)
	assert.Equal(t, int64(1), m.RequestCount())
	assert.Equal(t, StateIdle, m.State())
}

func TestRestartOutlivesCallerCancellation(t *testing.T) {
	first, _ := chatPage()
	second, _ := chatPage()
	browsers := []*fakepage.Browser{fakepage.NewBrowser(first), fakepage.NewBrowser(second)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	launches := 0
	l := &fakepage.Launcher{New: func() *fakepage.Browser {
		launches++
		if launches == 2 {
			cancel()
		}
		return browsers[launches-1]
	}}
	m := startedManager(t, l, nil)

	require.NoError(t, m.Restart(ctx))
	assert.Error(t, ctx.Err())
	assert.True(t, m.Ready())
	assert.True(t, browsers[0].Closed())
	assert.False(t, browsers[1].Closed())
}

func TestConversationResetAfterInterval(t *testing.T) {
	page, input := chatPage()
	fillsAtClick := -1
	newChat := fakepage.NewElement("New chat")
	newChat.OnClick = func() { fillsAtClick = len(input.Fills) }
	page.Set("button.new", newChat)
	l, _ := launcherFor(page)
	m := startedManager(t, l, func(o *Options) { o.NewChatInterval = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Ask(ctx, Request{Prompt: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
	}
	assert.Zero(t, newChat.ClickCount())

	_, err := m.Ask(ctx, Request{Prompt: "q2"})
	require.NoError(t, err)
	assert.Equal(t, 1, newChat.ClickCount())
	assert.Equal(t, 2, fillsAtClick, "reset happens before the third prompt is typed")

	_, err = m.Ask(ctx, Request{Prompt: "q3"})
	require.NoError(t, err)
	assert.Equal(t, 1, newChat.ClickCount())
}

func TestFailedTurnsDoNotCountTowardsReset(t *testing.T) {
	page, input := chatPage()
	newChat := fakepage.NewElement("New chat")
	page.Set("button.new", newChat)
	l, _ := launcherFor(page)
	rec := &memRecorder{}
	m := startedManager(t, l, func(o *Options) {
		o.NewChatInterval = 1
		o.Recorder = rec
	})
	// Enter does nothing: the turn times out with no content.
	onPress := page.OnPress
	page.OnPress = func(driver.Key) { input.SetValue("") }

	_, err := m.Ask(context.Background(), Request{Prompt: "lost"})
	assert.ErrorIs(t, err, chat.ErrResponseTimeout)
	assert.True(t, m.Ready(), "a failed turn leaves the session up")
	assert.Zero(t, m.RequestCount())
	require.Len(t, rec.all(), 1)
	assert.NotEmpty(t, rec.all()[0].Error)

	page.OnPress = onPress
	_, err = m.Ask(context.Background(), Request{Prompt: "ok"})
	require.NoError(t, err)
	assert.Zero(t, newChat.ClickCount())
}

func TestProbeFailureRestartsOnce(t *testing.T) {
	first, _ := chatPage()
	second, secondInput := chatPage()
	l, browsers := launcherFor(first, second)
	m := startedManager(t, l, nil)
	ctx := context.Background()

	_, err := m.Ask(ctx, Request{Prompt: "before"})
	require.NoError(t, err)

	first.SetTitle("", errors.New("target closed"))
	a, err := m.Ask(ctx, Request{Prompt: "after"})
	require.NoError(t, err)

	assert.Equal(t, 2, l.Launches(), "exactly one restart")
	assert.True(t, browsers[0].Closed())
	assert.False(t, browsers[1].Closed())
	assert.Equal(t, []string{"after"}, secondInput.Fills)
	assert.Equal(t, "answer 1", a.Text)
	assert.Equal(t, int64(2), a.Requests, "restart does not reset the counter")
	assert.Equal(t, int64(1), m.Status().Restarts)
}

func TestRestartFailureSurfaces(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	m := startedManager(t, l, nil)

	page.SetTitle("", errors.New("target closed"))
	l.Err = errors.New("chromium crashed")

	_, err := m.Ask(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrSessionUnhealthy)
	assert.Equal(t, StateDown, m.State())

	_, err = m.Ask(context.Background(), Request{Prompt: "again"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestExplicitRestart(t *testing.T) {
	first, _ := chatPage()
	second, _ := chatPage()
	l, browsers := launcherFor(first, second)
	m := startedManager(t, l, nil)

	_, err := m.Ask(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	require.NoError(t, m.Restart(context.Background()))
	assert.True(t, browsers[0].Closed())
	assert.True(t, m.Ready())
	assert.Equal(t, int64(1), m.RequestCount())
}

func TestSetProfileAppliesAtNextTurn(t *testing.T) {
	page, input := chatPage()
	prompt := fakepage.NewElement("")
	page.Set("#prompt", prompt)
	l, _ := launcherFor(page)
	m := startedManager(t, l, nil)

	next := testProfile()
	next.Name = "next"
	next.Selectors[site.RoleInput] = []string{"#prompt"}
	m.SetProfile(next)
	assert.Equal(t, "test", m.Status().Site, "not applied until the next turn")

	_, err := m.Ask(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, prompt.Fills)
	assert.Empty(t, input.Fills)
	assert.Equal(t, "next", m.Status().Site)
}

func TestNewConversation(t *testing.T) {
	page, _ := chatPage()
	newChat := fakepage.NewElement("New chat")
	page.Set("button.new", newChat)
	l, _ := launcherFor(page)
	m := startedManager(t, l, func(o *Options) { o.NewChatInterval = 1 })

	_, err := m.Ask(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	require.NoError(t, m.NewConversation(context.Background()))
	assert.Equal(t, 1, newChat.ClickCount())

	_, err = m.Ask(context.Background(), Request{Prompt: "q2"})
	require.NoError(t, err)
	assert.Equal(t, 1, newChat.ClickCount(), "counter was reset by the explicit new conversation")
}

func TestSaveSnapshot(t *testing.T) {
	page, _ := chatPage()
	l, browsers := launcherFor(page)
	browsers[0].State = []byte(`{"cookies":[]}`)
	m := newManager(t, l, nil)

	assert.ErrorIs(t, m.SaveSnapshot(context.Background()), ErrNotReady)

	require.NoError(t, m.Startup(context.Background()))
	require.NoError(t, m.SaveSnapshot(context.Background()))
	data, err := m.opts.Snapshots.Load()
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, string(data))
}

func TestKeepalive(t *testing.T) {
	first, _ := chatPage()
	second, _ := chatPage()
	l, _ := launcherFor(first, second)
	m := startedManager(t, l, nil)

	m.keepalive()
	assert.Equal(t, 1, l.Launches(), "healthy page is left alone")

	first.SetTitle("", errors.New("target closed"))
	require.NoError(t, m.gate.Acquire(context.Background(), 1))
	m.keepalive()
	assert.Equal(t, 1, l.Launches(), "skipped while the gate is held")
	m.gate.Release(1)

	m.keepalive()
	assert.Equal(t, 2, l.Launches())
	assert.True(t, m.Ready())
}

func TestKeepaliveSchedule(t *testing.T) {
	page, _ := chatPage()
	l, _ := launcherFor(page)
	m := startedManager(t, l, func(o *Options) { o.Keepalive = "@every 1h" })
	assert.True(t, m.Ready())
	m.Close(context.Background())
	assert.False(t, m.Ready())

	_, err := NewManager(Options{Launcher: l, Profile: testProfile(), Keepalive: "every now and then"})
	assert.Error(t, err)
}

func TestCloseIsFinal(t *testing.T) {
	page, _ := chatPage()
	l, browsers := launcherFor(page)
	m := startedManager(t, l, nil)

	m.Close(context.Background())
	m.Close(context.Background())
	assert.True(t, browsers[0].Closed())

	_, err := m.Ask(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Startup(context.Background()), ErrClosed)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(Options{Profile: testProfile()})
	assert.Error(t, err)

	bad := testProfile()
	delete(bad.Selectors, site.RoleInput)
	_, err = NewManager(Options{Launcher: &fakepage.Launcher{}, Profile: bad})
	assert.Error(t, err)
}
