package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/roelfdiedericks/chatrelay/internal/auth"
	"github.com/roelfdiedericks/chatrelay/internal/chat"
	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

// DefaultNewChatInterval is how many successful turns run in one conversation
// before it is replaced by a fresh one.
const DefaultNewChatInterval = 50

// Options configures a Manager.
type Options struct {
	Launcher  driver.Launcher
	Profile   *site.Profile
	Snapshots *auth.Store // nil means start without a snapshot and never save one

	Chat   chat.Timing
	Attach chat.AttachTiming
	Auth   auth.Timing

	NavigationTimeout time.Duration
	ProbeTimeout      time.Duration
	NewChatInterval   int

	// InteractiveLogin lets startup wait for a human to sign in instead of
	// failing. Only useful with a headed browser.
	InteractiveLogin bool

	// Keepalive is a cron spec ("@every 5m"); empty disables it.
	Keepalive string

	Recorder Recorder
	Clock    poll.Clock
}

// Manager serializes all turns onto one browser session. Build one per
// process and hand it to whatever serves callers.
type Manager struct {
	opts Options
	// gate is a weighted semaphore of size 1: waiters are admitted in
	// arrival order, and Acquire honours ctx.
	gate *semaphore.Weighted

	mu      sync.Mutex
	state   State
	browser driver.Browser
	page    driver.Page
	chat    *chat.Chat
	profile *site.Profile
	closed  bool

	requests atomic.Int64
	restarts atomic.Int64
	queued   atomic.Int64
	pending  atomic.Pointer[site.Profile]

	// turns since the last conversation reset, guarded by gate
	sinceReset int

	cron      *cron.Cron
	cronStart sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager validates opts and returns a manager in StateDown.
func NewManager(opts Options) (*Manager, error) {
	if opts.Launcher == nil {
		return nil, errors.New("session: launcher is required")
	}
	if opts.Profile == nil {
		return nil, errors.New("session: site profile is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if opts.NewChatInterval <= 0 {
		opts.NewChatInterval = DefaultNewChatInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = poll.RealClock{}
	}

	m := &Manager{
		opts:    opts,
		gate:    semaphore.NewWeighted(1),
		profile: opts.Profile,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if spec := strings.TrimSpace(opts.Keepalive); spec != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(spec, m.keepalive); err != nil {
			m.cancel()
			return nil, fmt.Errorf("session: keepalive schedule %q: %w", spec, err)
		}
	}
	return m, nil
}

// Startup launches the browser, resumes the snapshot, and verifies the page
// is signed in. It is a no-op when the session is already up.
func (m *Manager) Startup(ctx context.Context) error {
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.gate.Release(1)

	if m.isClosed() {
		return ErrClosed
	}
	if m.State() != StateDown {
		return nil
	}
	if err := m.startup(ctx); err != nil {
		return err
	}
	if m.cron != nil {
		m.cronStart.Do(func() {
			m.cron.Start()
			L_info("session: keepalive scheduled", "spec", m.opts.Keepalive)
		})
	}
	return nil
}

func (m *Manager) startup(ctx context.Context) error {
	start := m.opts.Clock.Now()
	profile := m.currentProfile()
	m.setState(StateLaunching)
	L_info("session: starting", "site", profile.Name)

	b, err := m.opts.Launcher.Launch(ctx)
	if err != nil {
		m.setState(StateDown)
		return fmt.Errorf("session: launch browser: %w", err)
	}
	abort := func(err error) error {
		if cerr := b.Close(); cerr != nil {
			L_debug("session: closing browser after failed startup", "error", cerr)
		}
		m.setState(StateDown)
		return err
	}

	var snapshot []byte
	if m.opts.Snapshots != nil {
		if snapshot, err = m.opts.Snapshots.Load(); err != nil {
			L_warn("session: ignoring unreadable snapshot", "error", err)
			snapshot = nil
		}
	}

	page, err := b.OpenPage(ctx, snapshot)
	if err != nil {
		return abort(fmt.Errorf("session: open page: %w", err))
	}

	navCtx, cancel := context.WithTimeout(ctx, m.opts.NavigationTimeout)
	err = page.Navigate(navCtx, profile.URL)
	cancel()
	if err != nil {
		return abort(fmt.Errorf("session: load %s: %w", profile.URL, err))
	}

	checker := auth.NewChecker(page, profile.Selectors, m.opts.Auth)
	if !checker.Authenticated(ctx) {
		if !m.opts.InteractiveLogin || m.opts.Snapshots == nil {
			if snapshot == nil {
				L_error("session: no saved login, run `chatrelay login` first")
			} else {
				L_error("session: saved login has expired, run `chatrelay login` again")
			}
			return abort(ErrNotAuthenticated)
		}
		login := &auth.Login{
			Browser: b,
			Page:    page,
			Checker: checker,
			Store:   m.opts.Snapshots,
			Timing:  m.opts.Auth,
			Clock:   m.opts.Clock,
		}
		if err := login.Wait(ctx); err != nil {
			return abort(fmt.Errorf("%w: %v", ErrNotAuthenticated, err))
		}
	}

	c := chat.New(page, profile, m.opts.Chat, m.opts.Attach, m.opts.Clock)

	m.mu.Lock()
	m.browser, m.page, m.chat = b, page, c
	m.state = StateIdle
	m.mu.Unlock()
	m.sinceReset = 0

	MetricDuration("session", "startup", m.opts.Clock.Now().Sub(start))
	L_info("session: ready", "site", profile.Name, "snapshot", snapshot != nil)
	return nil
}

// shutdown releases the browser. Safe when already down.
func (m *Manager) shutdown() {
	m.mu.Lock()
	b := m.browser
	m.browser, m.page, m.chat = nil, nil, nil
	m.state = StateDown
	m.mu.Unlock()

	if b == nil {
		return
	}
	if err := b.Close(); err != nil {
		L_warn("session: browser close failed", "error", err)
	}
	L_info("session: browser closed")
}

func (m *Manager) restart(ctx context.Context) error {
	L_info("session: restarting")
	m.shutdown()
	m.restarts.Add(1)
	MetricInc("session", "restarts")
	return m.startup(ctx)
}

// Restart replaces the browser session. It waits behind any in-flight turn;
// like Ask, ctx only bounds that wait.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.gate.Release(1)
	if m.isClosed() {
		return ErrClosed
	}
	ctx, done := m.detach(ctx)
	defer done()
	m.applyPending()
	return m.restart(ctx)
}

// detach returns a context for work done while holding the gate. Callers
// cancel only their wait at the gate; once admitted, the work runs to its own
// budget and is cut short only by Close.
func (m *Manager) detach(ctx context.Context) (context.Context, func()) {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.ctx, cancel)
	return wctx, func() {
		stop()
		cancel()
	}
}

// Shutdown releases the browser. If ctx ends before the in-flight turn
// finishes, the browser is closed anyway and that turn fails.
func (m *Manager) Shutdown(ctx context.Context) {
	if err := m.gate.Acquire(ctx, 1); err != nil {
		L_warn("session: shutting down with a turn in flight")
		m.shutdown()
		return
	}
	defer m.gate.Release(1)
	m.shutdown()
}

// Close stops the keepalive and shuts the session down for good.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.Shutdown(ctx)
}

// Ask runs one turn. Callers are served one at a time in arrival order. ctx
// bounds only the wait for the gate: an admitted turn ends by its own
// response budget, not by the caller going away.
//
// Before the turn the page is probed; a dead page is restarted once,
// transparently. Every NewChatInterval successful turns a fresh conversation
// is started before the prompt is sent.
func (m *Manager) Ask(ctx context.Context, req Request) (Answer, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Answer{}, errors.New("session: empty prompt")
	}

	MetricSet("session", "queue_depth", m.queued.Add(1))
	err := m.gate.Acquire(ctx, 1)
	MetricSet("session", "queue_depth", m.queued.Add(-1))
	if err != nil {
		return Answer{}, err
	}
	defer m.gate.Release(1)

	if m.isClosed() {
		return Answer{}, ErrClosed
	}
	if m.State() == StateDown {
		return Answer{}, ErrNotReady
	}
	ctx, done := m.detach(ctx)
	defer done()
	m.applyPending()

	if !m.probe(ctx) {
		L_warn("session: page unresponsive, restarting before the turn")
		if err := m.restart(ctx); err != nil {
			return Answer{}, fmt.Errorf("%w: restart failed: %v", ErrSessionUnhealthy, err)
		}
	}

	if m.sinceReset >= m.opts.NewChatInterval {
		L_info("session: starting a fresh conversation", "turns", m.sinceReset)
		if err := m.currentChat().NewConversation(ctx); err != nil {
			L_warn("session: conversation reset failed", "error", err)
		} else {
			MetricInc("session", "resets")
		}
		m.sinceReset = 0
	}

	return m.turn(ctx, req)
}

func (m *Manager) turn(ctx context.Context, req Request) (Answer, error) {
	c := m.currentChat()
	profile := c.Profile()
	start := m.opts.Clock.Now()
	record := turnlog.NewTurn(start, profile.Name, req.Prompt, req.ImagePath)

	m.setState(StateBusy)
	var reply chat.Reply
	var err error
	if req.ImagePath != "" {
		reply, err = c.SendWithImage(ctx, req.Prompt, req.ImagePath)
	} else {
		reply, err = c.Send(ctx, req.Prompt)
	}
	m.swapState(StateBusy, StateIdle)

	elapsed := m.opts.Clock.Now().Sub(start)
	MetricDuration("session", "turn", elapsed)

	record.Duration = elapsed
	record.Answer = reply.Text
	record.Verdict = reply.Verdict
	record.Truncated = reply.Truncated
	if err != nil {
		record.Error = err.Error()
	}
	m.record(ctx, record)

	if err != nil {
		MetricFailWithReason("session", "turn", failureReason(err))
		L_warn("session: turn failed", "error", err, "elapsed", elapsed)
		return Answer{TurnID: record.ID, Verdict: reply.Verdict}, err
	}
	MetricSuccess("session", "turn")
	if !reply.Confirmed {
		L_debug("session: answer arrived without a submit confirmation", "error", chat.ErrSubmissionUncertain)
	}

	n := m.requests.Add(1)
	m.sinceReset++
	return Answer{
		Text:      reply.Text,
		Truncated: reply.Truncated,
		Verdict:   reply.Verdict,
		Requests:  n,
		Elapsed:   elapsed,
		TurnID:    record.ID,
	}, nil
}

func (m *Manager) record(ctx context.Context, t turnlog.Turn) {
	if m.opts.Recorder == nil {
		return
	}
	if err := m.opts.Recorder.Record(context.WithoutCancel(ctx), t); err != nil {
		L_warn("session: turn not recorded", "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrElementNotFound):
		return "element_not_found"
	case errors.Is(err, chat.ErrResponseTimeout):
		return "response_timeout"
	case errors.Is(err, chat.ErrAttachmentFailed):
		return "attachment_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "other"
	}
}

// NewConversation starts a fresh conversation now.
func (m *Manager) NewConversation(ctx context.Context) error {
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.gate.Release(1)
	if m.isClosed() {
		return ErrClosed
	}
	if m.State() == StateDown {
		return ErrNotReady
	}
	ctx, done := m.detach(ctx)
	defer done()
	m.applyPending()
	if err := m.currentChat().NewConversation(ctx); err != nil {
		return err
	}
	m.sinceReset = 0
	return nil
}

// SaveSnapshot persists the live browser's authentication state.
func (m *Manager) SaveSnapshot(ctx context.Context) error {
	if m.opts.Snapshots == nil {
		return errors.New("session: no snapshot store configured")
	}
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.gate.Release(1)

	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return ErrNotReady
	}
	return auth.SaveSnapshot(ctx, b, m.opts.Snapshots)
}

// SetProfile queues a profile swap. It takes effect at the start of the next
// turn, under the gate, so a turn never sees two selector tables.
func (m *Manager) SetProfile(p *site.Profile) {
	m.pending.Store(p)
	L_info("session: site profile queued", "site", p.Name)
}

func (m *Manager) applyPending() {
	p := m.pending.Swap(nil)
	if p == nil {
		return
	}
	m.mu.Lock()
	m.profile = p
	c := m.chat
	m.mu.Unlock()
	if c != nil {
		c.SetProfile(p)
	}
}

// probe reads the page title as a cheap liveness check.
func (m *Manager) probe(ctx context.Context) bool {
	m.mu.Lock()
	page := m.page
	m.mu.Unlock()
	if page == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	if _, err := page.Title(pctx); err != nil {
		L_warn("session: liveness probe failed", "error", err)
		MetricFailWithReason("session", "probe", "title")
		return false
	}
	return true
}

// keepalive probes an idle session on the cron schedule and restarts it if
// the page died. It never waits for the gate.
func (m *Manager) keepalive() {
	if !m.gate.TryAcquire(1) {
		L_trace("session: keepalive skipped, turn in flight")
		return
	}
	defer m.gate.Release(1)

	if m.isClosed() || m.State() == StateDown {
		return
	}
	MetricInc("session", "keepalive")
	if m.probe(m.ctx) {
		return
	}
	L_warn("session: idle page unresponsive, restarting")
	if err := m.restart(m.ctx); err != nil {
		L_error("session: keepalive restart failed", "error", err)
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether a turn can run (possibly after waiting).
func (m *Manager) Ready() bool {
	s := m.State()
	return s == StateIdle || s == StateBusy
}

// RequestCount is the number of successful turns since the manager was built.
// Restarts do not reset it.
func (m *Manager) RequestCount() int64 { return m.requests.Load() }

func (m *Manager) Status() Status {
	m.mu.Lock()
	state, name := m.state, m.profile.Name
	m.mu.Unlock()
	return Status{
		State:    state.String(),
		Ready:    state == StateIdle || state == StateBusy,
		Site:     name,
		Requests: m.requests.Load(),
		Queued:   m.queued.Load(),
		Restarts: m.restarts.Load(),
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	L_trace("session: state", "state", s)
}

// swapState moves from old to s only if nothing else (a forced shutdown)
// changed the state meanwhile.
func (m *Manager) swapState(old, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == old {
		m.state = s
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) currentChat() *chat.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chat
}

func (m *Manager) currentProfile() *site.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}
