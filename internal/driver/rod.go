package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// Options configures RodLauncher.
type Options struct {
	Bin          string // browser binary; empty = system browser, then download
	DownloadDir  string // where a downloaded Chromium is kept
	ProfileDir   string // user data dir; empty = throwaway temp dir
	Headless     bool
	NoSandbox    bool
	Stealth      bool
	SlowMotion   time.Duration
	UserAgent    string
	Window       string   // "1280,800"
	ExtraFlags   []string // "name" or "name=value"
	Timeout      time.Duration
	AutoDownload bool
}

// RodLauncher launches Chromium through go-rod.
type RodLauncher struct {
	opts Options
}

func NewRodLauncher(opts Options) *RodLauncher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &RodLauncher{opts: opts}
}

// cleanupStaleLocks removes Chrome lock files left behind by crashed sessions.
// Chrome refuses to start if SingletonLock exists.
func cleanupStaleLocks(profileDir string) {
	for _, name := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		lockPath := filepath.Join(profileDir, name)
		if _, err := os.Lstat(lockPath); err == nil {
			if err := os.Remove(lockPath); err != nil {
				L_warn("driver: failed to remove stale lock file", "file", lockPath, "error", err)
			} else {
				L_info("driver: removed stale lock file", "file", lockPath)
			}
		}
	}
}

// resolveBin picks the browser binary: explicit path, then a system install,
// then a go-rod managed download.
func (l *RodLauncher) resolveBin() (string, error) {
	if l.opts.Bin != "" {
		if _, err := os.Stat(l.opts.Bin); err != nil {
			return "", fmt.Errorf("driver: browser binary %s: %w", l.opts.Bin, err)
		}
		return l.opts.Bin, nil
	}
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	if !l.opts.AutoDownload {
		return "", fmt.Errorf("driver: no browser found and auto download is disabled")
	}

	b := launcher.NewBrowser()
	if l.opts.DownloadDir != "" {
		if err := os.MkdirAll(l.opts.DownloadDir, 0o755); err != nil {
			return "", fmt.Errorf("driver: create download dir: %w", err)
		}
		b.RootDir = l.opts.DownloadDir
	}
	L_info("driver: downloading browser", "dir", b.RootDir)
	path, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("driver: download browser: %w", err)
	}
	return path, nil
}

// Launch starts a browser process and connects to it.
func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	bin, err := l.resolveBin()
	if err != nil {
		return nil, err
	}

	ln := launcher.New().
		Context(ctx).
		Bin(bin).
		Headless(l.opts.Headless).
		NoSandbox(l.opts.NoSandbox)

	if l.opts.ProfileDir != "" {
		if err := os.MkdirAll(l.opts.ProfileDir, 0o700); err != nil {
			return nil, fmt.Errorf("driver: create profile dir: %w", err)
		}
		cleanupStaleLocks(l.opts.ProfileDir)
		ln = ln.UserDataDir(l.opts.ProfileDir)
	}
	if l.opts.Window != "" {
		ln = ln.Set("window-size", l.opts.Window)
	}
	if l.opts.UserAgent != "" {
		ln = ln.Set("user-agent", l.opts.UserAgent)
	}
	for _, f := range l.opts.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if hasValue {
			ln = ln.Set(flags.Flag(name), value)
		} else {
			ln = ln.Set(flags.Flag(name))
		}
	}

	L_debug("driver: launching browser", "bin", bin, "headless", l.opts.Headless, "profileDir", l.opts.ProfileDir)
	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("driver: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if l.opts.SlowMotion > 0 {
		browser = browser.SlowMotion(l.opts.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("driver: connect to browser: %w", err)
	}
	// Rod defaults to a laptop viewport; let the page fill the window instead
	browser = browser.DefaultDevice(devices.Clear)

	L_info("driver: browser launched", "controlURL", controlURL)
	return &rodBrowser{browser: browser, launcher: ln, opts: l.opts}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options

	mu     sync.Mutex
	closed bool
}

func (b *rodBrowser) OpenPage(ctx context.Context, state []byte) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.opts.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("driver: create page: %w", err)
	}

	if b.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
			L_warn("driver: set user agent failed", "error", err)
		}
	}

	if len(state) > 0 {
		if err := b.applyState(page, state); err != nil {
			page.Close()
			return nil, err
		}
	}

	return &rodPage{page: page, timeout: b.opts.Timeout}, nil
}

func (b *rodBrowser) applyState(page *rod.Page, data []byte) error {
	st, err := decodeState(data)
	if err != nil {
		return err
	}
	if params := st.cookieParams(); len(params) > 0 {
		if err := b.browser.SetCookies(params); err != nil {
			return fmt.Errorf("driver: restore cookies: %w", err)
		}
	}
	if js := st.storageScript(); js != "" {
		if _, err := page.EvalOnNewDocument(js); err != nil {
			return fmt.Errorf("driver: restore storage: %w", err)
		}
	}
	L_debug("driver: restored state", "cookies", len(st.Cookies), "origins", len(st.Origins))
	return nil
}

func (b *rodBrowser) ExportState(ctx context.Context) ([]byte, error) {
	br := b.browser.Context(ctx)
	cookies, err := br.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("driver: read cookies: %w", err)
	}

	st := storageState{Cookies: make([]stateCookie, 0, len(cookies))}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, cookieFromProto(c))
	}

	pages, err := br.Pages()
	if err != nil {
		return nil, fmt.Errorf("driver: list pages: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range pages {
		origin, items, err := readLocalStorage(p.Context(ctx))
		if err != nil || origin == "" || origin == "null" || seen[origin] {
			continue
		}
		seen[origin] = true
		st.Origins = append(st.Origins, stateOrigin{Origin: origin, LocalStorage: items})
	}

	return encodeState(st)
}

func (b *rodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
		// Cleanup removes the user data dir, so only for throwaway profiles
		if b.opts.ProfileDir == "" {
			b.launcher.Cleanup()
		}
	}
	L_debug("driver: browser closed")
	return err
}

type rodPage struct {
	page    *rod.Page
	timeout time.Duration
}

func (p *rodPage) ctx(ctx context.Context) *rod.Page {
	return p.page.Context(ctx)
}

// timed binds ctx plus a timeout. release stops the timer; call it when the
// operation is done.
func (p *rodPage) timed(ctx context.Context, d time.Duration) (page *rod.Page, release func()) {
	page = p.ctx(ctx).Timeout(d)
	return page, func() { page.CancelTimeout() }
}

func (p *rodPage) Query(ctx context.Context, locator string) (Element, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	var (
		found bool
		el    *rod.Element
	)
	if loc.Kind == LocatorXPath {
		found, el, err = p.ctx(ctx).HasX(loc.Expr)
	} else {
		found, el, err = p.ctx(ctx).Has(loc.Expr)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) QueryAll(ctx context.Context, locator string) ([]Element, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	var els rod.Elements
	if loc.Kind == LocatorXPath {
		els, err = p.ctx(ctx).ElementsX(loc.Expr)
	} else {
		els, err = p.ctx(ctx).Elements(loc.Expr)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) Wait(ctx context.Context, locator string, timeout time.Duration) (Element, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	page, release := p.timed(ctx, timeout)
	defer release()
	var el *rod.Element
	if loc.Kind == LocatorXPath {
		el, err = page.ElementX(loc.Expr)
	} else {
		el, err = page.Element(loc.Expr)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	// rodElement rebinds the caller's ctx per call, dropping the wait timeout
	return &rodElement{el: el}, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page, release := p.timed(ctx, p.timeout)
	defer release()
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("driver: navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("driver: wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Reload(ctx context.Context) error {
	page, release := p.timed(ctx, p.timeout)
	defer release()
	if err := page.Reload(); err != nil {
		return fmt.Errorf("driver: reload: %w", err)
	}
	return page.WaitLoad()
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

var rodKeys = map[Key]input.Key{
	KeyEnter:     input.Enter,
	KeyEscape:    input.Escape,
	KeyBackspace: input.Backspace,
	KeyTab:       input.Tab,
}

func (p *rodPage) Press(ctx context.Context, key Key) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("driver: unsupported key %q", key)
	}
	return p.ctx(ctx).Keyboard.Press(k)
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64) error {
	page := p.ctx(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) ChooseFiles(ctx context.Context, trigger Element, paths []string, timeout time.Duration) error {
	re, ok := trigger.(*rodElement)
	if !ok {
		return fmt.Errorf("driver: foreign element %T", trigger)
	}
	page, release := p.timed(ctx, timeout)
	defer release()
	setFiles, err := page.HandleFileDialog()
	if err != nil {
		return fmt.Errorf("driver: intercept file chooser: %w", err)
	}
	if err := re.Click(ctx); err != nil {
		return fmt.Errorf("driver: open file chooser: %w", err)
	}
	if err := setFiles(paths); err != nil {
		return fmt.Errorf("driver: supply files: %w", err)
	}
	return nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) ctx(ctx context.Context) *rod.Element {
	return e.el.Context(ctx)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.ctx(ctx).Text()
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	return e.ctx(ctx).HTML()
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	res, err := e.ctx(ctx).Eval(`() => this.value !== undefined ? this.value : this.innerText`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.ctx(ctx).Visible()
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.ctx(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Hover(ctx context.Context) error {
	return e.ctx(ctx).Hover()
}

func (e *rodElement) Fill(ctx context.Context, text string) error {
	el := e.ctx(ctx)
	if err := el.Focus(); err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if text == "" {
		return el.Page().Keyboard.Press(input.Backspace)
	}
	return el.Input(text)
}
