// Package fakepage is an in-memory driver.Page for tests. The DOM is a map
// from locator string to elements; tests mutate it directly or from hooks.
package fakepage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
)

// ErrDetached is returned by every method of a detached element.
var ErrDetached = errors.New("fakepage: element detached")

// Element is a fake DOM node.
type Element struct {
	mu       sync.Mutex
	text     []string // successive Text() results; the last one sticks
	html     string
	value    string
	hidden   bool
	detached bool

	Clicks int
	Hovers int
	Fills  []string

	OnClick func()
	OnHover func()
	OnFill  func(text string)
}

// NewElement returns a visible element with the given text.
func NewElement(text string) *Element {
	return &Element{text: []string{text}}
}

// Script makes successive Text calls return texts in order, then repeat the last.
func (e *Element) Script(texts ...string) *Element {
	e.mu.Lock()
	e.text = append([]string(nil), texts...)
	e.mu.Unlock()
	return e
}

func (e *Element) SetHTML(html string) *Element {
	e.mu.Lock()
	e.html = html
	e.mu.Unlock()
	return e
}

func (e *Element) SetValue(v string) *Element {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
	return e
}

func (e *Element) SetVisible(v bool) *Element {
	e.mu.Lock()
	e.hidden = !v
	e.mu.Unlock()
	return e
}

func (e *Element) Detach() {
	e.mu.Lock()
	e.detached = true
	e.mu.Unlock()
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ErrDetached
	}
	if len(e.text) == 0 {
		return "", nil
	}
	t := e.text[0]
	if len(e.text) > 1 {
		e.text = e.text[1:]
	}
	return t, nil
}

func (e *Element) HTML(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ErrDetached
	}
	return e.html, nil
}

func (e *Element) Value(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ErrDetached
	}
	return e.value, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return false, ErrDetached
	}
	return !e.hidden, nil
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrDetached
	}
	e.Clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrDetached
	}
	e.Hovers++
	hook := e.OnHover
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) Fill(ctx context.Context, text string) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrDetached
	}
	e.value = text
	e.Fills = append(e.Fills, text)
	hook := e.OnFill
	e.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return nil
}

// ClickCount returns Clicks under the element lock.
func (e *Element) ClickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Clicks
}

// Point is a recorded ClickAt.
type Point struct{ X, Y float64 }

// Page is a fake driver.Page.
type Page struct {
	mu       sync.Mutex
	elements map[string][]*Element
	faults   map[string]error

	queries map[string]int
	waits   map[string]int

	title    string
	titleErr error

	Presses   []driver.Key
	ClicksAt  []Point
	Navigated []string
	Reloads   int
	Chosen    [][]string

	OnPress   func(key driver.Key)
	OnWait    func(locator string)
	OnReload  func()
	OnClickAt func(p Point)
	// ChooseFilesFunc overrides the default chooser, which clicks the
	// trigger and records the paths.
	ChooseFilesFunc func(trigger driver.Element, paths []string) error
}

func New() *Page {
	return &Page{
		elements: map[string][]*Element{},
		faults:   map[string]error{},
		queries:  map[string]int{},
		waits:    map[string]int{},
		title:    "fake",
	}
}

// Set replaces the elements matched by locator.
func (p *Page) Set(locator string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(els) == 0 {
		delete(p.elements, locator)
	} else {
		p.elements[locator] = els
	}
	return p
}

// Add appends an element to those matched by locator.
func (p *Page) Add(locator string, el *Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[locator] = append(p.elements[locator], el)
	return p
}

func (p *Page) Remove(locator string) { p.Set(locator) }

// Fault makes every query for locator fail with err; nil clears it.
func (p *Page) Fault(locator string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.faults, locator)
	} else {
		p.faults[locator] = err
	}
}

func (p *Page) SetTitle(title string, err error) {
	p.mu.Lock()
	p.title, p.titleErr = title, err
	p.mu.Unlock()
}

// Queries reports how many zero-wait probes hit locator.
func (p *Page) Queries(locator string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[locator]
}

// Waits reports how many bounded waits hit locator.
func (p *Page) Waits(locator string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits[locator]
}

func (p *Page) PressCount(key driver.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.Presses {
		if k == key {
			n++
		}
	}
	return n
}

func (p *Page) lookup(locator string) ([]*Element, error) {
	if err := p.faults[locator]; err != nil {
		return nil, err
	}
	var live []*Element
	for _, el := range p.elements[locator] {
		el.mu.Lock()
		detached := el.detached
		el.mu.Unlock()
		if !detached {
			live = append(live, el)
		}
	}
	return live, nil
}

func (p *Page) Query(ctx context.Context, locator string) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[locator]++
	els, err := p.lookup(locator)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (p *Page) QueryAll(ctx context.Context, locator string) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[locator]++
	els, err := p.lookup(locator)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

// Wait checks once, gives OnWait a chance to render the element, then checks
// again. It never sleeps.
func (p *Page) Wait(ctx context.Context, locator string, timeout time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.waits[locator]++
	els, err := p.lookup(locator)
	hook := p.OnWait
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(els) > 0 {
		return els[0], nil
	}
	if hook == nil {
		return nil, nil
	}
	hook(locator)

	p.mu.Lock()
	defer p.mu.Unlock()
	els, err = p.lookup(locator)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigated = append(p.Navigated, url)
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.Reloads++
	hook := p.OnReload
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, p.titleErr
}

func (p *Page) Press(ctx context.Context, key driver.Key) error {
	p.mu.Lock()
	p.Presses = append(p.Presses, key)
	hook := p.OnPress
	p.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	pt := Point{X: x, Y: y}
	p.ClicksAt = append(p.ClicksAt, pt)
	hook := p.OnClickAt
	p.mu.Unlock()
	if hook != nil {
		hook(pt)
	}
	return nil
}

func (p *Page) ChooseFiles(ctx context.Context, trigger driver.Element, paths []string, timeout time.Duration) error {
	p.mu.Lock()
	fn := p.ChooseFilesFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(trigger, paths)
	}
	if err := trigger.Click(ctx); err != nil {
		return fmt.Errorf("fakepage: open chooser: %w", err)
	}
	p.mu.Lock()
	p.Chosen = append(p.Chosen, paths)
	p.mu.Unlock()
	return nil
}

// Browser is a fake driver.Browser serving one Page.
type Browser struct {
	mu       sync.Mutex
	page     *Page
	opened   [][]byte
	closed   bool
	OpenErr  error
	State    []byte
	StateErr error
}

func NewBrowser(page *Page) *Browser {
	return &Browser{page: page, State: []byte(`{"cookies":[],"origins":[]}`)}
}

func (b *Browser) OpenPage(ctx context.Context, state []byte) (driver.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.opened = append(b.opened, state)
	return b.page, nil
}

// OpenedWith returns the snapshots passed to OpenPage.
func (b *Browser) OpenedWith() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.opened...)
}

func (b *Browser) ExportState(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.State, b.StateErr
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Launcher hands out browsers from New, one per Launch.
type Launcher struct {
	mu       sync.Mutex
	launches int
	New      func() *Browser
	Err      error
}

func (l *Launcher) Launch(ctx context.Context) (driver.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.Err != nil {
		return nil, l.Err
	}
	return l.New(), nil
}

func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}
