package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roelfdiedericks/chatrelay/internal/driver"
	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/poll"
	"github.com/roelfdiedericks/chatrelay/internal/site"
)

const awaitInterval = 250 * time.Millisecond

// Resolver finds the element currently playing a role. It remembers the
// locator that last matched per role and re-validates it with a zero-wait
// probe before trusting it.
type Resolver struct {
	page  driver.Page
	clock poll.Clock
	wait  time.Duration

	mu    sync.Mutex
	table site.SelectorTable
	cache map[site.Role]string
}

// NewResolver creates a resolver over table. wait bounds each candidate in the
// second, waiting pass.
func NewResolver(page driver.Page, table site.SelectorTable, wait time.Duration, clock poll.Clock) *Resolver {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Resolver{
		page:  page,
		clock: clock,
		wait:  wait,
		table: table,
		cache: make(map[site.Role]string),
	}
}

// Reset forgets every cached locator. Called after a new conversation
// replaces the DOM.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[site.Role]string)
	r.mu.Unlock()
}

// SetTable swaps the selector table and clears the cache.
func (r *Resolver) SetTable(table site.SelectorTable) {
	r.mu.Lock()
	r.table = table
	r.cache = make(map[site.Role]string)
	r.mu.Unlock()
}

// Cached returns the remembered locator for role.
func (r *Resolver) Cached(role site.Role) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.cache[role]
	return loc, ok
}

func (r *Resolver) remember(role site.Role, loc string) {
	r.mu.Lock()
	r.cache[role] = loc
	r.mu.Unlock()
}

func (r *Resolver) forget(role site.Role, loc string) {
	r.mu.Lock()
	if r.cache[role] == loc {
		delete(r.cache, role)
	}
	r.mu.Unlock()
}

func (r *Resolver) candidates(role site.Role) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Candidates(role)
}

// Resolve returns the first matching element for role: cached locator, then a
// zero-wait pass over all candidates, then a short bounded wait per candidate.
// Faults from individual candidates count as non-matches.
func (r *Resolver) Resolve(ctx context.Context, role site.Role) (driver.Element, string, error) {
	if el, loc := r.probeCached(ctx, role); el != nil {
		return el, loc, nil
	}

	cands := r.candidates(role)
	if el, loc, err := r.scan(ctx, role, cands); el != nil || err != nil {
		return el, loc, err
	}

	L_trace("resolver: zero-wait pass missed, waiting", "role", role, "candidates", len(cands))
	for _, loc := range cands {
		el, err := r.page.Wait(ctx, loc, r.wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			L_trace("resolver: candidate fault", "role", role, "locator", loc, "error", err)
			continue
		}
		if el != nil {
			r.remember(role, loc)
			L_debug("resolver: matched after wait", "role", role, "locator", loc)
			return el, loc, nil
		}
	}

	return nil, "", &ElementNotFoundError{Role: role}
}

// Probe is Resolve without the waiting pass. It returns nil when nothing
// matches right now.
func (r *Resolver) Probe(ctx context.Context, role site.Role) (driver.Element, string) {
	if el, loc := r.probeCached(ctx, role); el != nil {
		return el, loc
	}
	el, loc, _ := r.scan(ctx, role, r.candidates(role))
	return el, loc
}

// Await repeats zero-wait passes until role matches or timeout elapses.
func (r *Resolver) Await(ctx context.Context, role site.Role, timeout time.Duration) (driver.Element, string, error) {
	var (
		found driver.Element
		loc   string
	)
	p := poll.Poller{Clock: r.clock, Interval: awaitInterval, Timeout: timeout}
	err := p.Run(ctx, func(int) (bool, error) {
		found, loc = r.Probe(ctx, role)
		return found != nil, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, "", &ElementNotFoundError{Role: role}
	}
	if err != nil {
		return nil, "", err
	}
	return found, loc, nil
}

func (r *Resolver) probeCached(ctx context.Context, role site.Role) (driver.Element, string) {
	loc, ok := r.Cached(role)
	if !ok {
		MetricMiss("resolver", string(role))
		return nil, ""
	}
	el, err := r.page.Query(ctx, loc)
	if err == nil && el != nil {
		MetricHit("resolver", string(role))
		return el, loc
	}
	L_trace("resolver: cached locator went stale", "role", role, "locator", loc)
	MetricMiss("resolver", string(role))
	r.forget(role, loc)
	return nil, ""
}

// scan is one zero-wait pass over cands. The error is non-nil only when ctx
// is done.
func (r *Resolver) scan(ctx context.Context, role site.Role, cands []string) (driver.Element, string, error) {
	for _, loc := range cands {
		el, err := r.page.Query(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			L_trace("resolver: candidate fault", "role", role, "locator", loc, "error", err)
			continue
		}
		if el != nil {
			r.remember(role, loc)
			return el, loc, nil
		}
	}
	return nil, "", nil
}
