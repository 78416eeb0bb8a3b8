// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"airdrop_manager/internal/browser"
)

// Driver launches fake browsers. NavigateFunc, when set, decides the
// outcome of every Navigate call.
type Driver struct {
	NavigateFunc func(ctx context.Context, spec browser.LaunchSpec, url string) error
	NavDelay     time.Duration

	mu       sync.Mutex
	launches []browser.LaunchSpec
	browsers map[string]*Browser
	visits   []string
	live     atomic.Int32
	peak     atomic.Int32
}

func New() *Driver {
	return &Driver{browsers: make(map[string]*Browser)}
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Launch(ctx context.Context, spec browser.LaunchSpec) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := &Browser{d: d, spec: spec, disc: make(chan struct{})}
	d.mu.Lock()
	d.launches = append(d.launches, spec)
	d.browsers[spec.SessionID] = b
	d.mu.Unlock()

	n := d.live.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return b, nil
}

func (d *Driver) Close() error { return nil }

// Launches returns the specs of every launch so far.
func (d *Driver) Launches() []browser.LaunchSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.LaunchSpec(nil), d.launches...)
}

// Visits returns every URL navigated to.
func (d *Driver) Visits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visits...)
}

// Peak is the highest number of simultaneously open browsers.
func (d *Driver) Peak() int { return int(d.peak.Load()) }

func (d *Driver) Live() int { return int(d.live.Load()) }

// Crash simulates the browser for sessionID going away.
func (d *Driver) Crash(sessionID string) bool {
	d.mu.Lock()
	b, ok := d.browsers[sessionID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	b.discOnce.Do(func() { close(b.disc) })
	return true
}

type Browser struct {
	d         *Driver
	spec      browser.LaunchSpec
	disc      chan struct{}
	discOnce  sync.Once
	closeOnce sync.Once
}

func (b *Browser) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	select {
	case <-b.disc:
		return nil, errors.New("browser disconnected")
	default:
	}
	return &Page{b: b}, nil
}

func (b *Browser) Disconnected() <-chan struct{} { return b.disc }

func (b *Browser) Close() error {
	b.closeOnce.Do(func() { b.d.live.Add(-1) })
	return nil
}

type Page struct {
	b   *Browser
	url string
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.b.d.NavDelay > 0 {
		t := time.NewTimer(p.b.d.NavDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.b.disc:
			return errors.New("browser disconnected")
		}
	}
	p.b.d.mu.Lock()
	p.b.d.visits = append(p.b.d.visits, url)
	p.b.d.mu.Unlock()
	if f := p.b.d.NavigateFunc; f != nil {
		if err := f(ctx, p.b.spec, url); err != nil {
			return err
		}
	}
	p.url = url
	return nil
}

func (p *Page) Eval(ctx context.Context, js string) (string, error) { return "fake title", nil }

func (p *Page) URL() string { return p.url }

func (p *Page) Close() error { return nil }
