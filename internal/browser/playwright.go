package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver launches persistent Chromium contexts through
// playwright-go. The playwright runtime is started on first use.
type PlaywrightDriver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	install bool
}

// NewPlaywrightDriver returns a driver that installs the playwright browsers
// on first launch when install is true.
func NewPlaywrightDriver(install bool) *PlaywrightDriver {
	return &PlaywrightDriver{install: install}
}

func (d *PlaywrightDriver) Name() string { return "playwright" }

func (d *PlaywrightDriver) runtime() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if d.install {
		if err := playwright.Install(opts); err != nil {
			return nil, err
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, err
	}
	d.pw = pw
	return pw, nil
}

func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

func (d *PlaywrightDriver) Launch(ctx context.Context, spec LaunchSpec) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := d.runtime()
	if err != nil {
		return nil, err
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(spec.Headless),
		Args:     playwrightArgs(spec),
	}
	if spec.UserAgent != "" {
		opts.UserAgent = playwright.String(spec.UserAgent)
	}
	if spec.ViewportW > 0 && spec.ViewportH > 0 {
		opts.Viewport = &playwright.Size{Width: spec.ViewportW, Height: spec.ViewportH}
	}
	if spec.BinPath != "" {
		opts.ExecutablePath = playwright.String(spec.BinPath)
	}
	if spec.ProxyServer != "" {
		opts.Proxy = &playwright.Proxy{Server: "http://" + spec.ProxyServer}
	}

	bc, err := pw.Chromium.LaunchPersistentContext(spec.ProfileDir, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = bc.Close()
		return nil, err
	}

	pb := &pwBrowser{bc: bc, disconnected: make(chan struct{})}
	bc.OnClose(func(playwright.BrowserContext) {
		pb.disconnectOnce.Do(func() { close(pb.disconnected) })
	})
	return pb, nil
}

// playwrightArgs drops the switches playwright sets from its own launch
// options; passing both gives Chromium two proxy servers.
func playwrightArgs(spec LaunchSpec) []string {
	all := spec.ChromeArgs()
	out := make([]string, 0, len(all))
	for _, a := range all {
		if strings.HasPrefix(a, "--proxy-server=") || strings.HasPrefix(a, "--user-agent=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

type pwBrowser struct {
	bc             playwright.BrowserContext
	disconnected   chan struct{}
	disconnectOnce sync.Once
	closeOnce      sync.Once
	closeErr       error
}

func (b *pwBrowser) Disconnected() <-chan struct{} { return b.disconnected }

func (b *pwBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.bc.Close()
	})
	return b.closeErr
}

func (b *pwBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.bc.NewPage()
	if err != nil {
		return nil, err
	}
	if opts.NavTimeout > 0 {
		page.SetDefaultNavigationTimeout(float64(opts.NavTimeout.Milliseconds()))
	}
	filter := opts.Filter
	err = page.Route("**/*", func(route playwright.Route) {
		req := route.Request()
		if filter.Blocks(req.ResourceType(), req.URL()) {
			_ = route.Abort("blockedbyclient")
			return
		}
		_ = route.Continue()
	})
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	return &pwPage{page: page}, nil
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// playwright calls are not context aware; cancel by closing the page
	stop := context.AfterFunc(ctx, func() { _ = p.page.Close() })
	defer stop()

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (p *pwPage) Eval(ctx context.Context, js string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := p.page.Evaluate(js)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Close() error { return p.page.Close() }
