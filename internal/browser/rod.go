package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodDriver launches Chromium through go-rod with the stealth patches
// applied to every page.
type RodDriver struct{}

func NewRodDriver() *RodDriver { return &RodDriver{} }

func (d *RodDriver) Name() string { return "rod" }

func (d *RodDriver) Close() error { return nil }

func (d *RodDriver) Launch(ctx context.Context, spec LaunchSpec) (Browser, error) {
	// not ctx itself: the launcher keeps its context for the browser's lifetime
	lctx, lcancel := context.WithCancel(context.Background())
	l := launcher.New().
		Context(lctx).
		Headless(spec.Headless).
		UserDataDir(spec.ProfileDir)
	if spec.BinPath != "" {
		l = l.Bin(spec.BinPath)
	}
	for _, arg := range spec.ChromeArgs() {
		name, val, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if val == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), val)
		}
	}

	u, err := awaitLaunch(ctx, l.Launch, l.Kill, lcancel)
	if err != nil {
		return nil, err
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		lcancel()
		return nil, err
	}

	rb := &rodBrowser{
		b:            b,
		l:            l,
		cancel:       lcancel,
		viewportW:    spec.ViewportW,
		viewportH:    spec.ViewportH,
		disconnected: make(chan struct{}),
	}
	// the event stream ends when the control connection drops
	events := b.Event()
	go func() {
		for range events {
		}
		close(rb.disconnected)
	}()
	return rb, nil
}

// awaitLaunch runs launch in the background. When ctx ends first, abort is
// called and the launch is reaped: a browser that still comes up is killed.
func awaitLaunch(ctx context.Context, launch func() (string, error), kill, abort func()) (string, error) {
	type launched struct {
		u   string
		err error
	}
	ch := make(chan launched, 1)
	go func() {
		u, err := launch()
		ch <- launched{u, err}
	}()
	select {
	case <-ctx.Done():
		abort()
		go func() {
			<-ch
			kill()
		}()
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			kill()
			abort()
			return "", r.err
		}
		return r.u, nil
	}
}

type rodBrowser struct {
	b            *rod.Browser
	l            *launcher.Launcher
	cancel       context.CancelFunc
	viewportW    int
	viewportH    int
	disconnected chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

func (r *rodBrowser) Disconnected() <-chan struct{} { return r.disconnected }

// Close shuts the browser down and kills the process. The profile directory
// is left in place for the next launch with the same session id.
func (r *rodBrowser) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.b.Close()
		r.l.Kill()
		r.cancel()
	})
	return r.closeErr
}

func (r *rodBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	page, err := stealth.Page(r.b.Context(ctx))
	if err != nil {
		return nil, err
	}
	page = page.Context(context.Background())

	if r.viewportW > 0 && r.viewportH > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             r.viewportW,
			Height:            r.viewportH,
			DeviceScaleFactor: 1,
		}); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	router := page.HijackRequests()
	filter := opts.Filter
	router.MustAdd("*", func(h *rod.Hijack) {
		if filter.Blocks(string(h.Request.Type()), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return &rodPage{page: page, router: router, navTimeout: opts.NavTimeout}, nil
}

type rodPage struct {
	page       *rod.Page
	router     *rod.HijackRouter
	navTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Close() error {
	_ = p.router.Stop()
	return p.page.Close()
}
