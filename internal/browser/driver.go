package browser

import (
	"context"
	"fmt"
	"time"
)

// LaunchSpec is everything a driver needs to start one isolated browser.
type LaunchSpec struct {
	SessionID   string
	ProfileDir  string
	ProxyServer string
	UserAgent   string
	MemoryMB    int
	Headless    bool
	BinPath     string
	ViewportW   int
	ViewportH   int
}

// ChromeArgs are the switches every driver passes to Chromium.
func (s LaunchSpec) ChromeArgs() []string {
	args := []string{
		"--disable-extensions",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--no-first-run",
		"--no-zygote",
		"--deterministic-fetch",
		"--disable-features=IsolateOrigins,site-per-process",
	}
	if s.UserAgent != "" {
		args = append(args, "--user-agent="+s.UserAgent)
	}
	if s.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--js-flags=--max-old-space-size=%d", s.MemoryMB))
	}
	if s.ProxyServer != "" {
		args = append(args, "--proxy-server="+s.ProxyServer)
	}
	return args
}

type PageOptions struct {
	NavTimeout time.Duration
	Filter     *Filter
}

// Driver starts browsers. Implementations must release everything they
// started when Launch returns an error.
type Driver interface {
	Name() string
	Launch(ctx context.Context, spec LaunchSpec) (Browser, error)
	Close() error
}

type Browser interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	// Disconnected is closed when the browser process or its control
	// connection goes away.
	Disconnected() <-chan struct{}
	Close() error
}

type Page interface {
	Navigate(ctx context.Context, url string) error
	Eval(ctx context.Context, js string) (string, error)
	URL() string
	Close() error
}
