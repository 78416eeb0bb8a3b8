package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"airdrop_manager/internal/browser"
	"airdrop_manager/internal/model"
)

// Step is what an Interaction gets for one account on one project page.
// The page has already navigated to the target URL.
type Step struct {
	TaskID  string
	URL     string
	Account model.Account
	Page    browser.Page
	Attempt int
	// Reveal decrypts the account secret for this step only.
	Reveal func(ctx context.Context) (string, error)
}

type Result struct {
	Points  float64
	Details map[string]any
}

// Interaction is the per-project page routine.
type Interaction interface {
	Run(ctx context.Context, step Step) (Result, error)
}

type InteractionFunc func(ctx context.Context, step Step) (Result, error)

func (f InteractionFunc) Run(ctx context.Context, step Step) (Result, error) { return f(ctx, step) }

// Visit only reads the landing page title. It is the fallback when no
// routine is registered for a host.
var Visit Interaction = InteractionFunc(func(ctx context.Context, step Step) (Result, error) {
	title, err := step.Page.Eval(ctx, "() => document.title")
	if err != nil {
		return Result{}, err
	}
	return Result{Details: map[string]any{"title": title, "url": step.Page.URL()}}, nil
})

type route struct {
	pattern string
	g       glob.Glob
	ia      Interaction
}

// Registry maps host patterns such as "*.galxe.com" to interactions. The
// first registered match wins.
type Registry struct {
	mu       sync.RWMutex
	routes   []route
	fallback Interaction
}

func NewRegistry(fallback Interaction) *Registry {
	if fallback == nil {
		fallback = Visit
	}
	return &Registry{fallback: fallback}
}

func (r *Registry) Register(hostPattern string, ia Interaction) error {
	g, err := glob.Compile(strings.ToLower(hostPattern), '.')
	if err != nil {
		return fmt.Errorf("host pattern %q: %w", hostPattern, err)
	}
	r.mu.Lock()
	r.routes = append(r.routes, route{pattern: hostPattern, g: g, ia: ia})
	r.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(rawURL string) Interaction {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.fallback
	}
	host := strings.ToLower(u.Hostname())
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.g.Match(host) {
			return rt.ia
		}
	}
	return r.fallback
}

func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.pattern)
	}
	return out
}
