package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/proxy"
	"airdrop_manager/internal/randx"
)

type ProxySource interface {
	Random(ctx context.Context) (proxy.Endpoint, bool)
}

type Metrics interface {
	SessionOpened(driver string)
	SessionClosed(driver, reason string, lifetime time.Duration)
	SessionRejected()
	SessionLaunchFailed()
}

type Options struct {
	Driver        Driver
	Proxies       ProxySource
	Sampler       *randx.Sampler
	Logger        *zap.Logger
	Metrics       Metrics
	ProfilesDir   string
	MaxConcurrent int
	MemoryMB      int
	Headless      bool
	BinPath       string
	ViewportW     int
	ViewportH     int
	NavTimeout    time.Duration
	BlockPatterns []string
	UserAgents    []string
}

type CreateOptions struct {
	TaskID    string
	AccountID string
}

type Pool struct {
	driver   Driver
	proxies  ProxySource
	sampler  *randx.Sampler
	logger   *zap.Logger
	metrics  Metrics
	filter   *Filter
	opts     Options
	tracerNm string

	mu       sync.Mutex
	max      int
	pending  map[string]struct{}
	sessions map[string]*Session
}

func New(opts Options) (*Pool, error) {
	if opts.Driver == nil {
		return nil, errors.New("browser: driver is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sampler == nil {
		opts.Sampler = randx.New(0)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.ProfilesDir == "" {
		opts.ProfilesDir = "browser_profiles"
	}
	filter, err := NewFilter(DefaultBlockedTypes, opts.BlockPatterns)
	if err != nil {
		return nil, fmt.Errorf("browser: block patterns: %w", err)
	}
	return &Pool{
		driver:   opts.Driver,
		proxies:  opts.Proxies,
		sampler:  opts.Sampler,
		logger:   opts.Logger.With(zap.String("component", "browser"), zap.String("driver", opts.Driver.Name())),
		metrics:  opts.Metrics,
		filter:   filter,
		opts:     opts,
		tracerNm: "airdrop_manager/browser",
		max:      opts.MaxConcurrent,
		pending:  make(map[string]struct{}),
		sessions: make(map[string]*Session),
	}, nil
}

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Create starts a session under id. It returns errs.ErrCapacityExceeded
// immediately when the pool is full, counting sessions still being created.
func (p *Pool) Create(ctx context.Context, id string, useProxy bool, co CreateOptions) (_ *Session, err error) {
	if !sessionIDRe.MatchString(id) {
		return nil, errs.Validation("invalid session id %q", id)
	}

	ctx, span := otel.Tracer(p.tracerNm).Start(ctx, "browser.create")
	span.SetAttributes(attribute.String("session.id", id), attribute.Bool("session.proxy", useProxy))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := p.admit(id); err != nil {
		return nil, err
	}
	admitted := false
	defer func() {
		if !admitted {
			p.mu.Lock()
			delete(p.pending, id)
			p.mu.Unlock()
		}
	}()

	profileDir := filepath.Join(p.opts.ProfilesDir, id)
	freshDir := false
	if _, statErr := os.Stat(profileDir); errors.Is(statErr, os.ErrNotExist) {
		freshDir = true
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}
	defer func() {
		if err != nil && freshDir {
			_ = os.RemoveAll(profileDir)
		}
	}()

	var (
		relay     *proxy.Relay
		proxyAddr string
	)
	if useProxy && p.proxies != nil {
		ep, ok := p.proxies.Random(ctx)
		if !ok {
			p.logger.Warn("no active proxy, starting without one", zap.String("session", id))
		} else {
			proxyAddr = ep.Address
			if ep.Username != "" {
				relay, err = proxy.StartRelay(ep)
				if err != nil {
					return nil, fmt.Errorf("proxy relay: %w", err)
				}
			}
		}
	}
	defer func() {
		if err != nil && relay != nil {
			_ = relay.Close()
		}
	}()

	spec := LaunchSpec{
		SessionID:   id,
		ProfileDir:  profileDir,
		ProxyServer: proxyAddr,
		UserAgent:   pickUserAgent(p.sampler, p.opts.UserAgents),
		MemoryMB:    p.opts.MemoryMB,
		Headless:    p.opts.Headless,
		BinPath:     p.opts.BinPath,
		ViewportW:   p.opts.ViewportW,
		ViewportH:   p.opts.ViewportH,
	}
	if relay != nil {
		spec.ProxyServer = relay.Addr()
	}

	b, err := p.driver.Launch(ctx, spec)
	if err != nil {
		if p.metrics != nil {
			p.metrics.SessionLaunchFailed()
		}
		return nil, fmt.Errorf("%w: launch %s: %v", errs.ErrFatalSession, id, err)
	}

	s := &Session{
		id:         id,
		taskID:     co.TaskID,
		accountID:  co.AccountID,
		profileDir: profileDir,
		proxyAddr:  proxyAddr,
		userAgent:  spec.UserAgent,
		startedAt:  time.Now(),
		browser:    b,
		relay:      relay,
		done:       make(chan struct{}),
	}

	p.mu.Lock()
	delete(p.pending, id)
	p.sessions[id] = s
	p.mu.Unlock()
	admitted = true

	go p.watch(s)

	if p.metrics != nil {
		p.metrics.SessionOpened(p.driver.Name())
	}
	p.logger.Info("session created",
		zap.String("session", id),
		zap.String("task", co.TaskID),
		zap.Bool("proxy", proxyAddr != ""))
	return s, nil
}

func (p *Pool) admit(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[id]; ok {
		return errs.Validation("session %s is already active", id)
	}
	if _, ok := p.pending[id]; ok {
		return errs.Validation("session %s is being created", id)
	}
	if len(p.sessions)+len(p.pending) >= p.max {
		if p.metrics != nil {
			p.metrics.SessionRejected()
		}
		return fmt.Errorf("%w: %d/%d sessions", errs.ErrCapacityExceeded, len(p.sessions)+len(p.pending), p.max)
	}
	p.pending[id] = struct{}{}
	return nil
}

func (p *Pool) watch(s *Session) {
	select {
	case <-s.browser.Disconnected():
		if p.release(s, errs.ErrFatalSession) {
			p.logger.Warn("session disconnected", zap.String("session", s.id))
		}
	case <-s.done:
	}
}

// release tears s down and then drops it from the registry, so its slot is
// only reusable once the browser is gone. Only the first caller does the
// teardown and gets true; every caller returns with s unregistered.
func (p *Pool) release(s *Session, cause error) bool {
	did := s.shutdown(cause)

	p.mu.Lock()
	if cur, ok := p.sessions[s.id]; ok && cur == s {
		delete(p.sessions, s.id)
	}
	p.mu.Unlock()

	if !did {
		return false
	}
	if p.metrics != nil {
		reason := "closed"
		if cause != nil {
			reason = "disconnected"
		}
		p.metrics.SessionClosed(p.driver.Name(), reason, time.Since(s.startedAt))
	}
	return true
}

// Close tears down the session with id. It reports whether a live session
// existed; unknown or already closed ids return false.
func (p *Pool) Close(id string) bool {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	if !p.release(s, nil) {
		return false
	}
	p.logger.Info("session closed", zap.String("session", id))
	return true
}

func (p *Pool) CloseAll() int {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	n := 0
	for _, id := range ids {
		if p.Close(id) {
			n++
		}
	}
	return n
}

func (p *Pool) CreatePage(ctx context.Context, sessionID string) (Page, error) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
	}
	return s.newPage(ctx, PageOptions{NavTimeout: p.opts.NavTimeout, Filter: p.filter})
}

func (p *Pool) Get(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) CanAdmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)+len(p.pending) < p.max
}

func (p *Pool) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// SetMaxConcurrent changes the ceiling. Lowering it never evicts live
// sessions; it only blocks admission until the count drops.
func (p *Pool) SetMaxConcurrent(n int) {
	if n < 1 {
		return
	}
	p.mu.Lock()
	p.max = n
	p.mu.Unlock()
}

func (p *Pool) Sessions() []SessionInfo {
	p.mu.Lock()
	out := make([]SessionInfo, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Info())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (p *Pool) Shutdown() error {
	p.CloseAll()
	return p.driver.Close()
}
