package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/randx"
	"airdrop_manager/internal/secret"
	"airdrop_manager/internal/store"
)

type Options struct {
	Store            store.Proxies
	Cipher           *secret.Cipher
	Prober           Prober
	Cache            TestCache
	Sampler          *randx.Sampler
	Logger           *zap.Logger
	Metrics          Metrics
	TestInterval     time.Duration
	ProbeTimeout     time.Duration
	SweepConcurrency int
}

type Metrics interface {
	ObserveProbe(ok bool, cached bool, d time.Duration)
}

type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cached  bool   `json:"cached,omitempty"`
}

type SweepResult struct {
	ID      string            `json:"id"`
	Address string            `json:"address"`
	Status  model.ProxyStatus `json:"status"`
	Message string            `json:"message"`
}

type Pool struct {
	store            store.Proxies
	cipher           *secret.Cipher
	prober           Prober
	cache            TestCache
	sampler          *randx.Sampler
	logger           *zap.Logger
	metrics          Metrics
	testInterval     time.Duration
	probeTimeout     time.Duration
	sweepConcurrency int

	mu    sync.RWMutex
	items []model.Proxy

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = randx.New(0)
	}
	if opts.TestInterval <= 0 {
		opts.TestInterval = time.Hour
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 4
	}
	return &Pool{
		store:            opts.Store,
		cipher:           opts.Cipher,
		prober:           opts.Prober,
		cache:            cache,
		sampler:          sampler,
		logger:           logger.With(zap.String("component", "proxy")),
		metrics:          opts.Metrics,
		testInterval:     opts.TestInterval,
		probeTimeout:     opts.ProbeTimeout,
		sweepConcurrency: opts.SweepConcurrency,
		locks:            make(map[string]*sync.Mutex),
	}
}

func (p *Pool) Reload(ctx context.Context) error {
	items, err := p.store.ListProxies(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.items = items
	p.mu.Unlock()
	return nil
}

func (p *Pool) List() []model.Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Proxy, len(p.items))
	copy(out, p.items)
	return out
}

// Add validates, probes and persists a new proxy. The probe outcome decides
// the initial status; a failing probe still stores the proxy as "error".
func (p *Pool) Add(ctx context.Context, in model.ProxyInput) (model.Proxy, TestResult, error) {
	in.Address = strings.TrimSpace(in.Address)
	if _, _, err := ParseAddress(in.Address); err != nil {
		return model.Proxy{}, TestResult{}, err
	}
	exists, err := p.store.ProxyExists(ctx, in.Address)
	if err != nil {
		return model.Proxy{}, TestResult{}, err
	}
	if exists {
		return model.Proxy{}, TestResult{}, fmt.Errorf("%w: %s", errs.ErrDuplicateProxy, in.Address)
	}

	res := p.Test(ctx, in)

	var enc string
	if in.Password != "" {
		if enc, err = p.cipher.Encrypt(in.Password); err != nil {
			return model.Proxy{}, res, fmt.Errorf("encrypt proxy password: %w", err)
		}
	}
	status := model.ProxyError
	if res.Success {
		status = model.ProxyActive
	}
	saved, err := p.store.InsertProxy(ctx, model.Proxy{
		Address:  in.Address,
		Username: in.Username,
		Password: enc,
		Type:     "http",
		Status:   status,
		LastTest: time.Now(),
	})
	if err != nil {
		return model.Proxy{}, res, err
	}
	if err := p.Reload(ctx); err != nil {
		return saved, res, err
	}
	p.logger.Info("proxy added", zap.String("address", saved.Address), zap.String("status", string(status)))
	return saved, res, nil
}

// Random picks one active proxy uniformly and returns its plaintext view.
// ok is false when no proxy is active; that is not an error.
func (p *Pool) Random(ctx context.Context) (Endpoint, bool) {
	p.mu.RLock()
	active := make([]model.Proxy, 0, len(p.items))
	for _, it := range p.items {
		if it.Status == model.ProxyActive {
			active = append(active, it)
		}
	}
	p.mu.RUnlock()

	picked, ok := randx.Pick(p.sampler, active)
	if !ok {
		return Endpoint{}, false
	}

	ep := Endpoint{Address: picked.Address, Username: picked.Username}
	if picked.Password != "" {
		plain, err := p.cipher.Decrypt(picked.Password)
		if err != nil {
			p.logger.Warn("proxy password undecryptable", zap.String("address", picked.Address), zap.Error(err))
			return Endpoint{}, false
		}
		ep.Password = plain
	}

	p.markUsed(ctx, picked.ID)
	return ep, true
}

func (p *Pool) markUsed(ctx context.Context, id string) {
	l := p.lockFor(id)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	if err := p.store.MarkProxyUsed(ctx, id, now); err != nil {
		p.logger.Warn("proxy usage update failed", zap.String("id", id), zap.Error(err))
		return
	}
	p.mu.Lock()
	for i := range p.items {
		if p.items[i].ID == id {
			p.items[i].UseCount++
			p.items[i].LastUsed = now
			break
		}
	}
	p.mu.Unlock()
}

// Test probes in through itself. Addresses that passed within the test
// interval are answered from the cache without a probe.
func (p *Pool) Test(ctx context.Context, in model.ProxyInput) TestResult {
	if _, _, err := ParseAddress(in.Address); err != nil {
		return TestResult{Success: false, Message: err.Error()}
	}
	if p.cache.RecentlyOK(ctx, in.Address) {
		p.observe(true, true, 0)
		return TestResult{Success: true, Message: "tested recently", Cached: true}
	}

	pctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	start := time.Now()
	err := p.prober.Probe(pctx, Endpoint{Address: in.Address, Username: in.Username, Password: in.Password})
	p.observe(err == nil, false, time.Since(start))
	if err != nil {
		p.logger.Info("proxy probe failed", zap.String("address", in.Address), zap.Error(err))
		return TestResult{Success: false, Message: err.Error()}
	}
	p.cache.MarkOK(ctx, in.Address, p.testInterval)
	return TestResult{Success: true, Message: "proxy reachable"}
}

func (p *Pool) observe(ok, cached bool, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveProbe(ok, cached, d)
	}
}

func (p *Pool) TestAll(ctx context.Context) ([]SweepResult, error) {
	items, err := p.store.ListProxies(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SweepResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.sweepConcurrency)
	for i, it := range items {
		g.Go(func() error {
			in := model.ProxyInput{Address: it.Address, Username: it.Username}
			if it.Password != "" {
				plain, err := p.cipher.Decrypt(it.Password)
				if err != nil {
					p.logger.Warn("proxy password undecryptable", zap.String("address", it.Address), zap.Error(err))
				}
				in.Password = plain
			}
			res := p.Test(gctx, in)
			status := model.ProxyError
			if res.Success {
				status = model.ProxyActive
			}

			l := p.lockFor(it.ID)
			l.Lock()
			err := p.store.UpdateProxyStatus(gctx, it.ID, status, time.Now())
			l.Unlock()
			if err != nil {
				return fmt.Errorf("update proxy %s: %w", it.Address, err)
			}
			results[i] = SweepResult{ID: it.ID, Address: it.Address, Status: status, Message: res.Message}
			return nil
		})
	}
	werr := g.Wait()
	if err := p.Reload(ctx); err != nil && werr == nil {
		werr = err
	}
	return results, werr
}

func (p *Pool) Delete(ctx context.Context, id string) error {
	if err := p.store.DeleteProxy(ctx, id); err != nil {
		return err
	}
	p.locksMu.Lock()
	delete(p.locks, id)
	p.locksMu.Unlock()
	return p.Reload(ctx)
}

func (p *Pool) Counts() map[model.ProxyStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[model.ProxyStatus]int, 3)
	for _, it := range p.items {
		out[it.Status]++
	}
	return out
}

func (p *Pool) lockFor(id string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}
