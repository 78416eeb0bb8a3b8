package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"airdrop_manager/internal/browser"
	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/logbus"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/notify"
	"airdrop_manager/internal/randx"
)

type Accounts interface {
	Claim(ctx context.Context, n int) ([]model.Account, error)
	Release(ctx context.Context, id string, status model.AccountStatus) error
	Reveal(ctx context.Context, id string) (string, error)
}

type Sessions interface {
	Create(ctx context.Context, id string, useProxy bool, co browser.CreateOptions) (*browser.Session, error)
	CreatePage(ctx context.Context, sessionID string) (browser.Page, error)
	Close(id string) bool
}

// Recorder receives points and activity. Calls are fire-and-forget.
type Recorder interface {
	RecordPoints(ctx context.Context, accountID, projectURL string, points float64, details map[string]any) error
	LogActivity(ctx context.Context, accountID, projectURL, activity, status string, details map[string]any)
}

type Events interface {
	TaskStatus(ev logbus.TaskStatusEvent)
	Error(taskID, message string)
}

type Metrics interface {
	ObserveStep(outcome string, d time.Duration)
	CapacityWait()
	TaskFinished(state string)
}

type Options struct {
	Accounts     Accounts
	Sessions     Sessions
	Recorder     Recorder
	Events       Events
	Notifier     notify.Notifier
	Metrics      Metrics
	Interactions *Registry
	Sampler      *randx.Sampler
	Logger       *zap.Logger

	MinDelay     time.Duration
	MaxDelay     time.Duration
	RetryBudget  int
	GlobalQPS    float64
	GlobalBurst  int
	Backoff      BackoffOptions
	DisableProxy bool
	ReferralKey  string
}

type Scheduler struct {
	accounts     Accounts
	sessions     Sessions
	recorder     Recorder
	events       Events
	notifier     notify.Notifier
	metrics      Metrics
	interactions *Registry
	sampler      *randx.Sampler
	logger       *zap.Logger
	limiter      *rate.Limiter
	backoff      BackoffOptions
	useProxy     bool
	referralKey  string

	mu          sync.Mutex
	minDelay    time.Duration
	maxDelay    time.Duration
	retryBudget int
	runs        map[string]*taskRun

	bg sync.WaitGroup
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Sampler == nil {
		opts.Sampler = randx.New(0)
	}
	if opts.Interactions == nil {
		opts.Interactions = NewRegistry(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 2
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	qps := opts.GlobalQPS
	if qps <= 0 {
		qps = 2
	}
	burst := opts.GlobalBurst
	if burst <= 0 {
		burst = 4
	}
	if opts.ReferralKey == "" {
		opts.ReferralKey = "ref"
	}
	return &Scheduler{
		accounts:     opts.Accounts,
		sessions:     opts.Sessions,
		recorder:     opts.Recorder,
		events:       opts.Events,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		interactions: opts.Interactions,
		sampler:      opts.Sampler,
		logger:       logger.With(zap.String("component", "scheduler")),
		limiter:      rate.NewLimiter(rate.Limit(qps), burst),
		backoff:      opts.Backoff.withDefaults(),
		useProxy:     !opts.DisableProxy,
		referralKey:  opts.ReferralKey,
		minDelay:     opts.MinDelay,
		maxDelay:     opts.MaxDelay,
		retryBudget:  opts.RetryBudget,
		runs:         make(map[string]*taskRun),
	}
}

// SessionID is the pool id used for an account, so relaunches reuse its
// browser profile.
func SessionID(accountID string) string {
	return "account_" + accountID
}

// ScheduleTask claims accountCount idle accounts and starts the task in the
// background. Nothing is created or claimed when it returns an error.
func (s *Scheduler) ScheduleTask(ctx context.Context, rawURL string, accountCount int, referralCode string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errs.Validation("url is required")
	}
	if accountCount < 1 {
		return "", errs.Validation("account count must be at least 1, got %d", accountCount)
	}
	target, err := buildTargetURL(rawURL, s.referralKey, strings.TrimSpace(referralCode))
	if err != nil {
		return "", err
	}

	claimed, err := s.accounts.Claim(ctx, accountCount)
	if err != nil {
		return "", err
	}

	now := time.Now()
	ids := make([]string, len(claimed))
	for i, a := range claimed {
		ids[i] = a.ID
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &taskRun{
		s: s,
		task: model.Task{
			ID:           uuid.NewString(),
			URL:          rawURL,
			AccountCount: accountCount,
			ReferralCode: strings.TrimSpace(referralCode),
			State:        model.TaskPending,
			AccountIDs:   ids,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		target:   target,
		accounts: claimed,
		held:     make(map[string]bool, len(claimed)),
		ctx:      runCtx,
		cancel:   cancel,
		resume:   closedChan(),
		pauseCh:  make(chan struct{}),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, a := range claimed {
		r.held[a.ID] = true
	}

	s.mu.Lock()
	s.runs[r.task.ID] = r
	r.publishLocked()
	s.mu.Unlock()

	s.logger.Info("task scheduled",
		zap.String("task", r.task.ID),
		zap.String("url", rawURL),
		zap.Int("accounts", accountCount))

	go r.run()
	return r.task.ID, nil
}

func buildTargetURL(raw, key, code string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errs.Validation("invalid url %q", raw)
	}
	if code == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get(key) == "" {
		q.Set(key, code)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Scheduler) lookup(id string) (*taskRun, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, errs.ErrNotFound)
	}
	return r, nil
}

// PauseTask stops new session launches. The task reports Paused once every
// in-flight step has finished; claimed accounts stay claimed.
func (s *Scheduler) PauseTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	switch {
	case r.task.State == model.TaskPaused || r.task.PauseRequested:
		return nil
	case r.task.State != model.TaskRunning && r.task.State != model.TaskPending:
		return errs.Validation("task %s is %s", id, r.task.State)
	}
	r.task.PauseRequested = true
	r.resume = make(chan struct{})
	close(r.pauseCh)
	if r.inFlight == 0 && r.task.State == model.TaskRunning {
		r.task.State = model.TaskPaused
	}
	r.publishLocked()
	s.logger.Info("task pause requested", zap.String("task", id), zap.Int("inFlight", r.inFlight))
	return nil
}

func (s *Scheduler) ResumeTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !r.task.PauseRequested {
		if r.task.State == model.TaskRunning || r.task.State == model.TaskPending {
			return nil
		}
		return errs.Validation("task %s is %s", id, r.task.State)
	}
	r.task.PauseRequested = false
	if r.task.State == model.TaskPaused {
		r.task.State = model.TaskRunning
	}
	close(r.resume)
	r.pauseCh = make(chan struct{})
	r.publishLocked()
	s.logger.Info("task resumed", zap.String("task", id))
	return nil
}

// StopTask cancels the task, closes its sessions and returns its accounts to
// idle. It waits for the workers to exit or for ctx. Terminal tasks are left
// as they are.
func (s *Scheduler) StopTask(ctx context.Context, id string) error {
	s.mu.Lock()
	r, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if r.task.State.Terminal() {
		s.mu.Unlock()
		return nil
	}
	r.stopping = true
	r.cancel()
	active := append([]string(nil), r.task.ActiveSessions...)
	s.mu.Unlock()

	for _, sid := range active {
		s.sessions.Close(sid)
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runs))
	for id, r := range s.runs {
		if !r.task.State.Terminal() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var errList []error
	for _, id := range ids {
		if err := s.StopTask(ctx, id); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (s *Scheduler) Shutdown(ctx context.Context) error {
	err := s.StopAll(ctx)
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Scheduler) GetTask(id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(id)
	if err != nil {
		return model.Task{}, err
	}
	return r.snapshotLocked(), nil
}

func (s *Scheduler) ListTasks() []model.Task {
	s.mu.Lock()
	out := make([]model.Task, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.snapshotLocked())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Scheduler) WaitState(ctx context.Context, id string, states ...model.TaskState) (model.Task, error) {
	for {
		s.mu.Lock()
		r, err := s.lookup(id)
		if err != nil {
			s.mu.Unlock()
			return model.Task{}, err
		}
		snap := r.snapshotLocked()
		ch := r.changed
		s.mu.Unlock()

		for _, st := range states {
			if snap.State == st {
				return snap, nil
			}
		}
		if snap.State.Terminal() {
			return snap, fmt.Errorf("task %s ended as %s", id, snap.State)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

func (s *Scheduler) SetPacing(min, max time.Duration) {
	if min < 0 || max < min {
		return
	}
	s.mu.Lock()
	s.minDelay, s.maxDelay = min, max
	s.mu.Unlock()
}

func (s *Scheduler) SetRetryBudget(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.retryBudget = n
	s.mu.Unlock()
}

func (s *Scheduler) pacing() time.Duration {
	s.mu.Lock()
	min, max := s.minDelay, s.maxDelay
	s.mu.Unlock()
	return s.sampler.Between(min, max)
}

func (s *Scheduler) budget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryBudget
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
