package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"airdrop_manager/internal/browser"
	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/logbus"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/notify"
)

const tracerName = "airdrop_manager/scheduler"

var errPaused = errors.New("task paused")

// taskRun is the live side of one task. Every field below the channels is
// guarded by Scheduler.mu.
type taskRun struct {
	s        *Scheduler
	target   string
	accounts []model.Account
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	task     model.Task
	held     map[string]bool
	inFlight int
	stopping bool
	// resume is closed while the task may launch sessions.
	resume chan struct{}
	// pauseCh is closed when a pause is requested.
	pauseCh chan struct{}
	// changed is closed and replaced on every task update.
	changed chan struct{}
}

func (r *taskRun) run() {
	defer close(r.done)
	defer r.cancel()

	r.s.mu.Lock()
	if !r.stopping {
		r.task.State = model.TaskRunning
		if r.task.PauseRequested && r.inFlight == 0 {
			r.task.State = model.TaskPaused
		}
		r.publishLocked()
	}
	r.s.mu.Unlock()

	var wg sync.WaitGroup
	for i, acc := range r.accounts {
		if i > 0 && !r.pace(r.s.pacing()) {
			break
		}
		if !r.waitRunning() {
			break
		}
		wg.Add(1)
		go func(acc model.Account) {
			defer wg.Done()
			r.work(acc)
		}(acc)
	}
	wg.Wait()
	r.finish()
}

func (r *taskRun) work(acc model.Account) {
	log := r.s.logger.With(zap.String("task", r.task.ID), zap.String("account", acc.ID))
	budget := r.s.budget()

	var lastErr error
	for attempt := 1; attempt <= budget; {
		if !r.waitRunning() {
			return
		}
		if !r.beginStep() {
			continue
		}

		sess, err := r.acquire(acc)
		if errors.Is(err, errPaused) {
			r.endStep()
			continue
		}
		if r.ctx.Err() != nil {
			if sess != nil {
				r.closeSession(sess.ID())
			}
			r.endStep()
			return
		}
		if err == nil {
			start := time.Now()
			var res Result
			res, err = r.step(sess, acc, attempt)
			r.closeSession(sess.ID())
			r.observe(err, time.Since(start))
			if err == nil {
				r.succeed(acc, res)
				r.endStep()
				return
			}
		}
		r.endStep()
		if r.ctx.Err() != nil {
			return
		}

		lastErr = err
		log.Warn("step failed", zap.Int("attempt", attempt), zap.Int("budget", budget), zap.Error(err))
		r.s.activity(acc.ID, r.task.URL, "step", "failed", map[string]any{"attempt": attempt, "error": err.Error()})
		if r.s.events != nil {
			r.s.events.Error(r.task.ID, fmt.Sprintf("account %s: %v", acc.ID, err))
		}
		attempt++
		if attempt <= budget && !r.pace(r.s.pacing()) {
			return
		}
	}
	r.exhaust(acc, lastErr)
}

// acquire asks the pool for the account's session, backing off while the
// pool is full. A pause during the wait returns errPaused.
func (r *taskRun) acquire(acc model.Account) (*browser.Session, error) {
	b := newCapacityBackoff(r.s.backoff)
	sid := SessionID(acc.ID)
	for {
		sess, err := r.s.sessions.Create(r.ctx, sid, r.s.useProxy, browser.CreateOptions{TaskID: r.task.ID, AccountID: acc.ID})
		if err == nil {
			r.s.mu.Lock()
			r.task.ActiveSessions = append(r.task.ActiveSessions, sid)
			r.publishLocked()
			r.s.mu.Unlock()
			return sess, nil
		}
		if !errors.Is(err, errs.ErrCapacityExceeded) {
			return nil, err
		}
		if r.s.metrics != nil {
			r.s.metrics.CapacityWait()
		}

		r.s.mu.Lock()
		pc := r.pauseCh
		r.s.mu.Unlock()

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-timer.C:
		case <-pc:
			timer.Stop()
			return nil, errPaused
		case <-r.ctx.Done():
			timer.Stop()
			return nil, r.ctx.Err()
		}
	}
}

func (r *taskRun) step(sess *browser.Session, acc model.Account, attempt int) (_ Result, err error) {
	ctx, span := otel.Tracer(tracerName).Start(r.ctx, "scheduler.step")
	span.SetAttributes(
		attribute.String("task.id", r.task.ID),
		attribute.String("account.id", acc.ID),
		attribute.Int("attempt", attempt),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	fatal := func(err error) error {
		select {
		case <-sess.Done():
			if serr := sess.Err(); serr != nil {
				return serr
			}
		default:
		}
		return err
	}

	page, err := r.s.sessions.CreatePage(ctx, sess.ID())
	if err != nil {
		return Result{}, fatal(err)
	}
	defer page.Close()

	if err := r.s.limiter.Wait(ctx); err != nil {
		return Result{}, fatal(err)
	}
	if err := page.Navigate(ctx, r.target); err != nil {
		return Result{}, fatal(fmt.Errorf("navigate: %w", err))
	}

	ia := r.s.interactions.Lookup(r.task.URL)
	res, err := ia.Run(ctx, Step{
		TaskID:  r.task.ID,
		URL:     r.target,
		Account: acc,
		Page:    page,
		Attempt: attempt,
		Reveal: func(ctx context.Context) (string, error) {
			return r.s.accounts.Reveal(ctx, acc.ID)
		},
	})
	if err != nil {
		return Result{}, fatal(fmt.Errorf("interaction: %w", err))
	}
	return res, nil
}

func (r *taskRun) closeSession(sid string) {
	r.s.sessions.Close(sid)
	r.s.mu.Lock()
	for i, id := range r.task.ActiveSessions {
		if id == sid {
			r.task.ActiveSessions = append(r.task.ActiveSessions[:i], r.task.ActiveSessions[i+1:]...)
			break
		}
	}
	r.publishLocked()
	r.s.mu.Unlock()
}

func (r *taskRun) succeed(acc model.Account, res Result) {
	r.release(acc.ID, model.AccountIdle)

	r.s.mu.Lock()
	r.task.Completed++
	r.updateProgressLocked()
	r.publishLocked()
	r.s.mu.Unlock()

	details := res.Details
	if details == nil {
		details = map[string]any{}
	}
	details["taskId"] = r.task.ID
	r.s.telemetry(func(ctx context.Context) {
		if r.s.recorder == nil {
			return
		}
		if err := r.s.recorder.RecordPoints(ctx, acc.ID, r.task.URL, res.Points, details); err != nil {
			r.s.logger.Warn("record points failed", zap.String("task", r.task.ID), zap.Error(err))
		}
	})
	r.s.activity(acc.ID, r.task.URL, "step", "success", map[string]any{"points": res.Points})
}

func (r *taskRun) exhaust(acc model.Account, lastErr error) {
	r.release(acc.ID, model.AccountError)

	r.s.mu.Lock()
	r.task.Failed++
	if lastErr != nil {
		r.task.LastError = lastErr.Error()
	}
	r.updateProgressLocked()
	r.publishLocked()
	r.s.mu.Unlock()
}

func (r *taskRun) release(id string, status model.AccountStatus) {
	r.s.mu.Lock()
	held := r.held[id]
	delete(r.held, id)
	r.s.mu.Unlock()
	if !held {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.s.accounts.Release(ctx, id, status); err != nil {
		r.s.logger.Warn("release account failed", zap.String("task", r.task.ID), zap.String("account", id), zap.Error(err))
	}
}

func (r *taskRun) finish() {
	r.s.mu.Lock()
	stopping := r.stopping
	var remaining []string
	for id := range r.held {
		remaining = append(remaining, id)
	}
	r.s.mu.Unlock()

	for _, id := range remaining {
		r.release(id, model.AccountIdle)
	}

	r.s.mu.Lock()
	switch {
	case stopping:
		r.task.State = model.TaskStopped
	case r.task.Failed == r.task.AccountCount:
		r.task.State = model.TaskError
	default:
		r.task.State = model.TaskCompleted
	}
	r.task.PauseRequested = false
	r.task.ActiveSessions = nil
	r.publishLocked()
	snap := r.snapshotLocked()
	r.s.mu.Unlock()

	r.s.logger.Info("task finished",
		zap.String("task", snap.ID),
		zap.String("state", string(snap.State)),
		zap.Int("completed", snap.Completed),
		zap.Int("failed", snap.Failed))
	if r.s.metrics != nil {
		r.s.metrics.TaskFinished(string(snap.State))
	}
	r.s.notifier.NotifyTaskFinished(context.Background(), notify.TaskFinishedEvent{
		At:           snap.UpdatedAt.UnixMilli(),
		TaskID:       snap.ID,
		URL:          snap.URL,
		State:        string(snap.State),
		AccountCount: snap.AccountCount,
		Completed:    snap.Completed,
		Failed:       snap.Failed,
		LastError:    snap.LastError,
	})
}

// waitRunning blocks while the task is paused. It returns false once the
// task is stopping.
func (r *taskRun) waitRunning() bool {
	for {
		r.s.mu.Lock()
		if r.stopping || r.ctx.Err() != nil {
			r.s.mu.Unlock()
			return false
		}
		ch := r.resume
		r.s.mu.Unlock()

		select {
		case <-ch:
			r.s.mu.Lock()
			paused := r.task.PauseRequested
			r.s.mu.Unlock()
			if !paused {
				return r.ctx.Err() == nil
			}
		case <-r.ctx.Done():
			return false
		}
	}
}

// pace waits d. A pause suspends the wait and the rest of it is served after
// resume; a stop ends it and returns false.
func (r *taskRun) pace(d time.Duration) bool {
	for d > 0 {
		if !r.waitRunning() {
			return false
		}
		r.s.mu.Lock()
		pc := r.pauseCh
		r.s.mu.Unlock()

		start := time.Now()
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
			return true
		case <-pc:
			timer.Stop()
			d -= time.Since(start)
		case <-r.ctx.Done():
			timer.Stop()
			return false
		}
	}
	return r.ctx.Err() == nil
}

func (r *taskRun) beginStep() bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.stopping || r.task.PauseRequested {
		return false
	}
	r.inFlight++
	return true
}

func (r *taskRun) endStep() {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.inFlight--
	if r.inFlight == 0 && r.task.PauseRequested && r.task.State == model.TaskRunning {
		r.task.State = model.TaskPaused
		r.publishLocked()
		r.s.logger.Info("task paused", zap.String("task", r.task.ID))
	}
}

func (r *taskRun) observe(err error, d time.Duration) {
	if r.s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		r.s.metrics.ObserveStep("success", d)
	case errors.Is(err, errs.ErrFatalSession):
		r.s.metrics.ObserveStep("session_lost", d)
	case r.ctx.Err() != nil:
		r.s.metrics.ObserveStep("cancelled", d)
	default:
		r.s.metrics.ObserveStep("failed", d)
	}
}

func (r *taskRun) updateProgressLocked() {
	if r.task.AccountCount <= 0 {
		return
	}
	r.task.Progress = (r.task.Completed + r.task.Failed) * 100 / r.task.AccountCount
}

func (r *taskRun) snapshotLocked() model.Task {
	t := r.task
	t.ActiveSessions = append([]string(nil), r.task.ActiveSessions...)
	t.AccountIDs = append([]string(nil), r.task.AccountIDs...)
	return t
}

func (r *taskRun) publishLocked() {
	r.task.UpdatedAt = time.Now()
	close(r.changed)
	r.changed = make(chan struct{})
	if r.s.events != nil {
		r.s.events.TaskStatus(logbus.TaskStatusEvent{
			ID:           r.task.ID,
			Status:       string(r.task.State),
			Progress:     r.task.Progress,
			URL:          r.task.URL,
			AccountCount: r.task.AccountCount,
		})
	}
}

func (s *Scheduler) telemetry(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Scheduler) activity(accountID, projectURL, activity, status string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	s.telemetry(func(ctx context.Context) {
		s.recorder.LogActivity(ctx, accountID, projectURL, activity, status, details)
	})
}
