package proxy

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"airdrop_manager/internal/model"
)

// Sweeper runs TestAll on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	pool    *Pool
	c       *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

// NewSweeper parses schedule (standard five-field cron or a descriptor such
// as "@every 30m"). An empty schedule returns a nil sweeper.
func NewSweeper(pool *Pool, schedule string, timeout time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if schedule == "" {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Sweeper{
		pool:    pool,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "proxy-sweeper")),
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.c.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.pool.TestAll(ctx)
	active := 0
	for _, r := range res {
		if r.Status == model.ProxyActive {
			active++
		}
	}
	if err != nil {
		s.logger.Warn("proxy sweep failed", zap.Error(err), zap.Int("tested", len(res)))
		return
	}
	s.logger.Info("proxy sweep done",
		zap.Int("tested", len(res)),
		zap.Int("active", active),
		zap.Duration("took", time.Since(start)))
}

func (s *Sweeper) Start() {
	if s != nil {
		s.c.Start()
	}
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
