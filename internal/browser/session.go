package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/proxy"
)

// Session is a handle on one live browser. The pool owns it; callers hold
// the handle to open pages and to wait on Done.
type Session struct {
	id         string
	taskID     string
	accountID  string
	profileDir string
	proxyAddr  string
	userAgent  string
	startedAt  time.Time

	browser Browser
	relay   *proxy.Relay

	mu       sync.Mutex
	pages    []*trackedPage
	closed   bool
	cause    error
	done     chan struct{}
	shutOnce sync.Once
}

type SessionInfo struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"taskId,omitempty"`
	AccountID  string    `json:"accountId,omitempty"`
	ProfileDir string    `json:"profileDir"`
	Proxy      string    `json:"proxy,omitempty"`
	UserAgent  string    `json:"userAgent"`
	Pages      int       `json:"pages"`
	StartedAt  time.Time `json:"startedAt"`
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has been torn down, by Close or by a
// disconnect.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is nil after a normal close and wraps errs.ErrFatalSession after a
// disconnect. It is only meaningful once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	n := len(s.pages)
	s.mu.Unlock()
	return SessionInfo{
		ID:         s.id,
		TaskID:     s.taskID,
		AccountID:  s.accountID,
		ProfileDir: s.profileDir,
		Proxy:      s.proxyAddr,
		UserAgent:  s.userAgent,
		Pages:      n,
		StartedAt:  s.startedAt,
	}
}

func (s *Session) newPage(ctx context.Context, opts PageOptions) (Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is closed", errs.ErrFatalSession, s.id)
	}
	s.mu.Unlock()

	pg, err := s.browser.NewPage(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: new page: %v", errs.ErrFatalSession, err)
	}

	tp := &trackedPage{Page: pg, owner: s}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = pg.Close()
		return nil, fmt.Errorf("%w: session %s is closed", errs.ErrFatalSession, s.id)
	}
	s.pages = append(s.pages, tp)
	s.mu.Unlock()
	return tp, nil
}

func (s *Session) forget(tp *trackedPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pages {
		if p == tp {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

// shutdown closes pages, browser and relay once. It reports whether this
// call performed the teardown.
func (s *Session) shutdown(cause error) bool {
	did := false
	s.shutOnce.Do(func() {
		did = true
		s.mu.Lock()
		s.closed = true
		if cause != nil {
			s.cause = fmt.Errorf("session %s: %w", s.id, cause)
		}
		pages := s.pages
		s.pages = nil
		s.mu.Unlock()

		var errList []error
		for _, p := range pages {
			if err := p.Page.Close(); err != nil {
				errList = append(errList, err)
			}
		}
		if err := s.browser.Close(); err != nil {
			errList = append(errList, err)
		}
		if s.relay != nil {
			_ = s.relay.Close()
		}
		_ = errors.Join(errList...)
		close(s.done)
	})
	return did
}

type trackedPage struct {
	Page
	owner *Session
	once  sync.Once
	err   error
}

func (t *trackedPage) Close() error {
	t.once.Do(func() {
		t.owner.forget(t)
		t.err = t.Page.Close()
	})
	return t.err
}
