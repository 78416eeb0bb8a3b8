package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"airdrop_manager/internal/config"
)

// Sender delivers one message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailOptions struct {
	Config        config.EmailConfig
	Logger        *zap.Logger
	Sender        Sender
	SummaryWindow time.Duration
	MaxBatch      int
}

// EmailNotifier queues terminal task events and mails them in batches so a
// burst of finishing tasks produces one message.
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *zap.Logger
	sender Sender

	mu     sync.Mutex
	queue  chan TaskFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(opts EmailOptions) (*EmailNotifier, error) {
	if err := validateEmailConfig(opts.Config); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sender := opts.Sender
	if sender == nil {
		port := opts.Config.Port
		if port <= 0 {
			port = 465
		}
		d := gomail.NewDialer(opts.Config.Host, port, opts.Config.Username, opts.Config.Password)
		d.SSL = port == 465
		sender = d
	}
	if opts.SummaryWindow < 0 {
		opts.SummaryWindow = 0
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           opts.Config,
		logger:        logger.With(zap.String("component", "notify")),
		sender:        sender,
		queue:         make(chan TaskFinishedEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: opts.SummaryWindow,
		maxBatch:      opts.MaxBatch,
	}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyTaskFinished(_ context.Context, evt TaskFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.logger.Warn("email queue full, dropping event", zap.String("task", evt.TaskID))
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []TaskFinishedEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		timer.Stop()
		timer = nil
		timerCh = nil
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]TaskFinishedEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.send(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			if timer == nil {
				timer = time.NewTimer(n.summaryWindow)
				timerCh = timer.C
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			flush("idle")
		}
	}
}

func (n *EmailNotifier) send(reason string, events []TaskFinishedEvent) {
	msg, err := buildMessage(n.cfg, events)
	if err != nil {
		n.logger.Warn("build email failed", zap.Error(err))
		return
	}
	if err := n.sender.DialAndSend(msg); err != nil {
		n.logger.Warn("send email failed", zap.Error(err), zap.Int("count", len(events)), zap.String("reason", reason))
		return
	}
	n.logger.Info("notification email sent", zap.Int("count", len(events)), zap.String("reason", reason))
}

func validateEmailConfig(c config.EmailConfig) error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("notify: email host is required")
	}
	if len(c.To) == 0 {
		return errors.New("notify: at least one recipient is required")
	}
	for _, to := range append([]string{c.From}, c.To...) {
		if to == "" {
			continue
		}
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("notify: invalid address %q", to)
		}
	}
	return nil
}

func buildSubject(events []TaskFinishedEvent) string {
	if len(events) == 1 {
		e := events[0]
		return fmt.Sprintf("[airdrop] task %s %s (%d/%d ok)", shortID(e.TaskID), e.State, e.Completed, e.AccountCount)
	}
	failed := 0
	for _, e := range events {
		if e.State != "completed" {
			failed++
		}
	}
	return fmt.Sprintf("[airdrop] %d tasks finished, %d not completed", len(events), failed)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var summaryHTML = template.Must(template.New("summary").Funcs(template.FuncMap{"finished": finishedAt}).Parse(`<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Task</th><th>URL</th><th>State</th><th>Completed</th><th>Failed</th><th>Finished</th></tr>
{{range .}}<tr><td>{{.TaskID}}</td><td>{{.URL}}</td><td>{{.State}}</td><td>{{.Completed}}/{{.AccountCount}}</td><td>{{.Failed}}</td><td>{{finished .At}}</td></tr>
{{end}}</table>`))

func buildMessage(cfg config.EmailConfig, events []TaskFinishedEvent) (*gomail.Message, error) {
	var text strings.Builder
	for _, e := range events {
		fmt.Fprintf(&text, "%s  %s  %s  completed=%d failed=%d/%d", finishedAt(e.At), e.TaskID, e.State, e.Completed, e.Failed, e.AccountCount)
		if e.LastError != "" {
			fmt.Fprintf(&text, "  error=%s", e.LastError)
		}
		fmt.Fprintf(&text, "\n  %s\n", e.URL)
	}

	var html bytes.Buffer
	if err := summaryHTML.Execute(&html, events); err != nil {
		return nil, err
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(from, "Airdrop Manager"))
	msg.SetHeader("To", cfg.To...)
	msg.SetHeader("Subject", buildSubject(events))
	msg.SetBody("text/plain", text.String())
	msg.AddAlternative("text/html", html.String())
	return msg, nil
}

func finishedAt(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
