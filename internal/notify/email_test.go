package notify

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"airdrop_manager/internal/config"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []*gomail.Message
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m...)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.xyz",
		Port:    465,
		From:    "bot@example.xyz",
		To:      []string{"ops@example.xyz"},
	}
}

func TestEmailNotifierSendsImmediatelyWithoutWindow(t *testing.T) {
	sender := &captureSender{}
	n, err := NewEmailNotifier(EmailOptions{Config: testEmailConfig(), Sender: sender})
	require.NoError(t, err)
	defer n.Close(context.Background())

	n.NotifyTaskFinished(context.Background(), TaskFinishedEvent{
		At: time.Now().UnixMilli(), TaskID: "0123456789abcdef", URL: "https://example.xyz", State: "completed",
		AccountCount: 3, Completed: 3,
	})
	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	msg := sender.msgs[0]
	sender.mu.Unlock()
	assert.Equal(t, []string{"[airdrop] task 01234567 completed (3/3 ok)"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "https://example.xyz")
}

func TestEmailNotifierBatchesWithinWindow(t *testing.T) {
	sender := &captureSender{}
	n, err := NewEmailNotifier(EmailOptions{Config: testEmailConfig(), Sender: sender, SummaryWindow: time.Hour})
	require.NoError(t, err)

	for _, st := range []string{"completed", "error", "stopped"} {
		n.NotifyTaskFinished(context.Background(), TaskFinishedEvent{TaskID: st, State: st, AccountCount: 1})
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.count())

	require.NoError(t, n.Close(context.Background()))
	require.Equal(t, 1, sender.count())
	assert.Equal(t, []string{"[airdrop] 3 tasks finished, 2 not completed"}, sender.msgs[0].GetHeader("Subject"))
}

func TestEmailConfigValidation(t *testing.T) {
	cfg := testEmailConfig()
	cfg.Host = ""
	_, err := NewEmailNotifier(EmailOptions{Config: cfg})
	assert.Error(t, err)

	cfg = testEmailConfig()
	cfg.To = []string{"not an address"}
	_, err = NewEmailNotifier(EmailOptions{Config: cfg})
	assert.Error(t, err)
}
