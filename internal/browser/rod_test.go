package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitLaunchReturnsURL(t *testing.T) {
	var kills, aborts atomic.Int32
	u, err := awaitLaunch(context.Background(),
		func() (string, error) { return "ws://127.0.0.1:9222/devtools", nil },
		func() { kills.Add(1) },
		func() { aborts.Add(1) },
	)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools", u)
	assert.Zero(t, kills.Load())
	assert.Zero(t, aborts.Load())
}

func TestAwaitLaunchFailureKills(t *testing.T) {
	var kills, aborts atomic.Int32
	_, err := awaitLaunch(context.Background(),
		func() (string, error) { return "", errors.New("no chromium") },
		func() { kills.Add(1) },
		func() { aborts.Add(1) },
	)
	assert.EqualError(t, err, "no chromium")
	assert.EqualValues(t, 1, kills.Load())
	assert.EqualValues(t, 1, aborts.Load())
}

func TestAwaitLaunchCancelReapsLateBrowser(t *testing.T) {
	release := make(chan struct{})
	killed := make(chan struct{})
	var aborts atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := awaitLaunch(ctx,
			func() (string, error) {
				<-release
				return "ws://late", nil
			},
			func() { close(killed) },
			func() { aborts.Add(1) },
		)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitLaunch did not return on cancel")
	}
	assert.EqualValues(t, 1, aborts.Load())

	select {
	case <-killed:
		t.Fatal("killed before the launch finished")
	default:
	}

	// the launch still completes after cancellation; its browser must be killed
	close(release)
	select {
	case <-killed:
	case <-time.After(2 * time.Second):
		t.Fatal("late browser was not killed")
	}
}
