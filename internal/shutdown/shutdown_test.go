package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignals(t *testing.T) {
	assert.Contains(t, Signals, syscall.SIGINT)
	assert.Contains(t, Signals, syscall.SIGTERM)
}

func TestNotifyContext_CancelsOnSignal(t *testing.T) {
	received := make(chan os.Signal, 1)
	ctx, stop := NotifyContext(context.Background(), func(sig os.Signal) {
		received <- sig
	}, syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after signal")
	}
	assert.Equal(t, syscall.SIGUSR1, <-received)
}

func TestNotifyContext_StopWithoutSignal(t *testing.T) {
	ctx, stop := NotifyContext(context.Background(), func(os.Signal) {
		t.Error("unexpected signal")
	}, syscall.SIGUSR2)

	stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the context")
	}
}

func TestNotifyContext_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := NotifyContext(parent, nil, syscall.SIGUSR2)
	defer stop()

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not propagated")
	}
}
