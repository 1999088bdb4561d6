package iobridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStartStdoutDrainForwardsOnlyWhileExecuting(t *testing.T) {
	var mu sync.Mutex
	var received []string
	calls := make(chan struct{}, 8)

	b := New(func() ([]byte, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return []byte("hi"), nil
	}, func() error { return nil }, func(text string) {
		mu.Lock()
		received = append(received, text)
		mu.Unlock()
	}, zap.NewNop())
	b.pollEvery = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	b.StartStdoutDrain(ctx)
	defer func() {
		cancel()
		b.Stop()
	}()

	// Not executing: the drain loop must not call drainFunc.
	select {
	case <-calls:
		t.Fatal("drainFunc called while not executing")
	default:
	}

	b.SetExecuting(true)
	<-calls
	// The worker calls the sink only after drainFunc returns; a second
	// drainFunc call means the first batch has already been forwarded.
	<-calls

	mu.Lock()
	got := len(received) > 0
	mu.Unlock()
	assert.True(t, got, "expected at least one forwarded stdout batch")
}

func TestInterruptIsIdempotentWithNoProcess(t *testing.T) {
	b := New(func() ([]byte, error) { return nil, nil }, nil, func(string) {}, zap.NewNop())
	require.NoError(t, b.Interrupt())
	require.NoError(t, b.Interrupt())
	assert.Equal(t, int64(2), b.InterruptCount())
}

func TestSetExecutingClearsInterruptLatch(t *testing.T) {
	b := New(func() ([]byte, error) { return nil, nil }, func() error { return nil }, func(string) {}, zap.NewNop())
	require.NoError(t, b.Interrupt())
	assert.True(t, b.Interrupted())

	b.SetExecuting(true)
	assert.False(t, b.Interrupted(), "starting a new evaluation must clear the prior interrupt latch")
}

func TestDecodeFallsBackToLatin1OnInvalidUTF8(t *testing.T) {
	// 0xFF is never valid UTF-8; decode must still return a non-empty
	// string rather than erroring or dropping the byte.
	out := decode([]byte{0xFF, 'h', 'i'})
	assert.NotEmpty(t, out)
}

func TestStartSignalWatcherInvokesInterrupt(t *testing.T) {
	interrupted := make(chan struct{}, 1)
	b := New(func() ([]byte, error) { return nil, nil }, func() error {
		select {
		case interrupted <- struct{}{}:
		default:
		}
		return nil
	}, func(string) {}, zap.NewNop())

	sig := make(chan struct{}, 1)
	b.StartSignalWatcher(sig)
	defer b.Stop()

	sig <- struct{}{}
	<-interrupted
}
