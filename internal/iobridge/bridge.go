// Package iobridge implements the Async I/O Bridge: the
// stdout drain worker, the two interrupt paths, and completion-query
// serialization against an in-flight evaluation.
package iobridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// StdoutSink receives a decoded batch of the hosted process's stdout,
// keyed to the parent header of the cell currently executing.
type StdoutSink func(text string)

// Bridge owns the three I/O-Bridge concerns over one Supervisor-managed
// debugger session.
type Bridge struct {
	log *zap.Logger

	drainFunc func() ([]byte, error)
	sink      StdoutSink
	pollEvery time.Duration

	executing     atomic.Bool
	interrupted   atomic.Bool
	interruptFunc func() error

	interruptCount atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Bridge. drain reads a non-blocking chunk of the
// hosted process's stdout; interrupt issues the debugger's asynchronous
// interrupt; sink publishes decoded output.
func New(drain func() ([]byte, error), interrupt func() error, sink StdoutSink, log *zap.Logger) *Bridge {
	return &Bridge{
		log:           log,
		drainFunc:     drain,
		interruptFunc: interrupt,
		sink:          sink,
		pollEvery:     20 * time.Millisecond,
		stop:          make(chan struct{}),
	}
}

// SetExecuting raises or lowers the "execution in progress" flag the
// Supervisor toggles around Execute.
func (b *Bridge) SetExecuting(v bool) {
	b.executing.Store(v)
	if v {
		b.interrupted.Store(false)
	}
}

// Executing reports whether an execute_request is currently mid-flight.
func (b *Bridge) Executing() bool { return b.executing.Load() }

// Interrupted reports whether interrupt() has latched since the current
// evaluation began, letting the Supervisor short-circuit multi-iteration
// operations such as %timeit.
func (b *Bridge) Interrupted() bool { return b.interrupted.Load() }

// Interrupt issues the debugger's asynchronous interrupt operation. It
// is idempotent and safe to call with no process present, and safe to
// call concurrently from either the message-based or signal-based path.
func (b *Bridge) Interrupt() error {
	b.interrupted.Store(true)
	b.interruptCount.Add(1)
	if b.interruptFunc == nil {
		b.log.Warn("interrupt requested with no debugger session present")
		return nil
	}
	return b.interruptFunc()
}

// InterruptCount reports how many times Interrupt has been invoked,
// across both paths.
func (b *Bridge) InterruptCount() int64 { return b.interruptCount.Load() }

// StartSignalWatcher runs the legacy signal-based interrupt path: a
// dedicated goroutine that blocks on signals and calls Interrupt on receipt.
// The caller is responsible for having masked the signal everywhere
// else.
func (b *Bridge) StartSignalWatcher(signals <-chan struct{}) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.stop:
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				if err := b.Interrupt(); err != nil {
					b.log.Warn("signal-based interrupt failed", zap.Error(err))
				}
			}
		}
	}()
}

// StartStdoutDrain runs the stdout drain worker: while executing, reads
// small non-blocking chunks and forwards decoded text to sink.
func (b *Bridge) StartStdoutDrain(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !b.executing.Load() {
					continue
				}
				b.drainOnce()
			}
		}
	}()
}

// DrainNow synchronously forwards any outstanding stdout, called by the
// Supervisor after an evaluation returns so every stream message for cell
// N precedes N's execute_reply.
func (b *Bridge) DrainNow() {
	b.drainOnce()
}

func (b *Bridge) drainOnce() {
	chunk, err := b.drainFunc()
	if err != nil {
		b.log.Debug("stdout drain read failed", zap.Error(err))
		return
	}
	if len(chunk) == 0 {
		return
	}
	b.sink(decode(chunk))
}

// decode implements the "UTF-8 with replacement, Latin-1 fallback" rule
// for stream output: UTF-8 decoding itself never raises in Go (invalid bytes
// become U+FFFD), but the fallback path is kept for parity with hosts
// where that isn't true and to guarantee a decode that never drops
// bytes.
func decode(b []byte) string {
	if s, ok := decodeStrict(b); ok {
		return s
	}
	return decodeLatin1(b)
}

func decodeStrict(b []byte) (string, bool) {
	dec := unicode.UTF8.NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func decodeLatin1(b []byte) string {
	dec := charmap.ISO8859_1.NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		// Latin-1 is a total function over single bytes; this branch is
		// unreachable in practice, but preserve every byte rather than
		// drop the batch.
		return string(b)
	}
	return string(out)
}

// Stop halts the drain and signal-watcher goroutines and blocks until
// they exit.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}
