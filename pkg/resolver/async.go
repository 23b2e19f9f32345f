package resolver

import (
	"context"
	"sync"
	"time"

	"guest-dns/pkg/logging"

	"golang.org/x/sync/semaphore"
)

// AsyncBackend runs every lookup on its own goroutine.
// A weighted semaphore caps how many lookups talk to the resolver at once;
// goroutines beyond the cap park on it without blocking Resolve.
type AsyncBackend struct {
	lookup  Lookuper
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncBackend creates a backend over lookup.
// timeout bounds each lookup including time spent waiting for a slot.
func NewAsyncBackend(lookup Lookuper, timeout time.Duration, maxInflight int, logger *logging.Logger) *AsyncBackend {
	if maxInflight <= 0 {
		maxInflight = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncBackend{
		lookup:  lookup,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(maxInflight)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Resolve implements Backend
func (b *AsyncBackend) Resolve(name string, onComplete func(Result)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		go onComplete(Result{Outcome: TemporaryFailure, Err: ErrClosed})
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(name, onComplete)
}

func (b *AsyncBackend) run(name string, onComplete func(Result)) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	start := time.Now()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		res := Classify(nil, err)
		res.Duration = time.Since(start)
		onComplete(res)
		return
	}

	ips, err := b.lookup.LookupIP(ctx, "ip4", name)
	b.sem.Release(1)

	res := Classify(ips, err)
	res.Duration = time.Since(start)

	b.logger.Debug("Host lookup finished",
		"name", name,
		"outcome", res.Outcome.String(),
		"duration_ms", res.Duration.Milliseconds(),
	)

	onComplete(res)
}

// Close cancels in-flight lookups and waits for their callbacks to return.
// Lookups issued afterwards complete immediately with TemporaryFailure.
func (b *AsyncBackend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
