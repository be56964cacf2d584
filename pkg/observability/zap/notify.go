package zap

import (
	"context"
	"sync"
	"time"

	"github.com/theory-cloud/sitetheory/pkg/observability"
)

// notifyQueue delivers error entries to a notifier from one background goroutine.
// A full queue drops entries rather than blocking the caller.
type notifyQueue struct {
	notifier observability.ErrorNotifier
	attempts int
	delay    time.Duration
	stats    *counters

	mu      sync.Mutex
	ch      chan observability.LogEntry
	pending sync.WaitGroup
	done    chan struct{}
}

func newNotifyQueue(n observability.ErrorNotifier, size, attempts int, delay time.Duration, stats *counters) *notifyQueue {
	q := &notifyQueue{
		notifier: n,
		attempts: attempts,
		delay:    delay,
		stats:    stats,
		ch:       make(chan observability.LogEntry, size),
		done:     make(chan struct{}),
	}
	go q.run(q.ch)
	return q
}

func (q *notifyQueue) push(entry observability.LogEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch == nil {
		q.stats.dropped.Add(1)
		return false
	}
	q.pending.Add(1)
	select {
	case q.ch <- entry:
		return true
	default:
		q.pending.Done()
		q.stats.dropped.Add(1)
		return false
	}
}

// run owns the receive side of ch; stop clears q.ch but closes the same channel.
func (q *notifyQueue) run(ch <-chan observability.LogEntry) {
	defer close(q.done)
	for entry := range ch {
		q.stats.fail(q.deliver(entry))
		q.pending.Done()
	}
}

func (q *notifyQueue) deliver(entry observability.LogEntry) error {
	var err error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		if err = q.notifier.Notify(context.Background(), entry); err == nil {
			return nil
		}
		if attempt < q.attempts {
			time.Sleep(q.delay)
		}
	}
	return err
}

// drain waits for every pushed entry to be delivered or for ctx to end.
func (q *notifyQueue) drain(ctx context.Context) {
	if q == nil {
		return
	}
	idle := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(idle)
	}()
	select {
	case <-ctx.Done():
	case <-idle:
	}
}

func (q *notifyQueue) stop() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.ch != nil {
		close(q.ch)
		q.ch = nil
	}
	q.mu.Unlock()
	<-q.done
}
