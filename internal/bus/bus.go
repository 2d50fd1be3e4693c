// Package bus implements the durable, subscribable signal bus: every signal,
// decision and outcome flows through here exactly once, gets a monotonic
// sequence number, and is fanned out to subscribers.
//
// Writes are serialized under a single critical section; reads and
// subscriptions are unrestricted. Delivery is at-least-once: a slow
// subscriber's channel send is dropped rather than allowed to block the
// append path, and the subscriber recovers the gap with Replay.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

const (
	maxAppendRetries = 3
	baseRetryWait    = 100 * time.Millisecond
	defaultBuffer    = 256
)

// Subscription is one subscriber's delivery channel. Events arrive in
// publish order; gaps are possible under backpressure and must be healed
// with Bus.Replay from the last seen seq.
type Subscription struct {
	Name string
	C    <-chan domain.Event
	ch   chan domain.Event
}

// Bus serializes appends to the durable event store and fans events out to
// in-process subscribers.
type Bus struct {
	store  ports.EventStore
	status *health.Recorder

	writeMu  sync.Mutex // single-writer critical section for appends
	subsMu   sync.RWMutex
	subs     []*Subscription
	overflow []domain.Event // events awaiting retry after transient append failure
}

// New builds a Bus over the given durable store.
func New(store ports.EventStore, status *health.Recorder) *Bus {
	return &Bus{store: store, status: status}
}

// Publish appends the event durably, assigns its sequence number and fans it
// out. Transient store failures are retried with backoff; if they persist the
// event is buffered locally and retried on the next publish — never dropped.
// Integrity violations (duplicate signal_id, non-finite outcome P&L) are
// returned immediately: corrupt records never enter the log.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) (int64, error) {
	if ev.Outcome != nil && !finite(ev.Outcome.PnL) {
		err := &domain.DataIntegrityError{
			SignalID: ev.SignalID,
			Op:       "publish outcome",
			Detail:   fmt.Sprintf("non-finite pnl %v", ev.Outcome.PnL),
		}
		b.status.RecordError(health.ClassIntegrity, ev.SignalID, err)
		return 0, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.drainOverflow(ctx)

	seq, err := b.appendWithRetry(ctx, ev)
	if err != nil {
		if _, transient := err.(*domain.TransientIOError); transient {
			b.overflow = append(b.overflow, ev)
			b.status.RecordError(health.ClassIO, ev.SignalID, err)
			slog.Warn("bus: append failed, event buffered for retry",
				"signal_id", ev.SignalID, "kind", ev.Kind, "buffered", len(b.overflow), "err", err)
		}
		return 0, err
	}

	ev.Seq = seq
	b.fanOut(ev)
	return seq, nil
}

// Subscribe registers a named subscriber with the given buffer size
// (defaultBuffer when <= 0). The channel closes on Unsubscribe.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan domain.Event, buffer)
	sub := &Subscription{Name: name, C: ch, ch: ch}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Replay reads the durable log from fromSeq (exclusive) and invokes fn for
// each event in order. Used for restart recovery, gap healing and analytics.
func (b *Bus) Replay(ctx context.Context, fromSeq int64, fn func(domain.Event) error) error {
	const batch = 500
	for {
		events, err := b.store.Read(ctx, fromSeq, batch)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
			fromSeq = ev.Seq
		}
		if len(events) < batch {
			return nil
		}
	}
}

// LastSeq reports the highest assigned sequence number.
func (b *Bus) LastSeq(ctx context.Context) (int64, error) {
	return b.store.LastSeq(ctx)
}

// --- internals ---

// appendWithRetry retries transient store failures with linear backoff.
// Integrity errors are final on the first attempt.
func (b *Bus) appendWithRetry(ctx context.Context, ev domain.Event) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * baseRetryWait):
			}
		}
		seq, err := b.store.Append(ctx, ev)
		if err == nil {
			return seq, nil
		}
		if _, transient := err.(*domain.TransientIOError); !transient {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// drainOverflow retries buffered events in order, stopping at the first
// event that still fails. Called under writeMu.
func (b *Bus) drainOverflow(ctx context.Context) {
	for len(b.overflow) > 0 {
		ev := b.overflow[0]
		seq, err := b.store.Append(ctx, ev)
		if err != nil {
			if _, transient := err.(*domain.TransientIOError); transient {
				return // sigue fallando, reintentamos en el próximo publish
			}
			// Integrity failure on a buffered event: record and discard, the
			// duplicate is already in the log.
			b.status.RecordError(health.ClassIntegrity, ev.SignalID, err)
			b.overflow = b.overflow[1:]
			continue
		}
		ev.Seq = seq
		b.overflow = b.overflow[1:]
		b.fanOut(ev)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// fanOut delivers to every subscriber without ever blocking the writer.
func (b *Bus) fanOut(ev domain.Event) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.status.DeliveryDropped()
			slog.Warn("bus: subscriber buffer full, delivery dropped",
				"subscriber", sub.Name, "seq", ev.Seq, "kind", ev.Kind)
		}
	}
}
