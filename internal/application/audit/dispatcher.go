// Package audit fans verification and operator audit entries out to sinks
// without blocking the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/metrics"
	"github.com/nexus-verify/internal/pkg/id"
)

// Sink receives audit entries. Emit is called from the dispatcher goroutine only.
type Sink interface {
	Emit(ctx context.Context, entry domain.AuditEntry) error
}

// LogSink writes entries as structured log records.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, e domain.AuditEntry) error {
	slog.Info("audit",
		"id", e.ID,
		"outcome", e.Outcome,
		"action", e.Action,
		"identity", e.Identity,
		"prior_identity", e.PriorIdentity,
		"fingerprint", e.Fingerprint,
		"reason", e.Reason,
	)
	return nil
}

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds each Emit call. Zero means 5s.
	SinkTimeout time.Duration
}

// Dispatcher asynchronously forwards entries to every sink in order. A
// failing sink is logged and does not stop the others.
type Dispatcher struct {
	cfg       Config
	sinks     []Sink
	metrics   *metrics.Metrics
	ch        chan domain.AuditEntry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	// mu orders sends against Close: a send holds the read lock, so run
	// cannot finish draining while one is in flight.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		metrics: m,
		ch:      make(chan domain.AuditEntry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.emit(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.emit(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) emit(e domain.AuditEntry) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
		if err := s.Emit(ctx, e); err != nil {
			slog.Warn("audit sink failed", "entry", e.ID, "err", err)
		}
		cancel()
	}
}

// Record queues e, assigning an ID and timestamp when missing. A nil
// dispatcher discards entries.
func (d *Dispatcher) Record(ctx context.Context, e domain.AuditEntry) {
	if d == nil {
		return
	}
	d.enqueue(ctx, e)
}

// enqueue reports whether e was handed to the run loop, which then delivers it.
func (d *Dispatcher) enqueue(ctx context.Context, e domain.AuditEntry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = id.At(e.OccurredAt)
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- e:
			return true
		default:
			d.dropped.Add(1)
			d.metrics.IncrementAuditDropped()
			return false
		}
	}

	select {
	case d.ch <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting entries and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
