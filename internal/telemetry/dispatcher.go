package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
)

const (
	initialBackoff   = 50 * time.Millisecond
	shutdownAttempts = 3
)

// Sink durably stores security events
type Sink interface {
	Write(ctx context.Context, event *model.SecurityEvent) error
}

// Alerter fans out events that need a human to look at them
type Alerter interface {
	Alert(ctx context.Context, event *model.SecurityEvent) error
}

// Config controls dispatcher buffering and retry behavior.
type Config struct {
	QueueSize       int
	MaxRetryBackoff time.Duration
}

// Stats is a snapshot of the dispatcher counters
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

type job struct {
	event *model.SecurityEvent
	alert bool
}

// Dispatcher forwards events to a sink from a single background worker.
// Events are never dropped: a full queue makes the producer wait, a failing
// sink is retried with exponential backoff, and Close drains the queue.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	alerter Alerter
	log     *logger.Logger

	ch   chan job
	done chan struct{}
	wg   sync.WaitGroup

	// mu guards closed against in-flight enqueues
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	// shutdown is set before mu is taken so the worker never waits on it
	shutdown atomic.Bool

	delivered atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher starts the worker. alerter may be nil.
func NewDispatcher(cfg Config, sink Sink, alerter Alerter, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		alerter: alerter,
		log:     log.WithComponent("telemetry"),
		ch:      make(chan job, cfg.QueueSize),
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
		case j := <-d.ch:
			d.deliver(context.Background(), j)
		case <-d.done:
			for {
				select {
				case j := <-d.ch:
					d.deliver(context.Background(), j)
				default:
					return
				}
			}
		}
	}
}

// Enqueue hands an event to the worker. It blocks while the queue is full.
// Once the dispatcher is closed the event is written synchronously.
func (d *Dispatcher) Enqueue(ctx context.Context, event *model.SecurityEvent, alert bool) {
	j := job{event: event, alert: alert}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		// the caller's cancellation must not lose the event
		d.deliver(context.WithoutCancel(ctx), j)
		return
	}
	d.ch <- j
	d.mu.RUnlock()
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	backoff := initialBackoff
	attempt := 0

	for {
		err := d.sink.Write(ctx, j.event)
		if err == nil {
			d.delivered.Add(1)
			break
		}
		attempt++

		if d.isClosed() && attempt >= shutdownAttempts {
			d.failed.Add(1)
			d.log.Error().Err(err).
				Str("event_type", j.event.EventType).
				Str("severity", string(j.event.Severity)).
				Str("username", j.event.UsernameOrEmpty()).
				Str("details", j.event.Details).
				Time("timestamp", j.event.Timestamp).
				Msg("Security event could not be stored")
			return
		}

		d.retried.Add(1)
		d.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying security event write")

		d.sleep(backoff)
		backoff *= 2
		if backoff > d.cfg.MaxRetryBackoff {
			backoff = d.cfg.MaxRetryBackoff
		}
	}

	if j.alert && d.alerter != nil {
		if err := d.alerter.Alert(ctx, j.event); err != nil {
			d.log.Error().Err(err).Str("event_type", j.event.EventType).Msg("Failed to raise security alert")
		}
	}
}

// sleep waits for backoff, cut short once the dispatcher is closing
func (d *Dispatcher) sleep(backoff time.Duration) {
	if d.isClosed() {
		return
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.done:
	}
}

func (d *Dispatcher) isClosed() bool {
	return d.shutdown.Load()
}

// Close stops accepting queued work and waits for the worker to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.shutdown.Store(true)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Stats returns the current counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
		Queued:    len(d.ch),
	}
}
