package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Notifier is the hook mutations call after their transaction commits.
// Notify never blocks on delivery and never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sink delivers an event to one destination
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Nop discards every event
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(context.Context, Event) {}

// DefaultDeliveryTimeout bounds one delivery attempt to one sink, retries
// included
const DefaultDeliveryTimeout = 30 * time.Second

// Dispatcher fans events out to its sinks in the background. At most
// workers deliveries run at once; the rest wait for a slot.
type Dispatcher struct {
	sinks   []Sink
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDeliveryTimeout overrides DefaultDeliveryTimeout
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.timeout = d
	}
}

// WithLogger sets the logger used for delivery failures
func WithLogger(logger *observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics counts deliveries and failures per sink
func WithMetrics(metrics *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher running at most workers deliveries
// concurrently
func NewDispatcher(workers int64, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sinks:   sinks,
		sem:     semaphore.NewWeighted(workers),
		timeout: DefaultDeliveryTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify queues evt for every sink and returns immediately. Events
// arriving after Close are dropped.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WithField("event_id", evt.ID).Warn("notification dropped after shutdown")
		return
	}

	// keep request-scoped values but not the request's cancellation
	base := context.WithoutCancel(ctx)
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go d.deliver(base, sink, evt)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, evt Event) {
	defer d.wg.Done()
	defer observability.RecoverPanic(d.logger, "notification delivery")

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.fail(sink, evt, err)
		return
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := sink.Deliver(ctx, evt); err != nil {
		d.fail(sink, evt, err)
		return
	}
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(string(evt.Type), sink.Name()).Inc()
	}
}

func (d *Dispatcher) fail(sink Sink, evt Event, err error) {
	d.logger.WithError(err).WithFields(map[string]interface{}{
		"sink":      sink.Name(),
		"event_id":  evt.ID,
		"event":     evt.Type,
		"entity":    evt.Entity,
		"entity_id": evt.EntityID,
	}).Error("notification delivery failed")
	if d.metrics != nil {
		d.metrics.NotificationFailuresTotal.WithLabelValues(string(evt.Type), sink.Name()).Inc()
	}
}

// Close stops accepting events and waits for queued deliveries until ctx
// is done
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
