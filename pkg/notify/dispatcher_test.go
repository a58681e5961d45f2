package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/observability"
)

type recordingSink struct {
	name  string
	err   error
	delay time.Duration

	mu     sync.Mutex
	events []Event

	running, peak atomic.Int64
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, evt Event) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type panickingSink struct{}

func (panickingSink) Name() string { return "panic" }

func (panickingSink) Deliver(context.Context, Event) error { panic("sink exploded") }

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_FansOutAndFillsIdentity(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	metrics := observability.NewTestMetrics()
	d := NewDispatcher(4, []Sink{a, b}, WithMetrics(metrics))

	d.Notify(context.Background(), AssignedEvent(EventPermitAssigned, "permit", 7, "P-7", 0, 3, nil))
	closeDispatcher(t, d)

	for _, sink := range []*recordingSink{a, b} {
		events := sink.received()
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.False(t, events[0].Timestamp.IsZero())
		assert.Equal(t, []int64{3}, events[0].Recipients)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("permit_assigned", sink.name)))
	}
	assert.Equal(t, a.received()[0].ID, b.received()[0].ID)
}

func TestDispatcher_FailuresAreLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	metrics := observability.NewTestMetrics()

	broken := &recordingSink{name: "broken", err: errors.New("connection refused")}
	d := NewDispatcher(1, []Sink{broken, panickingSink{}}, WithLogger(logger), WithMetrics(metrics))

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), Event{Type: EventPermitStatusChanged, Entity: "permit", EntityID: 1})
	})
	closeDispatcher(t, d)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationFailuresTotal.WithLabelValues("permit_status_changed", "broken")))
	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "connection refused")
	assert.Contains(t, buf.String(), "PANIC recovered")
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	sink := &recordingSink{name: "slow", delay: 20 * time.Millisecond}
	d := NewDispatcher(2, []Sink{sink})

	for i := 0; i < 6; i++ {
		d.Notify(context.Background(), Event{Type: EventPermitAssigned, EntityID: int64(i)})
	}
	closeDispatcher(t, d)

	assert.Len(t, sink.received(), 6)
	assert.LessOrEqual(t, sink.peak.Load(), int64(2))
}

func TestDispatcher_DetachesFromRequestContext(t *testing.T) {
	sink := &recordingSink{name: "slow", delay: 20 * time.Millisecond}
	d := NewDispatcher(1, []Sink{sink})

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, Event{Type: EventPermitAssigned})
	cancel()
	closeDispatcher(t, d)

	assert.Len(t, sink.received(), 1)
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(1, []Sink{sink})
	closeDispatcher(t, d)

	d.Notify(context.Background(), Event{Type: EventPermitAssigned})
	closeDispatcher(t, d)
	assert.Empty(t, sink.received())
}

func TestDispatcher_CloseTimesOut(t *testing.T) {
	sink := &recordingSink{name: "slow", delay: 200 * time.Millisecond}
	d := NewDispatcher(1, []Sink{sink})
	d.Notify(context.Background(), Event{Type: EventPermitAssigned})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	closeDispatcher(t, d)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NotPanics(t, func() { n.Notify(context.Background(), Event{}) })
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotificationsConfig
		want []string
	}{
		{"disabled", config.NotificationsConfig{Enabled: false, WebhookURL: "http://x"}, []string{}},
		{"log fallback", config.NotificationsConfig{Enabled: true, Workers: 2}, []string{"log"}},
		{"webhook", config.NotificationsConfig{Enabled: true, Workers: 2, WebhookURL: "http://hooks.local"}, []string{"webhook"}},
		{"redis without client", config.NotificationsConfig{Enabled: true, RedisChannel: "c"}, []string{"log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFromConfig(tt.cfg, nil, nil, nil)
			assert.Equal(t, tt.want, d.Sinks())
		})
	}
}

func TestEvents(t *testing.T) {
	actor := int64(9)
	evt := AssignedEvent(EventChalanAssigned, "chalan", 4, "C-4", 2, 5, &actor)
	assert.Equal(t, "user:2", evt.Before)
	assert.Equal(t, "user:5", evt.After)
	assert.Equal(t, []int64{5}, evt.Recipients)

	evt = AssignedEvent(EventChalanAssigned, "chalan", 4, "C-4", 0, 5, nil)
	assert.Empty(t, evt.Before)
	assert.Equal(t, "user:5", evt.After)
	assert.Nil(t, evt.ActorID)

	evt = StatusChangedEvent(EventPermitStatusChanged, "permit", 1, "P-1", "pending", "active", &actor, 5, 0, 5, 8)
	assert.Equal(t, []int64{5, 8}, evt.Recipients)
	assert.Equal(t, "pending", evt.Before)
	assert.Equal(t, "active", evt.After)
}
