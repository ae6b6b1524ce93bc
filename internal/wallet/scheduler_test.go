package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raspadinha-platform/internal/events"
)

type fakePromoter struct {
	calls    int
	promoted int64
	err      error
}

func (f *fakePromoter) PromoteEligibleAffiliates(ctx context.Context) (int64, error) {
	f.calls++
	return f.promoted, f.err
}

func testSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{Interval: time.Hour, SweepTimeout: time.Second}
}

func TestSchedulerSweepAppliesPromotions(t *testing.T) {
	store := newFakeReconcileStore()
	store.add("affiliate", 1, "100", "100")

	bus := events.NewEventBus()
	promotions := make(chan events.Event, 1)
	bus.Subscribe(events.EventTierPromoted, func(e events.Event) { promotions <- e })

	promoter := &fakePromoter{promoted: 2}
	s := NewScheduler(NewReconciler(store, bus, 10, zerolog.Nop()), promoter, bus, testSchedulerConfig())
	s.runSweep()

	assert.Equal(t, 1, promoter.calls)
	select {
	case e := <-promotions:
		assert.Equal(t, int64(2), e.Data["promoted"])
	case <-time.After(time.Second):
		t.Fatal("expected a tier promotion event")
	}
}

func TestSchedulerSweepNothingToPromote(t *testing.T) {
	bus := events.NewEventBus()
	fired := make(chan struct{}, 1)
	bus.Subscribe(events.EventTierPromoted, func(events.Event) { fired <- struct{}{} })

	promoter := &fakePromoter{promoted: 0}
	s := NewScheduler(NewReconciler(newFakeReconcileStore(), bus, 10, zerolog.Nop()), promoter, bus, testSchedulerConfig())
	s.runSweep()

	assert.Equal(t, 1, promoter.calls)
	select {
	case <-fired:
		t.Fatal("no promotion event expected when nothing was promoted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerSweepSurvivesPromoterError(t *testing.T) {
	bus := events.NewEventBus()
	promoter := &fakePromoter{err: errors.New("tier table locked")}
	s := NewScheduler(NewReconciler(newFakeReconcileStore(), bus, 10, zerolog.Nop()), promoter, bus, testSchedulerConfig())

	s.runSweep()
	s.runSweep()

	// Errors are logged and retried on the next interval
	assert.Equal(t, 2, promoter.calls)
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(NewReconciler(newFakeReconcileStore(), events.NewEventBus(), 10, zerolog.Nop()),
		nil, nil, testSchedulerConfig())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())
}
