package events_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/events"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := events.NewBus(testLogger())

	var received []*events.Event
	bus.Subscribe(events.PackBuilt, func(e *events.Event) {
		received = append(received, e)
	})

	bus.Emit(events.PackBuilt, "packs", map[string]interface{}{
		"pack_id": "pk_123",
	})

	require.Len(t, received, 1)
	assert.Equal(t, events.PackBuilt, received[0].Type)
	assert.Equal(t, "packs", received[0].Module)
	assert.Equal(t, "pk_123", received[0].Data["pack_id"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBusFiltersEventTypes(t *testing.T) {
	bus := events.NewBus(testLogger())

	packEvents := 0
	bus.Subscribe(events.PackBuilt, func(e *events.Event) { packEvents++ })

	bus.Emit(events.AlertFired, "alerts", nil)
	bus.Emit(events.PackBuilt, "packs", nil)
	bus.Emit(events.RunCompleted, "pipeline", nil)

	assert.Equal(t, 1, packEvents)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus(testLogger())

	calls := 0
	unsubscribe := bus.Subscribe(events.PackFresh, func(e *events.Event) { calls++ })

	bus.Emit(events.PackFresh, "packs", nil)
	unsubscribe()
	bus.Emit(events.PackFresh, "packs", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount(events.PackFresh))
}

func TestBusConcurrentEmit(t *testing.T) {
	bus := events.NewBus(testLogger())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(events.MetricsComputed, func(e *events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(events.MetricsComputed, "metrics", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestManagerEmitTypedRoundTrips(t *testing.T) {
	bus := events.NewBus(testLogger())
	manager := events.NewManager(bus, testLogger())

	var received *events.Event
	bus.Subscribe(events.PackBuilt, func(e *events.Event) { received = e })

	manager.EmitTyped(events.PackBuilt, "packs", &events.PackBuiltData{
		PackID:      "pk_abc",
		AsOfDate:    "2026-03-02",
		ContentHash: "deadbeef",
		PriceCount:  42,
		FXCount:     3,
	})

	require.NotNil(t, received)

	typed := received.GetTypedData()
	require.NotNil(t, typed)

	data, ok := typed.(*events.PackBuiltData)
	require.True(t, ok)
	assert.Equal(t, "pk_abc", data.PackID)
	assert.Equal(t, 42, data.PriceCount)
	assert.Equal(t, events.PackBuilt, data.EventType())
}

func TestManagerEmitError(t *testing.T) {
	bus := events.NewBus(testLogger())
	manager := events.NewManager(bus, testLogger())

	var received *events.Event
	bus.Subscribe(events.ErrorOccurred, func(e *events.Event) { received = e })

	manager.EmitError("reconcile", errors.New("ledger file missing"), map[string]interface{}{
		"path": "/data/ledger.txt",
	})

	require.NotNil(t, received)
	data, ok := received.GetTypedData().(*events.ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "ledger file missing", data.Error)
	assert.Equal(t, "/data/ledger.txt", data.Context["path"])
}

func TestRunCompletedDataDistinguishesBlocked(t *testing.T) {
	completed := &events.RunCompletedData{RunID: "r1", Status: "completed"}
	blocked := &events.RunCompletedData{RunID: "r2", Status: "blocked", BlockedAt: "reconcile"}

	assert.Equal(t, events.RunCompleted, completed.EventType())
	assert.Equal(t, events.RunBlocked, blocked.EventType())
}
