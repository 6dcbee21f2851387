package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe("job-1")
	other, unsubscribeOther := bus.Subscribe("job-2")
	defer unsubscribeOther()

	bus.Publish("job-1", Event{Type: "progress", Status: "running", Progress: 12})

	ev := <-ch
	assert.Equal(t, "progress", ev.Type)
	assert.Equal(t, 12.0, ev.Progress)
	assert.Empty(t, other)

	unsubscribe()
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Zero(t, bus.subscriberCount("job-1"))

	assert.NotPanics(t, unsubscribe, "second unsubscribe is a no-op")
	assert.NotPanics(t, func() { bus.Publish("job-1", Event{Type: "status"}) })
}

func TestEventBus_SlowSubscriberKeepsNewest(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe("job-1")
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		bus.Publish("job-1", Event{Type: "progress", Progress: float64(i)})
	}
	bus.Publish("job-1", Event{Type: "status", Status: "complete"})

	require.Len(t, ch, subscriberBuffer)
	var last Event
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, "complete", last.Status, "terminal event survives a full buffer")
}

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus()
	a, unsubA := bus.Subscribe("job-1")
	b, unsubB := bus.Subscribe("job-1")
	defer unsubA()
	defer unsubB()
	assert.Equal(t, 2, bus.subscriberCount("job-1"))

	bus.Publish("job-1", Event{Type: "status", Status: "running"})

	assert.Equal(t, "running", (<-a).Status)
	assert.Equal(t, "running", (<-b).Status)
}

func TestEventBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, unsubscribe := bus.Subscribe("job-1")
			for j := 0; j < 50; j++ {
				bus.Publish("job-1", Event{Type: "progress", Progress: float64(j)})
			}
			unsubscribe()
			for range ch {
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, bus.subscriberCount("job-1"))
}
