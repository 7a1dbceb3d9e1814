package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	var timeline, all []Event
	bus.Subscribe(EventTimelineUpdated, func(e Event) { timeline = append(timeline, e) })
	bus.Subscribe("", func(e Event) { all = append(all, e) })

	bus.Publish(EventTimelineUpdated, map[string]any{"project": "p1"})
	bus.Publish(EventPlaybackTime, map[string]any{"time": 1.5})

	assert.Len(t, timeline, 1)
	assert.Equal(t, "p1", timeline[0].Data["project"])
	assert.Len(t, all, 2)
	assert.NotEmpty(t, all[0].ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	n := 0
	unsub := bus.Subscribe(EventExportProgress, func(Event) { n++ })

	bus.Publish(EventExportProgress, nil)
	unsub()
	bus.Publish(EventExportProgress, nil)

	assert.Equal(t, 1, n)
}

func TestPublishOrderIsSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.Subscribe(EventAssetUpdated, func(Event) { order = append(order, 1) })
	bus.Subscribe(EventAssetUpdated, func(Event) { order = append(order, 2) })

	bus.Publish(EventAssetUpdated, nil)
	assert.Equal(t, []int{1, 2}, order)
}
