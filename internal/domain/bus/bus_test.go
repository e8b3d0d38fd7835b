package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")

	var got []string
	ch.Subscribe("cart", func(data interface{}) { got = append(got, "first:"+data.(string)) })
	ch.Subscribe("cart", func(data interface{}) { got = append(got, "second:"+data.(string)) })

	ch.Publish("cart", "3 items")

	assert.Equal(t, []string{"first:3 items", "second:3 items"}, got)
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	ch := NewEventCenter(nil).Global()
	ch.Publish("theme", "light")
	ch.Publish("theme", "dark")

	var got []interface{}
	ch.Subscribe("theme", func(data interface{}) { got = append(got, data) })

	require.Equal(t, []interface{}{"dark"}, got)

	ch.Publish("theme", "contrast")
	assert.Equal(t, []interface{}{"dark", "contrast"}, got)
}

func TestUnsubscribe(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")

	calls := 0
	unsubscribe := ch.Subscribe("cart", func(interface{}) { calls++ })
	ch.Publish("cart", 1)
	unsubscribe()
	unsubscribe()
	ch.Publish("cart", 2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, ch.SubscriberCount("cart"))
}

func TestUnsubscribeAllKeepsOtherEvents(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")

	calls := 0
	ch.Subscribe("cart", func(interface{}) { calls++ })
	ch.SubscribeOnce("cart", func(interface{}) { calls++ })
	ch.Subscribe("user", func(interface{}) { calls++ })

	assert.Equal(t, 2, ch.UnsubscribeAll("cart"))
	assert.Equal(t, 0, ch.UnsubscribeAll("cart"))

	ch.Publish("cart", 1)
	ch.Publish("user", 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ch.SubscriberCount("user"))
}

func TestSubscribeOnce(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")

	calls := 0
	ch.SubscribeOnce("ready", func(interface{}) { calls++ })
	ch.Publish("ready", true)
	ch.Publish("ready", true)
	assert.Equal(t, 1, calls)

	// A stored payload satisfies a once-subscriber immediately
	replayed := 0
	ch.SubscribeOnce("ready", func(interface{}) { replayed++ })
	ch.Publish("ready", true)
	assert.Equal(t, 1, replayed)
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")

	delivered := false
	ch.Subscribe("cart", func(interface{}) { panic("broken listener") })
	ch.Subscribe("cart", func(interface{}) { delivered = true })

	assert.NotPanics(t, func() { ch.Publish("cart", nil) })
	assert.True(t, delivered)
}

func TestChannelsAreIndependent(t *testing.T) {
	center := NewEventCenter(nil)
	center.Channel("a").Publish(DataEvent, "for a")

	_, ok := center.Channel("b").Last(DataEvent)
	assert.False(t, ok)
	_, ok = center.Global().Last(DataEvent)
	assert.False(t, ok)
}

func TestRemoveClearsChannel(t *testing.T) {
	center := NewEventCenter(nil)
	ch := center.Channel("shop")
	ch.Publish(DataEvent, "state")
	ch.Subscribe(DataEvent, func(interface{}) {})

	center.Remove("shop")

	_, ok := ch.Last(DataEvent)
	assert.False(t, ok)
	assert.Equal(t, 0, ch.SubscriberCount(DataEvent))
	_, ok = center.Lookup("shop")
	assert.False(t, ok)
}

func TestClearListenersKeepsPayloads(t *testing.T) {
	ch := NewEventCenter(nil).Channel("shop")
	ch.Subscribe(DataEvent, func(interface{}) {})
	ch.Publish(DataEvent, "kept")

	ch.ClearListeners()

	data, ok := ch.Last(DataEvent)
	assert.True(t, ok)
	assert.Equal(t, "kept", data)
	assert.Equal(t, 0, ch.SubscriberCount(DataEvent))
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	ch := NewEventCenter(nil).Global()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch.Subscribe("tick", func(interface{}) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
		go func(i int) {
			defer wg.Done()
			ch.Publish("tick", i)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, count)
}
