package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmitSyncDeliversToAllHandlers(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var received []string

	bus.Subscribe(TopicFunctionLoaded, func(topic string, data interface{}) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, topic+":a")
	})
	bus.Subscribe(TopicFunctionLoaded, func(topic string, data interface{}) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, topic+":b")
	})

	bus.EmitSync(TopicFunctionLoaded, "hello")

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"function:loaded:a", "function:loaded:b"}, received)
}

func TestEmitOnlyReachesSubscribersOfTheExactTopic(t *testing.T) {
	bus := New()

	called := make(chan struct{}, 1)
	bus.Subscribe(TopicFunctionDeleted, func(string, interface{}) { called <- struct{}{} })

	bus.EmitSync(TopicFunctionLoaded, nil)

	select {
	case <-called:
		t.Fatal("handler for a different topic should not have run")
	default:
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	bus := New()

	count := 0
	sub := bus.Subscribe(TopicFunctionUpdated, func(string, interface{}) { count++ })
	bus.EmitSync(TopicFunctionUpdated, nil)
	require.Equal(t, 1, count)

	bus.Unsubscribe(sub)
	bus.EmitSync(TopicFunctionUpdated, nil)
	assert.Equal(t, 1, count, "unsubscribed handler must not fire again")
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	secondRan := false

	bus.Subscribe(TopicFunctionDeployed, func(string, interface{}) {
		panic("boom")
	})
	bus.Subscribe(TopicFunctionDeployed, func(string, interface{}) {
		mu.Lock()
		defer mu.Unlock()
		secondRan = true
	})

	require.NotPanics(t, func() {
		bus.EmitSync(TopicFunctionDeployed, nil)
	})

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, secondRan)
}

func TestEmitDoesNotBlockOnSlowHandlers(t *testing.T) {
	bus := New()
	bus.Subscribe(TopicFunctionLoaded, func(string, interface{}) {
		time.Sleep(200 * time.Millisecond)
	})

	start := time.Now()
	bus.Emit(TopicFunctionLoaded, nil)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLogTopicNamespacesPerFunction(t *testing.T) {
	assert.Equal(t, "log.hello-world", LogTopic("hello-world"))
	assert.NotEqual(t, LogTopic("a"), LogTopic("b"))
}
