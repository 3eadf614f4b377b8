// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testEnvelope(topic Topic, target string) Envelope {
	return Envelope{
		Topic:    topic,
		Event:    "test",
		Payload:  json.RawMessage(`{"n":1}`),
		TargetID: target,
		SentAt:   time.Now(),
	}
}

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe("room-1", TopicVisuals)
	bus.Publish("room-1", testEnvelope(TopicVisuals, TargetAll))

	select {
	case env := <-ch:
		assert.Equal(t, TopicVisuals, env.Topic)
		assert.Equal(t, "test", env.Event)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for envelope")
	}
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus := NewBus()

	visuals := bus.Subscribe("room-1", TopicVisuals)
	whispers := bus.Subscribe("room-1", TopicWhispers)

	bus.Publish("room-1", testEnvelope(TopicWhispers, TargetAll))

	select {
	case env := <-whispers:
		assert.Equal(t, TopicWhispers, env.Topic)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for whisper")
	}

	select {
	case <-visuals:
		t.Fatal("visuals subscriber received a whisper")
	default:
	}
}

func TestBus_RoomsAreIsolated(t *testing.T) {
	bus := NewBus()

	other := bus.Subscribe("room-2", TopicVisuals)
	bus.Publish("room-1", testEnvelope(TopicVisuals, TargetAll))

	select {
	case <-other:
		t.Fatal("subscriber in another room received the envelope")
	default:
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe("room-1", TopicLoot)
	ch2 := bus.Subscribe("room-1", TopicLoot)

	bus.Publish("room-1", testEnvelope(TopicLoot, TargetAll))

	for _, ch := range []chan Envelope{ch1, ch2} {
		select {
		case env := <-ch:
			assert.Equal(t, TopicLoot, env.Topic)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for envelope")
		}
	}
}

func TestBus_Unsubscribe_ClosesChannel(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe("room-1", TopicVisuals)
	bus.Unsubscribe("room-1", TopicVisuals, ch)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel should be closed immediately")
	}

	// Publishing after unsubscribe must not panic or deliver.
	bus.Publish("room-1", testEnvelope(TopicVisuals, TargetAll))
}

func TestBus_LateSubscriberMissesEarlierEnvelopes(t *testing.T) {
	bus := NewBus()

	bus.Publish("room-1", testEnvelope(TopicVisuals, TargetAll))

	ch := bus.Subscribe("room-1", TopicVisuals)
	select {
	case <-ch:
		t.Fatal("late subscriber must not see earlier envelopes")
	default:
	}
}

func TestBus_FullSubscriberDropsEnvelope(t *testing.T) {
	bus := NewBus()

	slow := bus.Subscribe("room-1", TopicVisuals)
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("room-1", testEnvelope(TopicVisuals, TargetAll))
	}

	// The buffer holds exactly subscriberBuffer envelopes; the overflow
	// was dropped without blocking the publisher.
	count := 0
	for {
		select {
		case <-slow:
			count++
		default:
			assert.Equal(t, subscriberBuffer, count)
			return
		}
	}
}

func TestBus_NoGoroutineLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	ch := bus.Subscribe("room-1", TopicTracking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()

	bus.Publish("room-1", testEnvelope(TopicTracking, TargetAll))
	bus.Unsubscribe("room-1", TopicTracking, ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain goroutine did not exit after unsubscribe")
	}

	require.Empty(t, bus.subs, "all subscriptions removed")
}
