package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(4)
	defer sub.Close()

	traceID := uuid.New()
	b.Publish(context.Background(), NodeCompleted, traceID, map[string]any{"ok": true})

	select {
	case e := <-sub.Events():
		assert.Equal(t, NodeCompleted, e.Kind)
		assert.Equal(t, traceID, e.TraceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	b.Publish(context.Background(), Log, uuid.Nil, "hi")

	for _, s := range []*Subscription{s1, s2} {
		select {
		case e := <-s.Events():
			assert.Equal(t, Log, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSlowSubscriberDropsOldestUnderBackpressure(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(2)
	defer sub.Close()

	ctx := context.Background()
	b.Publish(ctx, Log, uuid.Nil, 1)
	b.Publish(ctx, Log, uuid.Nil, 2)
	b.Publish(ctx, Log, uuid.Nil, 3) // queue depth 2: event 1 should be dropped

	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, 2, first.Payload)
	assert.Equal(t, 3, second.Payload)
}

func TestCloseStopsDeliveryAndClosesChannel(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(4)
	sub.Close()

	require.Equal(t, 0, b.SubscriberCount())
	_, ok := <-sub.Events()
	assert.False(t, ok)
}
