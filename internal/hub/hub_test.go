package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
)

func newTestHub(queueSize int) *Hub {
	return New(config.HubConfig{SubscriberQueue: queueSize})
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := newTestHub(4)
	sub := h.Subscribe("camera:1:stream")
	defer h.Unsubscribe(sub)

	seq := h.Publish("camera:1:stream", []byte("frame-1"))
	require.Equal(t, uint64(1), seq)

	msg := <-sub.C
	require.Equal(t, "camera:1:stream", msg.Topic)
	require.Equal(t, uint64(1), msg.Seq)
	require.Equal(t, []byte("frame-1"), msg.Payload)
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	h := newTestHub(4)
	sub := h.Subscribe("camera:1:stream")
	defer h.Unsubscribe(sub)

	h.Publish("camera:2:stream", []byte("frame"))

	select {
	case <-sub.C:
		t.Fatal("subscriber received a message from a topic it didn't subscribe to")
	default:
	}
}

func TestPublishDropsOldestWhenQueueFull(t *testing.T) {
	h := newTestHub(2)
	sub := h.Subscribe("camera:1:stream")
	defer h.Unsubscribe(sub)

	h.Publish("camera:1:stream", []byte("one"))
	h.Publish("camera:1:stream", []byte("two"))
	h.Publish("camera:1:stream", []byte("three"))

	require.Equal(t, uint64(1), sub.Dropped())

	first := <-sub.C
	require.Equal(t, []byte("two"), first.Payload)
	second := <-sub.C
	require.Equal(t, []byte("three"), second.Payload)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newTestHub(4)
	sub := h.Subscribe("room:all:presence")
	require.Equal(t, 1, h.SubscriberCount("room:all:presence"))

	h.Unsubscribe(sub)
	require.Equal(t, 0, h.SubscriberCount("room:all:presence"))

	h.Unsubscribe(sub) // must not panic or go negative
	require.Equal(t, 0, h.SubscriberCount("room:all:presence"))
}

func TestSequenceNumbersAreMonotonicPerTopic(t *testing.T) {
	h := newTestHub(4)
	sub := h.Subscribe("topic-a")
	defer h.Unsubscribe(sub)

	for i := 1; i <= 3; i++ {
		seq := h.Publish("topic-a", []byte("x"))
		require.Equal(t, uint64(i), seq)
	}
}
