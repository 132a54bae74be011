// Package hub implements the subscription hub (C9): a topic-keyed
// broadcaster that fans published messages out to per-connection queues,
// used by both WebSocket surfaces (camera frame/event streams, room
// presence streams).
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/observability"
)

// Message is one published item, tagged with the topic's monotonic
// sequence number so a subscriber can detect gaps left by dropped messages.
type Message struct {
	Topic   string
	Seq     uint64
	Payload []byte
}

// Subscription is a single consumer's bounded inbox for one topic. The
// zero value is not usable; obtain one from Hub.Subscribe.
type Subscription struct {
	ID      uuid.UUID
	Topic   string
	C       <-chan Message
	ch      chan Message
	dropped uint64
}

// Dropped returns how many messages this subscription has had to drop
// because its queue was full when a new one arrived.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Hub is the subscription hub (C9).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]*Subscription
	seq  map[string]uint64
	cfg  config.HubConfig
}

func New(cfg config.HubConfig) *Hub {
	return &Hub{
		subs: make(map[string]map[uuid.UUID]*Subscription),
		seq:  make(map[string]uint64),
		cfg:  cfg,
	}
}

// Subscribe opens a new bounded queue for topic and registers it with the
// hub. Callers must Unsubscribe when done.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan Message, h.cfg.SubscriberQueue)
	sub := &Subscription{
		ID:    uuid.New(),
		Topic: topic,
		C:     ch,
		ch:    ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uuid.UUID]*Subscription)
	}
	h.subs[topic][sub.ID] = sub
	observability.WSConnections.Inc()
	return sub
}

// Unsubscribe removes sub from its topic. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byTopic, ok := h.subs[sub.Topic]
	if !ok {
		return
	}
	if _, ok := byTopic[sub.ID]; !ok {
		return
	}
	delete(byTopic, sub.ID)
	if len(byTopic) == 0 {
		delete(h.subs, sub.Topic)
	}
	observability.WSConnections.Dec()
}

// Publish fans payload out to every current subscriber of topic, assigning
// it the topic's next sequence number. A subscriber whose queue is full has
// its oldest queued message dropped to make room (spec.md §4.7/§8 property
// 6: a slow consumer loses messages, it is never disconnected for lag).
func (h *Hub) Publish(topic string, payload []byte) uint64 {
	h.mu.Lock()
	h.seq[topic]++
	seq := h.seq[topic]
	subs := make([]*Subscription, 0, len(h.subs[topic]))
	for _, s := range h.subs[topic] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	msg := Message{Topic: topic, Seq: seq, Payload: payload}
	for _, s := range subs {
		deliver(s, msg)
	}
	return seq
}

func deliver(s *Subscription, msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	// Queue full: evict one message to make room, then retry once. If a
	// concurrent receiver already drained a slot, the retry simply
	// succeeds without having evicted anything real.
	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- msg:
	default:
	}
	atomic.AddUint64(&s.dropped, 1)
	observability.HubDroppedMessages.WithLabelValues(msg.Topic).Inc()
}

// SubscriberCount returns the number of active subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
