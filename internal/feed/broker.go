package feed

import (
	"context"
	"sync"
)

// Broker fans values out to every subscription of a topic.
type Broker[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription[T]]struct{}
	buffer int
	mode   Mode
}

func NewBroker[T any](buffer int, mode Mode) *Broker[T] {
	return &Broker[T]{
		topics: make(map[string]map[*Subscription[T]]struct{}),
		buffer: buffer,
		mode:   mode,
	}
}

func (b *Broker[T]) Subscribe(ctx context.Context, topic string) *Subscription[T] {
	sub := NewSubscription[T](b.buffer, b.mode)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription[T]]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.OnClose(func() { b.remove(topic, sub) })
	return sub.Bind(ctx)
}

// Publish delivers v to the current subscribers of topic and returns how
// many accepted it.
func (b *Broker[T]) Publish(topic string, v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.topics[topic] {
		if sub.Send(v) {
			delivered++
		}
	}
	return delivered
}

// CloseTopic closes every subscription of topic.
func (b *Broker[T]) CloseTopic(topic string) {
	b.mu.Lock()
	subs := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
}

func (b *Broker[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broker[T]) remove(topic string, sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}
