// Package events fans committed-timeline notifications out to live
// subscribers (SSE streams, websocket sessions).
package events

import (
    "sync"
)

// Event types.
const (
    TypeTimelineCommitted = "timeline.committed"
    TypeRouteAttached     = "route.attached"
)

type Event struct {
    Type string `json:"type"`
    Data any    `json:"data"`
}

// Broker delivers events published on a topic to every current subscriber.
// Delivery is best effort: a subscriber whose buffer is full misses events.
type Broker interface {
    Subscribe(topic string) chan Event
    Unsubscribe(topic string, ch chan Event)
    Publish(topic string, evt Event)
}

// LegTopic is the topic carrying events for one leg.
func LegTopic(legID string) string { return "leg:" + legID }

// Memory is the in-process Broker.
type Memory struct {
    mu   sync.Mutex
    subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
    return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
    ch := make(chan Event, 8)
    b.mu.Lock()
    if b.subs[topic] == nil { b.subs[topic] = map[chan Event]struct{}{} }
    b.subs[topic][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[topic]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, topic) }
    close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for ch := range b.subs[topic] {
        select { case ch <- evt: default: }
    }
}
