// Package ws fans registry events out to streaming subscribers.
package ws

import "sync"

// AllTopics subscribes a client to every event type.
const AllTopics = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by topic.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]struct{})
			}
			h.clients[sub.topic][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.drop(sub.topic, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllTopics {
				h.deliver(AllTopics, msg.payload)
			}
		case <-h.done:
			for topic, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, topic)
			}
			return
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	for c := range h.clients[topic] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.drop(topic, c)
		}
	}
}

func (h *Hub) drop(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a topic stream.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to the topic's clients and to wildcard clients.
func (h *Hub) Broadcast(topic string, payload []byte) {
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
	case <-h.done:
	}
}

// Close disconnects every client and stops the dispatch loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
