package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/cafe-pos/terminal/internal/enum"
)

// Notice is a transient, auto-dismissed message for the operator.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	TTLMs   int64  `json:"ttl_ms"`
}

// Notifier turns domain events into hub broadcasts.
type Notifier struct {
	hub *Hub
	ttl time.Duration
}

// NewNotifier creates a Notifier whose notices carry the given TTL.
func NewNotifier(hub *Hub, ttl time.Duration) *Notifier {
	return &Notifier{hub: hub, ttl: ttl}
}

// Notify sends a notice on the notices topic.
func (n *Notifier) Notify(level, message string) {
	n.Publish(enum.TopicNotices, enum.EventNotice, Notice{
		Level:   level,
		Message: message,
		TTLMs:   n.ttl.Milliseconds(),
	})
}

// Publish marshals payload and broadcasts it on topic.
func (n *Notifier) Publish(topic, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	n.hub.Broadcast(topic, Event{Type: eventType, Payload: data})
}
