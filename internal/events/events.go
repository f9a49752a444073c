// Package events announces access decisions and enrollments to the outside
// world. The live pipeline never depends on delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind names the topic suffix an event is published under.
type Kind string

const (
	KindAccess     Kind = "access"
	KindEnrollment Kind = "enrollment"
)

// Event is one access decision or enrollment.
type Event struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Name     string          `json:"name"`
	Decision string          `json:"decision,omitempty"`
	Box      image.Rectangle `json:"box"`
	At       time.Time       `json:"at"`
}

// New stamps an event with a fresh ID and the current time.
func New(kind Kind, name, decision string, box image.Rectangle) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Name:     name,
		Decision: decision,
		Box:      box,
		At:       time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string // events go to <Topic>/<kind>
	ClientID string // random when empty
	QoS      byte
	Timeout  time.Duration
}

// MQTT publishes JSON events to a broker.
type MQTT struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration

	mu        sync.Mutex
	published uint64
	failed    uint64
}

// DialMQTT connects to the broker and returns a ready publisher.
func DialMQTT(opts MQTTOptions) (*MQTT, error) {
	if opts.ClientID == "" {
		opts.ClientID = "gatekeeper-" + uuid.NewString()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Topic == "" {
		opts.Topic = "gatekeeper"
	}

	co := mqtt.NewClientOptions().AddBroker(opts.Broker).SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(5 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("component", "events").Str("broker", opts.Broker).Msg("mqtt connection lost, reconnecting")
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}
	log.Info().Str("component", "events").Str("broker", opts.Broker).Str("client_id", opts.ClientID).Msg("mqtt connected")
	return NewMQTT(client, opts), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, opts MQTTOptions) *MQTT {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &MQTT{client: client, topic: opts.Topic, qos: opts.QoS, timeout: opts.Timeout}
}

// Publish sends ev to <topic>/<kind> and waits at most the configured timeout.
func (m *MQTT) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", m.topic, ev.Kind)

	token := m.client.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(m.timeout):
		m.count(false)
		return fmt.Errorf("publish to %s: timeout", topic)
	case <-ctx.Done():
		m.count(false)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		m.count(false)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	m.count(true)
	log.Debug().Str("component", "events").Str("topic", topic).Int("size", len(payload)).Msg("event published")
	return nil
}

func (m *MQTT) count(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.published++
	} else {
		m.failed++
	}
}

// Stats reports delivered and failed publishes.
func (m *MQTT) Stats() (published, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.failed
}

// Close disconnects with a short grace period.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
