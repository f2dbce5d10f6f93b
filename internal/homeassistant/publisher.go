// Package homeassistant publishes SolaX Cloud entities to Home Assistant
// through MQTT discovery.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/coordinator"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/sensor"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	publishTimeout = 5 * time.Second
)

var errNotConnected = errors.New("mqtt client is not connected")

// Config holds the Home Assistant discovery settings
type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
	DeviceID        string
	DeviceName      string
	Manufacturer    string
	Model           string
}

// AvailabilityTopic is where online/offline is published
func (c Config) AvailabilityTopic() string {
	return c.BaseTopic + "/status"
}

// StateTopic is where the value of key is published
func (c Config) StateTopic(key string) string {
	return fmt.Sprintf("%s/%s/state", c.BaseTopic, key)
}

// DiscoveryTopic is where the discovery config of key is published
func (c Config) DiscoveryTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", c.DiscoveryPrefix, c.DeviceID, key)
}

// Client is the part of mqtt.Client the publisher needs
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// SensorConfig is the discovery payload of one sensor
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id,omitempty"`
	StateTopic          string     `json:"state_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Device              DeviceInfo `json:"device"`
	ValueTemplate       string     `json:"value_template"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
}

// DeviceInfo groups all sensors under one device
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// SensorState is the state payload of one sensor
type SensorState struct {
	Value any `json:"value"`
}

// Publisher publishes discovery and state messages for a fixed entity set
type Publisher struct {
	client   Client
	cfg      Config
	entities []sensor.Entity
	logger   *slog.Logger

	mu         sync.Mutex
	discovered bool

	last atomic.Pointer[coordinator.State]
}

// NewPublisher creates a publisher for entities
func NewPublisher(client Client, cfg Config, entities []sensor.Entity, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		cfg:      cfg,
		entities: entities,
		logger:   logger,
	}
}

// HandleUpdate is a coordinator subscriber. Every entity is republished
// after each refresh once a snapshot exists, including after failed
// refreshes; the values then simply stay stale.
func (p *Publisher) HandleUpdate(state coordinator.State) {
	if !state.HasData() {
		return
	}
	p.last.Store(&state)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.ensureDiscovery(ctx); err != nil {
		p.logger.Error("publishing discovery failed", "error", err)
		return
	}
	if err := p.PublishStates(ctx, state.Snapshot); err != nil {
		p.logger.Error("publishing states failed", "error", err)
	}
}

// Rediscover forces discovery to be sent again on the next update
func (p *Publisher) Rediscover() {
	p.mu.Lock()
	p.discovered = false
	p.mu.Unlock()
}

// Reconnected resends discovery and the latest known states. It is called
// whenever the broker connection is established, so values fetched while
// disconnected are not held back until the next refresh.
func (p *Publisher) Reconnected() {
	p.Rediscover()
	if last := p.last.Load(); last != nil {
		p.HandleUpdate(*last)
	}
}

func (p *Publisher) ensureDiscovery(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovered {
		return nil
	}
	if err := p.PublishDiscovery(ctx); err != nil {
		return err
	}
	p.discovered = true
	return nil
}

// PublishDiscovery publishes the retained discovery config of every entity
func (p *Publisher) PublishDiscovery(ctx context.Context) error {
	for _, e := range p.entities {
		payload, err := json.Marshal(p.sensorConfig(e))
		if err != nil {
			return fmt.Errorf("error serializing discovery for %s: %w", e.Key(), err)
		}
		if err := p.publish(ctx, p.cfg.DiscoveryTopic(e.Key()), true, payload); err != nil {
			return fmt.Errorf("error publishing discovery for %s: %w", e.Key(), err)
		}
	}
	p.logger.Info("published discovery", "sensors", len(p.entities), "prefix", p.cfg.DiscoveryPrefix)
	return nil
}

func (p *Publisher) sensorConfig(e sensor.Entity) SensorConfig {
	d := e.Descriptor
	return SensorConfig{
		Name:              d.Name,
		UniqueID:          e.UniqueID,
		ObjectID:          objectID(d.TranslationKey),
		StateTopic:        p.cfg.StateTopic(d.Key),
		UnitOfMeasurement: d.Unit,
		DeviceClass:       d.DeviceClass,
		StateClass:        d.StateClass,
		Device: DeviceInfo{
			Name:         p.cfg.DeviceName,
			Identifiers:  []string{p.cfg.DeviceID},
			Manufacturer: p.cfg.Manufacturer,
			Model:        p.cfg.Model,
		},
		ValueTemplate:       "{{ value_json.value }}",
		AvailabilityTopic:   p.cfg.AvailabilityTopic(),
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
	}
}

// PublishStates publishes the resolved value of every entity. A failure on
// one entity does not stop the others; the errors are joined.
func (p *Publisher) PublishStates(ctx context.Context, snap solax.Snapshot) error {
	var errs []error
	for _, e := range p.entities {
		payload, err := json.Marshal(SensorState{Value: stateValue(e.Value(snap))})
		if err != nil {
			errs = append(errs, fmt.Errorf("error serializing state for %s: %w", e.Key(), err))
			continue
		}
		if err := p.publish(ctx, p.cfg.StateTopic(e.Key()), false, payload); err != nil {
			errs = append(errs, fmt.Errorf("error publishing state for %s: %w", e.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishAvailability publishes the retained online/offline status
func (p *Publisher) PublishAvailability(ctx context.Context, online bool) error {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	if err := p.publish(ctx, p.cfg.AvailabilityTopic(), true, payload); err != nil {
		return fmt.Errorf("error publishing availability: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, payload interface{}) error {
	if !p.client.IsConnected() {
		return errNotConnected
	}

	token := p.client.Publish(topic, 0, retained, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timeout publishing to %s", topic)
	}
}

// objectID turns a translation key into a Home Assistant object id
func objectID(translationKey string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, strings.TrimSpace(translationKey))
	return "solax_" + slug
}

// stateValue makes timestamps explicit RFC 3339 strings
func stateValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}
