package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BrokerConfig holds the MQTT broker connection settings
type BrokerConfig struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string
}

// NewClient creates a paho client that announces availability on
// availabilityTopic: a retained last will of "offline", and "online" on
// every (re)connect. onConnect may be nil.
func NewClient(cfg BrokerConfig, availabilityTopic string, logger *slog.Logger, onConnect func()) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(availabilityTopic, payloadOffline, 0, true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		announceOnline(c, availabilityTopic, logger)
		if onConnect != nil {
			onConnect()
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return mqtt.NewClient(opts)
}

func announceOnline(c Client, topic string, logger *slog.Logger) {
	token := c.Publish(topic, 0, true, payloadOnline)
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn("publishing availability timed out", "topic", topic, "timeout", publishTimeout)
		return
	}
	if err := token.Error(); err != nil {
		logger.Warn("publishing availability failed", "topic", topic, "error", err)
	}
}

// Connect connects client to the broker, retrying every retryDelay
// until it succeeds or ctx is done.
func Connect(ctx context.Context, client mqtt.Client, retryDelay time.Duration, logger *slog.Logger) error {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		token := client.Connect()
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connection cancelled: %w", ctx.Err())
		case <-token.Done():
		}

		if token.Error() == nil {
			return nil
		}

		logger.Warn("mqtt connection failed", "attempt", attempt, "error", token.Error(), "retry_in", retryDelay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connection cancelled: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}
