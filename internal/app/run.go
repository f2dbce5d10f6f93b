// Package app wires the SolaX Cloud client, coordinator and consumers.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/config"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/coordinator"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/exporter"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/homeassistant"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/httpapi"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/sensor"
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

// App holds the wired components
type App struct {
	cfg         config.Config
	logger      *slog.Logger
	coordinator *coordinator.Coordinator
	entities    []sensor.Entity
	registry    *prometheus.Registry
}

// New builds the application from cfg. fetcher may be nil, in which case a
// SolaX Cloud client is created from cfg.
func New(cfg config.Config, logger *slog.Logger, fetcher coordinator.Fetcher) *App {
	if fetcher == nil {
		fetcher = solax.NewClient(solax.Config{
			BaseURL:      cfg.BaseURL,
			TokenID:      cfg.TokenID,
			SerialNumber: cfg.SerialNumber,
		})
	}

	resolver := sensor.NewResolver(sensor.WithUTCCorrection(cfg.UTCCorrection))
	entities := sensor.NewEntities(cfg.HomeAssistant.DeviceID, sensor.Descriptors(), resolver)
	coord := coordinator.New(fetcher, coordinator.WithLogger(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		exporter.NewCollector(coord, entities, cfg.SerialNumber),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:         cfg,
		logger:      logger,
		coordinator: coord,
		entities:    entities,
		registry:    registry,
	}
}

// Coordinator exposes the snapshot coordinator
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Run serves HTTP, publishes to Home Assistant when enabled and refreshes
// on the configured interval until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting SolaX Cloud bridge",
		"serial_number", a.cfg.SerialNumber,
		"poll_interval", a.cfg.PollInterval,
		"utc_correction", a.cfg.UTCCorrection,
		"http_addr", a.cfg.HTTPAddr,
		"mqtt_enabled", a.cfg.MQTT.Enabled,
		"sensors", len(a.entities),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.MQTT.Enabled {
		publisher, client := a.newPublisher()
		unsubscribe := a.coordinator.Subscribe(publisher.HandleUpdate)
		defer unsubscribe()

		g.Go(func() error {
			if err := homeassistant.Connect(ctx, client, a.cfg.MQTT.RetryDelay, a.logger); err != nil {
				return err
			}
			<-ctx.Done()

			offlineCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := publisher.PublishAvailability(offlineCtx, false); err != nil {
				a.logger.Warn("publishing offline status failed", "error", err)
			}
			client.Disconnect(250)
			return nil
		})
	}

	mux := httpapi.NewMux(a.registry, a.coordinator, a.entities, a.cfg.SerialNumber)
	srv := httpapi.NewServer(a.cfg.HTTPAddr, mux)

	g.Go(func() error {
		a.logger.Info("http listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.coordinator.Run(ctx, a.cfg.PollInterval)
		return nil
	})

	return g.Wait()
}

func (a *App) newPublisher() (*homeassistant.Publisher, mqtt.Client) {
	haCfg := homeassistant.Config{
		DiscoveryPrefix: a.cfg.HomeAssistant.DiscoveryPrefix,
		BaseTopic:       a.cfg.HomeAssistant.BaseTopic,
		DeviceID:        a.cfg.HomeAssistant.DeviceID,
		DeviceName:      a.cfg.HomeAssistant.DeviceName,
		Manufacturer:    "SolaX Power",
		Model:           "SolaX Cloud",
	}

	var publisher *homeassistant.Publisher
	client := homeassistant.NewClient(homeassistant.BrokerConfig{
		Broker:   a.cfg.MQTT.Broker,
		Port:     a.cfg.MQTT.Port,
		Username: a.cfg.MQTT.Username,
		Password: a.cfg.MQTT.Password,
		ClientID: a.cfg.MQTT.ClientID,
	}, haCfg.AvailabilityTopic(), a.logger, func() {
		// Home Assistant may have restarted while we were away, and a
		// refresh may have finished before the connection was up
		go publisher.Reconnected()
	})
	publisher = homeassistant.NewPublisher(client, haCfg, a.entities, a.logger)
	return publisher, client
}

// RunOnce performs a single refresh and writes every resolved value to w
// as JSON
func (a *App) RunOnce(ctx context.Context, w io.Writer) error {
	if err := a.coordinator.Refresh(ctx); err != nil {
		return err
	}

	snap := a.coordinator.Current()
	values := make(map[string]any, len(a.entities))
	for _, e := range a.entities {
		values[e.Key()] = e.Value(snap)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(values)
}
