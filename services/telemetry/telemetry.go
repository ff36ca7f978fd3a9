// Package telemetry forwards valid measurements to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"foxco2-go/bus"
	"foxco2-go/errcode"
	"foxco2-go/services/sensor"
	"foxco2-go/types"
)

// publisher is the part of mqtt.Client the service uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Config struct {
	Topic  string
	Device string
	BootID string
	// PublishTimeout bounds each broker round trip. Default 5 s.
	PublishTimeout time.Duration
}

// Reading is the JSON document sent per measurement.
type Reading struct {
	Device string  `json:"device"`
	Boot   string  `json:"boot"`
	TS     int64   `json:"ts"`
	CO2    float32 `json:"co2"`
	Temp   float32 `json:"temp"`
	Hum    float32 `json:"hum"`
}

type Service struct {
	cfg    Config
	client publisher
	log    *slog.Logger
}

// Dial connects to broker with auto-reconnect enabled. The first connect
// is bounded by timeout; failure is returned but the client keeps
// retrying in the background.
func Dial(broker, clientID string, timeout time.Duration, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(timeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("mqtt:connected", slog.String("broker", broker))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt:lost", slog.String("err", err.Error()))
		})
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return c, errcode.New(errcode.Timeout, "telemetry.dial", "broker connect timed out")
	}
	if err := tok.Error(); err != nil {
		return c, errcode.Wrap(errcode.Transport, "telemetry.dial", err)
	}
	return c, nil
}

func New(cfg Config, client publisher, log *slog.Logger) *Service {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = "foxco2/" + cfg.Device
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, client: client, log: log}
}

// Run forwards every measurement published on the bus until ctx ends.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(sensor.TopicMeasurement)
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			m, ok := msg.Payload.(types.Measurement)
			if !ok {
				continue
			}
			if err := s.Publish(m); err != nil {
				s.log.Warn("mqtt:publish-failed", slog.String("err", err.Error()))
			}
		}
	}
}

// Publish sends one measurement. Invalid measurements are skipped.
func (s *Service) Publish(m types.Measurement) error {
	if !m.Valid {
		return nil
	}
	payload, err := json.Marshal(Reading{
		Device: s.cfg.Device,
		Boot:   s.cfg.BootID,
		TS:     m.Time.Unix(),
		CO2:    m.CO2,
		Temp:   m.Temp,
		Hum:    m.Hum,
	})
	if err != nil {
		return errcode.Wrap(errcode.Error, "telemetry.publish", err)
	}
	tok := s.client.Publish(s.cfg.Topic, 0, false, payload)
	if !tok.WaitTimeout(s.cfg.PublishTimeout) {
		return errcode.New(errcode.Timeout, "telemetry.publish", "publish timed out")
	}
	if err := tok.Error(); err != nil {
		return errcode.Wrap(errcode.Transport, "telemetry.publish", err)
	}
	return nil
}
