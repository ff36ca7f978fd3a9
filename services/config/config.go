// Package config resolves the per-device configuration: embedded defaults
// for the board, optionally overlaid by a YAML (or JSON) document.
package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"foxco2-go/bus"
	"foxco2-go/errcode"
	"foxco2-go/x/mathx"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Device is the typed configuration used at boot.
type Device struct {
	Name             string `yaml:"name"`
	MeasureIntervalS int    `yaml:"measure_interval_s"`
	PollEveryS       int    `yaml:"poll_every_s"`
	PollCheckS       int    `yaml:"poll_check_s"`
	I2CBus           string `yaml:"i2c_bus"`
	SensorAddr       uint16 `yaml:"sensor_addr"`
	WiFiSSID         string `yaml:"wifi_ssid"`
	WiFiPassword     string `yaml:"wifi_password"`
	ReadyTimeoutMS   int    `yaml:"ready_timeout_ms"`
	HTTPAddr         string `yaml:"http_addr"`
	MaxConns         int    `yaml:"max_conns"`
	UpdatePassword   string `yaml:"update_password"`
	UpdateTimeoutS   int    `yaml:"update_timeout_s"`
	RestartDelayMS   int    `yaml:"restart_delay_ms"`
	CACertPEM        string `yaml:"ca_cert_pem"`
	SlotDir          string `yaml:"slot_dir"`
	MQTTBroker       string `yaml:"mqtt_broker"`
	MQTTTopic        string `yaml:"mqtt_topic"`
	StaleAfterS      int    `yaml:"stale_after_s"`
	HeartbeatS       int    `yaml:"heartbeat_s"`
	LogLevel         string `yaml:"log_level"`
}

// Defaults returns the values used for any field a document leaves out.
func Defaults() Device {
	return Device{
		Name:             "FoxCO2",
		MeasureIntervalS: 55,
		PollEveryS:       60,
		PollCheckS:       20,
		I2CBus:           "sim",
		SensorAddr:       0x61,
		ReadyTimeoutMS:   5000,
		HTTPAddr:         ":80",
		MaxConns:         7,
		UpdateTimeoutS:   60,
		RestartDelayMS:   3000,
		SlotDir:          "slots",
		StaleAfterS:      300,
		HeartbeatS:       60,
		LogLevel:         "info",
	}
}

// Load resolves the embedded config for device and applies overlay (may be
// nil). The result is normalised and validated; failures are
// unrecoverable.
func Load(device string, overlay []byte) (Device, error) {
	const op = "config.load"
	d := Defaults()
	raw, ok := EmbeddedConfigLookup(device)
	if !ok {
		return Device{}, errcode.New(errcode.Unrecoverable, op, "no embedded config for device: "+device)
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Device{}, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	if len(overlay) > 0 {
		if err := yaml.Unmarshal(overlay, &d); err != nil {
			return Device{}, errcode.Wrap(errcode.Unrecoverable, op, err)
		}
	}
	d.MeasureIntervalS = mathx.Clamp(d.MeasureIntervalS, 2, 1800)
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Secrets are the per-unit values kept out of the embedded configs. Boards
// without a filesystem get them at link time and pass Overlay to Load.
type Secrets struct {
	WiFiSSID       string `yaml:"wifi_ssid,omitempty"`
	WiFiPassword   string `yaml:"wifi_password,omitempty"`
	UpdatePassword string `yaml:"update_password,omitempty"`
	MQTTBroker     string `yaml:"mqtt_broker,omitempty"`
}

// Overlay renders the non-empty secrets as a Load overlay. It returns nil
// when nothing was provisioned.
func (s Secrets) Overlay() ([]byte, error) {
	if s == (Secrets{}) {
		return nil, nil
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, errcode.Wrap(errcode.Unrecoverable, "config.secrets", err)
	}
	return b, nil
}

// Validate checks the fields that would otherwise fail later at runtime.
func (d Device) Validate() error {
	const op = "config.validate"
	switch {
	case d.PollEveryS <= 0 || d.PollCheckS <= 0:
		return errcode.New(errcode.Unrecoverable, op, "poll intervals must be positive")
	case d.ReadyTimeoutMS <= 0 || d.UpdateTimeoutS <= 0:
		return errcode.New(errcode.Unrecoverable, op, "timeouts must be positive")
	case d.StaleAfterS <= 0 || d.HeartbeatS <= 0:
		return errcode.New(errcode.Unrecoverable, op, "stale_after_s and heartbeat_s must be positive")
	case d.SensorAddr == 0 || d.SensorAddr > 0x7F:
		return errcode.New(errcode.Unrecoverable, op, "sensor_addr out of range")
	}
	if _, err := ParseLevel(d.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps log_level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, errcode.New(errcode.Unrecoverable, "config.validate", "unknown log_level "+s)
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig publishes each top-level key of the device's embedded
// config as a retained config/<key> message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("embedded config is not an object")
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			log.Warn("config:publish-failed", slog.String("err", err.Error()))
		}
	}()
}
