//go:build tinygo

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"foxco2-go/services/config"
	"foxco2-go/services/metrics"
	"foxco2-go/services/platform"
)

// Per-unit secrets, set at link time:
//
//	tinygo flash -target=pico-w -ldflags "-X main.wifiSSID=... -X main.wifiPassword=... -X main.updatePassword=..."
var (
	wifiSSID       string
	wifiPassword   string
	updatePassword string
	mqttBroker     string
)

type options struct {
	device  string
	overlay string
}

func parseOptions() options {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	return options{device: platform.DefaultDevice}
}

func readOverlay(string) []byte {
	ov, err := config.Secrets{
		WiFiSSID:       wifiSSID,
		WiFiPassword:   wifiPassword,
		UpdatePassword: updatePassword,
		MQTTBroker:     mqttBroker,
	}.Overlay()
	if err != nil {
		slog.Error("config:secrets-invalid", slog.String("err", err.Error()))
		return nil
	}
	if wifiSSID == "" {
		slog.Warn("config:unprovisioned", slog.String("missing", "wifiSSID"))
	}
	return ov
}

func appContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func newMetrics() (metrics.Recorder, http.Handler) { return metrics.Nop{}, nil }
