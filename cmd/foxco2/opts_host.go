//go:build !tinygo

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"foxco2-go/services/metrics"
	"foxco2-go/services/platform"
)

type options struct {
	device  string
	overlay string
}

func parseOptions() options {
	var o options
	flag.StringVar(&o.device, "device", platform.DefaultDevice, "embedded config to use (picow, linux, sim)")
	flag.StringVar(&o.overlay, "config", "", "YAML or JSON file overlaid on the embedded config")
	flag.Parse()
	return o
}

func readOverlay(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		slog.Error("config:overlay-unreadable", slog.String("path", path), slog.String("err", err.Error()))
		os.Exit(1)
	}
	return b
}

func appContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newMetrics() (metrics.Recorder, http.Handler) {
	p := metrics.NewProm()
	return p, p.Handler()
}
