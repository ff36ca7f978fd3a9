// Command foxco2 is the CO2 monitor firmware: it polls an SCD30, keeps the
// wireless link up, serves the readings over HTTP and installs firmware
// updates into the inactive slot.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"foxco2-go/bus"
	"foxco2-go/drivers/scd30"
	"foxco2-go/errcode"
	"foxco2-go/services/config"
	"foxco2-go/services/console"
	"foxco2-go/services/heartbeat"
	"foxco2-go/services/netmon"
	"foxco2-go/services/ota"
	"foxco2-go/services/platform"
	"foxco2-go/services/sensor"
	"foxco2-go/services/telemetry"
	"foxco2-go/services/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := appContext()
	defer stop()

	opts := parseOptions()
	boot := uuid.NewString()

	cfg, err := config.Load(opts.device, readOverlay(opts.overlay))
	if err != nil {
		slog.Error("config:invalid", slog.String("err", err.Error()))
		os.Exit(1)
	}
	board, err := platform.Open(cfg)
	if err != nil {
		slog.Error("board:open-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer board.Close()

	level, _ := config.ParseLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(board.LogOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	log.Info("boot",
		slog.String("version", version),
		slog.String("device", opts.device),
		slog.String("boot", boot))

	fatal := func(what string, err error) {
		log.Error(what, slog.String("code", string(errcode.Of(err))), slog.String("err", err.Error()))
		time.Sleep(time.Second)
		board.Restart()
		os.Exit(1)
	}

	b := bus.NewBus(16)
	rec, promh := newMetrics()

	// Sensor: best-effort setup; a missing sensor only yields invalid reads.
	dev := scd30.New(board.I2C)
	dev.Configure(scd30.Config{Address: cfg.SensorAddr, Logger: log.With("svc", "scd30")})
	dev.Initialize(uint16(cfg.MeasureIntervalS))

	// Network: failure to prepare the radio is unrecoverable, failure to
	// get ready in time is not.
	mon := netmon.New(netmon.Config{}, board.Radio, b.NewConnection("netmon"), log.With("svc", "netmon"), rec)
	if err := mon.Prepare(); err != nil {
		fatal("wifi:prepare-failed", err)
	}
	go mon.Run(ctx)
	if err := mon.TurnOn(); err != nil {
		log.Error("wifi:turn-on-failed", slog.String("err", err.Error()))
	}
	readyTimeout := time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond
	if err := mon.WaitReady(ctx, readyTimeout); err != nil {
		log.Warn("wifi:offline", slog.String("err", err.Error()))
	}

	// Firmware slots: a corrupt record is unrecoverable.
	slots, err := ota.OpenBlockSlots(board.Flash, log.With("svc", "ota"))
	if err != nil {
		fatal("ota:slots-failed", err)
	}
	go func() {
		_ = ota.ConfirmBoot(ctx, slots, mon, time.Minute, log.With("svc", "ota"))
	}()

	fetcher, err := ota.NewHTTPFetcher(cfg.CACertPEM, time.Duration(cfg.UpdateTimeoutS)*time.Second, log.With("svc", "ota"))
	if err != nil {
		fatal("ota:fetcher-failed", err)
	}
	agent := ota.NewAgent(ota.AgentConfig{
		Secret:       cfg.UpdatePassword,
		Timeout:      time.Duration(cfg.UpdateTimeoutS) * time.Second,
		RestartDelay: time.Duration(cfg.RestartDelayMS) * time.Millisecond,
	}, fetcher, slots, board.Restart, log.With("svc", "ota"), rec)
	if cfg.UpdatePassword == "" {
		log.Warn("ota:locked", slog.String("reason", "no update_password provisioned"))
	}

	latest := sensor.NewLatest()
	poller := sensor.New(sensor.Config{
		Every: time.Duration(cfg.PollEveryS) * time.Second,
		Check: time.Duration(cfg.PollCheckS) * time.Second,
	}, dev, latest, b.NewConnection("sensor"), log.With("svc", "sensor"), rec)

	srv := web.New(web.Config{
		Name:       cfg.Name,
		Version:    version,
		StaleAfter: time.Duration(cfg.StaleAfterS) * time.Second,
		MaxConns:   cfg.MaxConns,
	}, latest, agent, b, promh, log.With("svc", "http"), rec)
	if ln, err := board.Listen(cfg.HTTPAddr); err != nil {
		log.Error("http:listen-failed", slog.String("addr", cfg.HTTPAddr), slog.String("err", err.Error()))
	} else {
		go func() {
			if err := srv.Serve(ctx, ln); err != nil {
				log.Error("http:serve-failed", slog.String("err", err.Error()))
			}
		}()
	}

	if cfg.MQTTBroker != "" {
		tlog := log.With("svc", "telemetry")
		client, err := telemetry.Dial(cfg.MQTTBroker, "foxco2-"+boot[:8], 10*time.Second, tlog)
		if err != nil {
			tlog.Warn("mqtt:dial-failed", slog.String("err", err.Error()))
		}
		tel := telemetry.New(telemetry.Config{Topic: cfg.MQTTTopic, Device: cfg.Name, BootID: boot}, client, tlog)
		go tel.Run(ctx, b.NewConnection("telemetry"))
	}

	config.NewConfigService().Start(context.WithValue(ctx, config.CtxDeviceKey, opts.device), b.NewConnection("config"), log)
	_ = heartbeat.New(time.Duration(cfg.HeartbeatS)*time.Second, log.With("svc", "heartbeat")).Start(ctx, b.NewConnection("heartbeat"))

	con := console.New(board.LogOut, log.With("svc", "console"))
	con.Version = version
	con.Sensor = dev
	con.Poller = poller
	con.Net = mon
	con.Slots = slots
	con.Restart = board.Restart
	go con.Run(ctx, board.Console)

	poller.Run(ctx)
	log.Info("shutdown")
}
