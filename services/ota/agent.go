// Package ota installs firmware images into the inactive slot. A request is
// validated, the image fetched and committed, the caller answered, and only
// then is a restart scheduled; the new slot boots PendingVerify and is
// confirmed by ConfirmBoot once the network is ready.
package ota

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"foxco2-go/errcode"
	"foxco2-go/services/metrics"
)

type AgentConfig struct {
	// Secret is the provisioned update password.
	Secret string
	// Timeout bounds the whole download. Default 60 s.
	Timeout time.Duration
	// RestartDelay lets the reply flush before restarting. Default 3 s.
	RestartDelay time.Duration
}

// Agent serialises update requests. It holds no lock shared with the
// sensor loop, so polling continues during a download.
type Agent struct {
	cfg     AgentConfig
	fetch   Fetcher
	slots   SlotStore
	restart func()
	log     *slog.Logger
	metrics metrics.Recorder

	busy      atomic.Bool
	restartMu sync.Mutex
	timer     *time.Timer
}

func NewAgent(cfg AgentConfig, fetch Fetcher, slots SlotStore, restart func(), log *slog.Logger, rec metrics.Recorder) *Agent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RestartDelay < 0 {
		cfg.RestartDelay = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:     cfg,
		fetch:   fetch,
		slots:   slots,
		restart: restart,
		log:     log,
		metrics: metrics.OrNop(rec),
	}
}

// Handle validates an encoded update form and, when it passes, installs
// the image. declared is the announced body length or -1. On success the
// caller must reply and then call ScheduleRestart.
func (a *Agent) Handle(ctx context.Context, body []byte, declared int) error {
	req, err := ParseRequest(body, declared, a.cfg.Secret)
	if err != nil {
		a.log.Warn("ota:rejected", slog.String("code", string(errcode.Of(err))), slog.String("err", errcode.Message(err)))
		a.metrics.Update(errcode.Of(err))
		return err
	}
	if !a.busy.CompareAndSwap(false, true) {
		a.metrics.Update(errcode.Busy)
		return errcode.New(errcode.Busy, "ota.handle", "update already in progress")
	}
	defer a.busy.Store(false)

	err = a.install(ctx, req.TargetURL)
	a.metrics.Update(errcode.Of(err))
	return err
}

func (a *Agent) install(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	running, _ := a.slots.Running()
	a.log.Info("ota:start", slog.String("running", running.String()))

	cand, err := a.slots.BeginCandidate()
	if err != nil {
		return asUpdateFailure(err)
	}
	n, err := a.fetch.Fetch(ctx, target, cand)
	if err != nil {
		_ = cand.Abort()
		a.log.Error("ota:fetch-failed", slog.String("err", err.Error()))
		return asUpdateFailure(err)
	}
	if err := cand.Commit(); err != nil {
		a.log.Error("ota:commit-failed", slog.String("err", err.Error()))
		return asUpdateFailure(err)
	}
	a.log.Info("ota:flashed", slog.Int64("bytes", n), slog.String("slot", running.Other().String()))
	return nil
}

// ScheduleRestart restarts the device after the configured delay. Repeated
// calls keep the first schedule.
func (a *Agent) ScheduleRestart() {
	a.restartMu.Lock()
	defer a.restartMu.Unlock()
	if a.timer != nil || a.restart == nil {
		return
	}
	a.log.Info("ota:restart-scheduled", slog.Duration("in", a.cfg.RestartDelay))
	a.timer = time.AfterFunc(a.cfg.RestartDelay, a.restart)
}

// Busy reports whether an update is running.
func (a *Agent) Busy() bool { return a.busy.Load() }

func asUpdateFailure(err error) error {
	switch errcode.Of(err) {
	case errcode.UpdateFailed, errcode.Busy:
		return err
	}
	return errcode.Wrap(errcode.UpdateFailed, "ota.install", err)
}
