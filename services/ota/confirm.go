package ota

import (
	"context"
	"log/slog"
	"time"

	"foxco2-go/types"
)

// ReadyWaiter is satisfied by the connectivity monitor.
type ReadyWaiter interface {
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// ConfirmBoot marks a PendingVerify slot valid once the network is ready.
// If readiness is not reached the slot stays pending and the boot-try
// counter eventually rolls it back.
func ConfirmBoot(ctx context.Context, slots SlotStore, ready ReadyWaiter, timeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	slot, state := slots.Running()
	if state != types.SlotPendingVerify {
		return nil
	}
	log.Info("ota:verify-wait", slog.String("slot", slot.String()), slog.Duration("timeout", timeout))
	if err := ready.WaitReady(ctx, timeout); err != nil {
		log.Warn("ota:verify-failed", slog.String("slot", slot.String()), slog.String("err", err.Error()))
		return err
	}
	if err := slots.MarkValid(); err != nil {
		log.Error("ota:mark-valid-failed", slog.String("err", err.Error()))
		return err
	}
	log.Info("ota:verified", slog.String("slot", slot.String()))
	return nil
}
