//go:build !rp2040 && !rp2350

package platform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"foxco2-go/drivers/scd30"
	"foxco2-go/errcode"
	"foxco2-go/services/config"
	"foxco2-go/services/netmon"
	"foxco2-go/services/ota"
	"foxco2-go/types"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stuckBus struct{ release chan struct{} }

func (b stuckBus) Tx(addr uint16, w, r []byte) error {
	<-b.release
	return nil
}

type errBus struct{}

func (errBus) Tx(uint16, []byte, []byte) error { return errors.New("nak") }

func TestI2CWorkerTimesOut(t *testing.T) {
	b := stuckBus{release: make(chan struct{})}
	w := NewI2CWorker(b, 20*time.Millisecond)
	defer w.Stop()
	defer close(b.release)

	start := time.Now()
	err := w.Tx(0x61, []byte{0x03, 0x00}, nil)
	if errcode.Of(err) != errcode.Timeout {
		t.Fatalf("code = %v, want timeout", errcode.Of(err))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout not honoured")
	}
}

func TestI2CWorkerWrapsErrors(t *testing.T) {
	w := NewI2CWorker(errBus{}, 0)
	defer w.Stop()
	if err := w.Tx(0x61, []byte{1}, nil); errcode.Of(err) != errcode.Transport {
		t.Fatalf("code = %v, want transport", errcode.Of(err))
	}
}

func TestSimSCD30WithDriver(t *testing.T) {
	sim := NewSimSCD30()
	dev := scd30.New(NewI2CWorker(sim, time.Second))
	dev.Configure(scd30.Config{Logger: quiet()})
	dev.Initialize(55)

	if sim.Interval != 55 || !sim.ASC || !sim.Running {
		t.Fatalf("sim state = %+v", sim)
	}
	m := dev.Read()
	if !m.Valid || m.CO2 < 400 || m.CO2 > 900 {
		t.Fatalf("read = %+v", m)
	}
	if maj, mnr, err := dev.FirmwareVersion(); err != nil || maj != 3 || mnr != 0x42 {
		t.Fatalf("firmware = %d.%d, %v", maj, mnr, err)
	}
	dev.StopPeriodic()
	dev.StopPeriodic()
	if ready, err := dev.DataReady(); err != nil || ready {
		t.Fatalf("data ready after stop = %v, %v", ready, err)
	}
}

func TestSimSCD30Faults(t *testing.T) {
	sim := NewSimSCD30()
	dev := scd30.New(sim)
	dev.Configure(scd30.Config{Logger: quiet()})
	dev.Initialize(55)

	sim.Corrupt = true
	if m := dev.Read(); m.Valid || m.CO2 != types.InvalidCO2 {
		t.Fatalf("corrupt frame accepted: %+v", m)
	}
	sim.Corrupt = false
	sim.Detached = true
	if m := dev.Read(); m.Valid || m.Hum != types.InvalidHum {
		t.Fatalf("detached read = %+v", m)
	}
}

func TestFileDeviceBacksSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots", "slots.bin")
	dev, err := OpenFileDevice(path, 4096*5, 4096, 256)
	if err != nil {
		t.Fatal(err)
	}
	s, err := ota.OpenBlockSlots(dev, quiet())
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.BeginCandidate()
	if err != nil {
		t.Fatal(err)
	}
	img := bytes.Repeat([]byte{0x5A}, 5000)
	if _, err := c.Write(img); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	_ = dev.Close()

	// Survives reopening from disk.
	dev, err = OpenFileDevice(path, 4096*5, 4096, 256)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	s, err = ota.OpenBlockSlots(dev, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if slot, st := s.Running(); slot != types.SlotB || st != types.SlotPendingVerify {
		t.Fatalf("running = %v/%v", slot, st)
	}
	got, _ := io.ReadAll(s.Image(types.SlotB))
	if !bytes.Equal(got, img) {
		t.Fatal("image differs after reopen")
	}
}

func TestFileDeviceRejectsBadGeometry(t *testing.T) {
	if _, err := OpenFileDevice(filepath.Join(t.TempDir(), "x"), 1000, 4096, 256); err == nil {
		t.Fatal("expected geometry error")
	}
}

func TestSimRadioReachesReady(t *testing.T) {
	r := NewSimRadio()
	r.Delay = time.Millisecond
	m := netmon.New(netmon.Config{}, r, nil, quiet(), nil)
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	if err := m.TurnOn(); err != nil {
		t.Fatal(err)
	}
	if err := m.WaitReady(ctx, time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if st := m.Status(); st.State != types.NetConnected || st.Addr != "127.0.0.1" {
		t.Fatalf("status = %+v", st)
	}
}

func TestOpenSimBoard(t *testing.T) {
	d := config.Defaults()
	d.SlotDir = t.TempDir()
	b, err := Open(d)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, ok := b.I2C.(*SimSCD30); !ok {
		t.Fatalf("I2C = %T, want *SimSCD30", b.I2C)
	}
	if b.Flash.Size() != hostEraseBlock+2*hostSlotSize {
		t.Fatalf("flash size = %d", b.Flash.Size())
	}
}
