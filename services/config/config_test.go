// config/config_test.go
package config

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"foxco2-go/bus"
	"foxco2-go/errcode"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	// Override lookup for this test.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"region": {"code": "eu"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	svc.Start(ctx, conn, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Subscribe; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})

	got := map[string]any{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < 3 && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) != 2 || m.Topic[0] != configPrefix {
				t.Fatalf("unexpected topic: %#v", m.Topic)
			}
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 retained messages, got %d (%v)", len(got), got)
	}
	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if v, ok := got["debug"].(bool); !ok || !v {
		t.Fatalf("debug payload = %#v, want true", got["debug"])
	}
	if m, ok := got["region"].(map[string]any); !ok || m["code"] != "eu" {
		t.Fatalf("region payload = %#v", got["region"])
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	for _, dev := range []string{"picow", "linux", "sim"} {
		d, err := Load(dev, nil)
		if err != nil {
			t.Fatalf("%s: %v", dev, err)
		}
		if d.SensorAddr != 0x61 {
			t.Errorf("%s: sensor_addr = %#x", dev, d.SensorAddr)
		}
	}
	d, _ := Load("picow", nil)
	if d.MeasureIntervalS != 55 || d.PollEveryS != 60 || d.I2CBus != "i2c0" || d.StaleAfterS != 300 {
		t.Fatalf("picow = %+v", d)
	}
}

func TestLoadOverlay(t *testing.T) {
	overlay := []byte(`
wifi_ssid: fox-net
wifi_password: hunter2
update_password: s3cret
measure_interval_s: 5000
sensor_addr: 0x61
`)
	d, err := Load("linux", overlay)
	if err != nil {
		t.Fatal(err)
	}
	if d.WiFiSSID != "fox-net" || d.UpdatePassword != "s3cret" {
		t.Fatalf("overlay not applied: %+v", d)
	}
	if d.MeasureIntervalS != 1800 {
		t.Fatalf("interval = %d, want clamped 1800", d.MeasureIntervalS)
	}
	if d.I2CBus != "/dev/i2c-1" {
		t.Fatalf("embedded value lost: %q", d.I2CBus)
	}
}

func TestSecretsOverlayProvisionsPicoW(t *testing.T) {
	ov, err := Secrets{
		WiFiSSID:       "fox-net",
		WiFiPassword:   `pa:ss "word"`,
		UpdatePassword: "s3cret",
	}.Overlay()
	if err != nil {
		t.Fatal(err)
	}
	d, err := Load("picow", ov)
	if err != nil {
		t.Fatal(err)
	}
	if d.WiFiSSID != "fox-net" || d.WiFiPassword != `pa:ss "word"` || d.UpdatePassword != "s3cret" {
		t.Fatalf("secrets not applied: ssid=%q pw=%q update=%q", d.WiFiSSID, d.WiFiPassword, d.UpdatePassword)
	}
	if d.MQTTBroker != "" || d.I2CBus != "i2c0" {
		t.Fatalf("unset secret or embedded value disturbed: %+v", d)
	}

	none, err := Secrets{}.Overlay()
	if err != nil || none != nil {
		t.Fatalf("empty secrets = %q, %v", none, err)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := map[string][]byte{
		"bad yaml":      []byte("poll_every_s: [1"),
		"zero poll":     []byte("poll_every_s: 0"),
		"bad level":     []byte("log_level: loud"),
		"addr too high": []byte("sensor_addr: 200"),
	}
	for name, overlay := range tests {
		if _, err := Load("sim", overlay); errcode.Of(err) != errcode.Unrecoverable {
			t.Errorf("%s: code = %v, want unrecoverable", name, errcode.Of(err))
		}
	}
	if _, err := Load("nope", nil); errcode.Of(err) != errcode.Unrecoverable {
		t.Errorf("unknown device: code = %v", errcode.Of(err))
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("DEBUG"); err != nil || l != slog.LevelDebug {
		t.Fatalf("ParseLevel(DEBUG) = %v, %v", l, err)
	}
}
