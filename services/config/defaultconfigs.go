package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device. Secrets are never embedded: host
// builds read them from the -config file, the MCU build links them in (see
// Secrets).
// -----------------------------------------------------------------------------

const cfgPicoW = `{
  "name": "FoxCO2",
  "measure_interval_s": 55,
  "poll_every_s": 60,
  "poll_check_s": 20,
  "i2c_bus": "i2c0",
  "sensor_addr": 97,
  "ready_timeout_ms": 5000,
  "http_addr": ":80",
  "max_conns": 7,
  "update_timeout_s": 60,
  "restart_delay_ms": 3000,
  "stale_after_s": 300,
  "heartbeat_s": 60,
  "log_level": "info"
}`

const cfgLinux = `{
  "name": "FoxCO2",
  "i2c_bus": "/dev/i2c-1",
  "http_addr": ":8080",
  "slot_dir": "/var/lib/foxco2",
  "heartbeat_s": 60
}`

const cfgSim = `{
  "name": "FoxCO2-sim",
  "i2c_bus": "sim",
  "poll_every_s": 10,
  "poll_check_s": 2,
  "http_addr": "127.0.0.1:8080",
  "slot_dir": "slots",
  "heartbeat_s": 30,
  "log_level": "debug"
}`

var embeddedConfigs = map[string][]byte{
	"picow": []byte(cfgPicoW),
	"linux": []byte(cfgLinux),
	"sim":   []byte(cfgSim),
}
