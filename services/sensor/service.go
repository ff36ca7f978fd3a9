// Package sensor runs the periodic SCD30 poll and owns the shared latest
// measurement record.
package sensor

import (
	"context"
	"log/slog"
	"time"

	"foxco2-go/bus"
	"foxco2-go/services/metrics"
	"foxco2-go/types"
	"foxco2-go/x/conv"
)

// TopicMeasurement carries every valid measurement, retained.
var TopicMeasurement = bus.T("sensor", "measurement")

// Reader is the one-shot measurement source (scd30.Device).
type Reader interface {
	Read() types.Measurement
}

// Config holds the poll cadence.
type Config struct {
	// Every is the interval between reads. Default 60 s.
	Every time.Duration
	// Check is how often the loop wakes to test whether a read is due.
	// Default 20 s.
	Check time.Duration
}

// Service polls the sensor and publishes results.
type Service struct {
	cfg     Config
	dev     Reader
	latest  *Latest
	conn    *bus.Connection
	log     *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

func New(cfg Config, dev Reader, latest *Latest, conn *bus.Connection, log *slog.Logger, rec metrics.Recorder) *Service {
	if cfg.Every <= 0 {
		cfg.Every = 60 * time.Second
	}
	if cfg.Check <= 0 {
		cfg.Check = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		dev:     dev,
		latest:  latest,
		conn:    conn,
		log:     log,
		metrics: metrics.OrNop(rec),
		now:     time.Now,
	}
}

// Latest exposes the shared record.
func (s *Service) Latest() *Latest { return s.latest }

// Run blocks until ctx is cancelled. The first read happens once Every has
// elapsed since start, giving the sensor time to produce its first sample.
func (s *Service) Run(ctx context.Context) {
	tick := time.NewTicker(s.cfg.Check)
	defer tick.Stop()

	last := s.now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sensor:stopping")
			return
		case <-tick.C:
			now := s.now()
			if Due(last, now, s.cfg.Every) {
				last = now
				s.ReadNow()
			}
		}
	}
}

// Due reports whether a read is due. A clock that jumped backwards makes
// the read due immediately so polling can never stall on it.
func Due(last, now time.Time, every time.Duration) bool {
	return now.Before(last) || now.Sub(last) >= every
}

// ReadNow performs one read. Valid results replace the shared record and
// are published; invalid ones only get logged so readers keep the last
// good sample until it turns stale.
func (s *Service) ReadNow() types.Measurement {
	m := s.dev.Read()
	s.metrics.SensorRead(m.Valid)
	s.log.Info("sensor:read",
		slog.Bool("valid", m.Valid),
		slog.String("co2_raw", hex32(m.CO2Raw)),
		slog.Float64("co2", float64(m.CO2)),
		slog.String("temp_raw", hex32(m.TempRaw)),
		slog.Float64("temp", float64(m.Temp)),
		slog.String("hum_raw", hex32(m.HumRaw)),
		slog.Float64("hum", float64(m.Hum)),
	)
	if !m.Valid {
		return m
	}
	s.latest.Store(m)
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(TopicMeasurement, m, true))
	}
	return m
}

func hex32(v uint32) string {
	var b [10]byte
	b[0], b[1] = '0', 'x'
	conv.U32Hex(b[2:], v)
	return string(b[:])
}
