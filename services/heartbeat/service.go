// Package heartbeat logs a periodic one-line device status.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"foxco2-go/bus"
	"foxco2-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat_s")
	topicMeasurement     = bus.T("sensor", "measurement")
	topicNetState        = bus.T("net", "state")
)

// Status is what one heartbeat line reports.
type Status struct {
	Uptime    time.Duration
	Net       types.NetStatus
	HaveValue bool
	Age       time.Duration
}

type Service struct {
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	start    time.Time
}

func New(interval time.Duration, log *slog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{interval: interval, log: log, now: time.Now}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	measSub := conn.Subscribe(topicMeasurement)
	netSub := conn.Subscribe(topicNetState)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(measSub)
	defer conn.Unsubscribe(netSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	var st Status
	var last time.Time

	// loop until context is cancelled, respond to tick, state and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat:stop")
			return
		case <-tick.C:
			now := s.now()
			st.Uptime = now.Sub(s.start)
			st.HaveValue = !last.IsZero()
			if st.HaveValue {
				st.Age = now.Sub(last)
			}
			s.emit(st)
		case msg := <-measSub.Channel():
			if m, ok := msg.Payload.(types.Measurement); ok && m.Valid {
				last = m.Time
			}
		case msg := <-netSub.Channel():
			if n, ok := msg.Payload.(types.NetStatus); ok {
				st.Net = n
			}
		case msg := <-cfgSub.Channel():
			if iv, ok := seconds(msg.Payload); ok {
				s.interval = iv
				tick.Reset(iv)
				s.log.Info("heartbeat:interval", slog.Duration("every", iv))
			}
		}
	}
}

func (s *Service) emit(st Status) {
	attrs := []any{
		slog.Duration("uptime", st.Uptime.Truncate(time.Second)),
		slog.String("net", st.Net.State.String()),
		slog.Bool("ready", st.Net.Ready),
	}
	if st.HaveValue {
		attrs = append(attrs, slog.Duration("value_age", st.Age.Truncate(time.Second)))
	} else {
		attrs = append(attrs, slog.String("value_age", "none"))
	}
	s.log.Info("heartbeat", attrs...)
}

// seconds accepts the numeric shapes a decoded config value can take.
func seconds(v any) (time.Duration, bool) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.start = s.now()
	go s.serviceLoop(ctx, conn)
	return nil
}
