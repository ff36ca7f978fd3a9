//go:build !tinygo

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foxco2-go/errcode"
	"foxco2-go/types"
)

// Prom exports the Recorder events as Prometheus series.
type Prom struct {
	reads      *prometheus.CounterVec
	netState   prometheus.Gauge
	reconnects prometheus.Counter
	updates    *prometheus.CounterVec
	conns      prometheus.Gauge
	evicted    prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewProm registers the collectors on a fresh registry.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxco2_sensor_reads_total",
			Help: "SCD30 read attempts by outcome.",
		}, []string{"valid"}),
		netState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foxco2_net_state",
			Help: "Connectivity state (0 disconnected, 1 connecting, 2 connected, 3 reconnect cooldown).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foxco2_net_reconnects_total",
			Help: "Reconnect requests issued to the radio.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foxco2_update_requests_total",
			Help: "Firmware update requests by result code.",
		}, []string{"result"}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foxco2_http_open_connections",
			Help: "Currently tracked HTTP connections.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foxco2_http_evicted_total",
			Help: "HTTP connections closed to make room for new ones.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(p.reads, p.netState, p.reconnects, p.updates, p.conns, p.evicted)
	return p
}

func (p *Prom) SensorRead(valid bool) {
	if valid {
		p.reads.WithLabelValues("true").Inc()
	} else {
		p.reads.WithLabelValues("false").Inc()
	}
}
func (p *Prom) NetState(s types.NetState) { p.netState.Set(float64(s)) }
func (p *Prom) Reconnect()                { p.reconnects.Inc() }
func (p *Prom) Update(c errcode.Code)     { p.updates.WithLabelValues(string(c)).Inc() }
func (p *Prom) HTTPConns(n int)           { p.conns.Set(float64(n)) }
func (p *Prom) HTTPEvicted()              { p.evicted.Inc() }

// Handler serves the registry in the text exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
