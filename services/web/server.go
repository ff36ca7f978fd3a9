// Package web serves the measurement page, the JSON endpoint, the firmware
// update form target, a live websocket feed and, on host builds, metrics.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"foxco2-go/bus"
	"foxco2-go/errcode"
	"foxco2-go/services/metrics"
	"foxco2-go/services/ota"
	"foxco2-go/types"
)

// Source yields the latest stored measurement.
type Source interface {
	Load() types.Measurement
}

// Updater handles firmware update requests (ota.Agent).
type Updater interface {
	Handle(ctx context.Context, body []byte, declared int) error
	ScheduleRestart()
}

type Config struct {
	Name    string
	Version string
	// StaleAfter turns older values into placeholders. Default 300 s.
	StaleAfter time.Duration
	// MaxConns bounds open HTTP connections. Default 7.
	MaxConns int
	// MaxLive bounds websocket clients. Default 2.
	MaxLive int
	// BodyTimeout bounds reading an update form. A client that announces
	// more than it sends is answered once it runs out. Default 10 s.
	BodyTimeout time.Duration
}

type Server struct {
	cfg     Config
	src     Source
	agent   Updater
	log     *slog.Logger
	metrics metrics.Recorder
	promh   http.Handler
	pool    *connPool
	feed    *feed
	now     func() time.Time
}

// New builds the server. b feeds /ws and may be nil; promh is mounted on
// /metrics when non-nil.
func New(cfg Config, src Source, agent Updater, b *bus.Bus, promh http.Handler, log *slog.Logger, rec metrics.Recorder) *Server {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 300 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "FoxCO2"
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		src:     src,
		agent:   agent,
		log:     log,
		metrics: metrics.OrNop(rec),
		promh:   promh,
		pool:    newConnPool(cfg.MaxConns, rec),
		now:     time.Now,
	}
	if b != nil {
		s.feed = newFeed(b, cfg.MaxLive, cfg.StaleAfter, log)
	}
	return s
}

// Router returns the routed handler without access logging.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handlePage).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/json", s.handleJSON).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/firmwareupdate", s.handleUpdate).Methods(http.MethodPost)
	if s.promh != nil {
		r.Handle("/metrics", s.promh).Methods(http.MethodGet)
	}
	if s.feed != nil {
		r.HandleFunc("/ws", s.feed.serve).Methods(http.MethodGet)
	}
	return r
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           handlers.LoggingHandler(accessLog{s.log}, s.Router()),
		ConnState:         s.pool.track,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.log.Info("http:listen", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errcode.Wrap(errcode.Transport, "web.serve", err)
	}
	return nil
}

func (s *Server) view() View {
	return Render(s.src.Load(), s.now(), s.cfg.StaleAfter)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, pageData{
		Name:         s.cfg.Name,
		Version:      s.cfg.Version,
		View:         s.view(),
		Placeholders: View{CO2: PlaceholderCO2, Temp: PlaceholderTemp, Hum: PlaceholderHum},
		RefreshMS:    30000,
	})
	if err != nil {
		s.log.Error("http:render", slog.String("err", err.Error()))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=29")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=29")
	if err := json.NewEncoder(w).Encode(s.view()); err != nil {
		s.log.Debug("http:json", slog.String("err", err.Error()))
	}
}

// handleUpdate answers first and restarts afterwards, so the client sees
// the result before the device goes away.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	// Also bounds the drain net/http runs on an unread body before replying.
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(s.cfg.BodyTimeout)); err != nil {
		s.log.Debug("http:read-deadline", slog.String("err", err.Error()))
	}

	declared := int(r.ContentLength)
	var body []byte
	if declared <= ota.MaxRequestSize {
		// Never buffer past the bound; one extra byte detects overflow. A
		// short body is kept as read and rejected as incomplete.
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, ota.MaxRequestSize+1))
		if err != nil {
			s.log.Debug("http:short-body",
				slog.Int("declared", declared),
				slog.Int("read", len(body)),
				slog.String("err", err.Error()))
		}
	}

	if s.agent == nil {
		writeStatus(w, http.StatusServiceUnavailable, "updates disabled")
		return
	}
	// The download outlives a client that hangs up.
	err := s.agent.Handle(context.WithoutCancel(r.Context()), body, declared)
	if err != nil {
		code := errcode.Of(err)
		writeStatus(w, errcode.HTTPStatus(code), "update failed: "+errcode.Message(err))
		return
	}
	writeStatus(w, http.StatusOK, "update installed, restarting")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.agent.ScheduleRestart()
}

func writeStatus(w http.ResponseWriter, status int, line string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, line+"\n")
}

// accessLog adapts gorilla's combined log lines to slog.
type accessLog struct{ log *slog.Logger }

func (a accessLog) Write(p []byte) (int, error) {
	a.log.Debug("http:access", slog.String("line", string(bytes.TrimRight(p, "\n"))))
	return len(p), nil
}
