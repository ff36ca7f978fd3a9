package web

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"foxco2-go/bus"
	"foxco2-go/services/sensor"
	"foxco2-go/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// feed pushes every new measurement to websocket clients as a View.
type feed struct {
	bus        *bus.Bus
	log        *slog.Logger
	staleAfter time.Duration
	max        int32
	clients    atomic.Int32
	upgrader   websocket.Upgrader
}

func newFeed(b *bus.Bus, max int, staleAfter time.Duration, log *slog.Logger) *feed {
	if max <= 0 {
		max = 2
	}
	return &feed{
		bus:        b,
		log:        log,
		staleAfter: staleAfter,
		max:        int32(max),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 512,
		},
	}
}

func (f *feed) serve(w http.ResponseWriter, r *http.Request) {
	if f.clients.Add(1) > f.max {
		f.clients.Add(-1)
		http.Error(w, "too many live clients", http.StatusServiceUnavailable)
		return
	}
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.clients.Add(-1)
		f.log.Warn("http:ws-upgrade", slog.String("err", err.Error()))
		return
	}
	conn := f.bus.NewConnection("ws")
	sub := conn.Subscribe(sensor.TopicMeasurement)

	done := make(chan struct{})
	go f.readPump(ws, done)
	go func() {
		defer f.clients.Add(-1)
		defer conn.Disconnect()
		f.writePump(ws, sub, done)
	}()
}

// readPump discards client frames and notices closes.
func (f *feed) readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(wsPongWait)) })
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.log.Debug("http:ws-read", slog.String("err", err.Error()))
			}
			return
		}
	}
}

func (f *feed) writePump(ws *websocket.Conn, sub *bus.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			m, ok := msg.Payload.(types.Measurement)
			if !ok {
				continue
			}
			if err := ws.WriteJSON(Render(m, time.Now(), f.staleAfter)); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
