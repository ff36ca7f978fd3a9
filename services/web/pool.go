package web

import (
	"container/list"
	"net"
	"net/http"
	"sync"

	"foxco2-go/services/metrics"
)

// connPool bounds open connections. When a new connection would exceed
// the limit, the least recently active one is closed instead of refusing
// the newcomer.
type connPool struct {
	max     int
	metrics metrics.Recorder

	mu    sync.Mutex
	order *list.List // front = least recently active
	elems map[net.Conn]*list.Element
}

func newConnPool(max int, rec metrics.Recorder) *connPool {
	if max <= 0 {
		max = 7
	}
	return &connPool{
		max:     max,
		metrics: metrics.OrNop(rec),
		order:   list.New(),
		elems:   make(map[net.Conn]*list.Element),
	}
}

// track is installed as http.Server.ConnState.
func (p *connPool) track(c net.Conn, st http.ConnState) {
	var evict net.Conn

	p.mu.Lock()
	switch st {
	case http.StateNew:
		p.elems[c] = p.order.PushBack(c)
		if p.order.Len() > p.max {
			front := p.order.Front()
			evict = front.Value.(net.Conn)
			p.order.Remove(front)
			delete(p.elems, evict)
		}
	case http.StateActive:
		if e, ok := p.elems[c]; ok {
			p.order.MoveToBack(e)
		}
	case http.StateClosed, http.StateHijacked:
		if e, ok := p.elems[c]; ok {
			p.order.Remove(e)
			delete(p.elems, c)
		}
	}
	n := p.order.Len()
	p.mu.Unlock()

	p.metrics.HTTPConns(n)
	if evict != nil {
		p.metrics.HTTPEvicted()
		_ = evict.Close()
	}
}

func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
