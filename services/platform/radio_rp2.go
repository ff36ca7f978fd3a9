//go:build rp2040 || rp2350

package platform

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers/netdev"
	"tinygo.org/x/drivers/netlink"
	"tinygo.org/x/drivers/netlink/probe"

	"foxco2-go/services/netmon"
)

// netlinkRadio drives the on-board radio. NetConnect blocks until the link
// is up with an address, so each connect request runs on its own goroutine
// and reports back through the event sink.
type netlinkRadio struct {
	ssid, pass string

	mu   sync.Mutex
	link netlink.Netlinker
	dev  netdev.Netdever
	sink func(netmon.Event)

	connecting atomic.Bool
}

func newNetlinkRadio(ssid, pass string) *netlinkRadio {
	return &netlinkRadio{ssid: ssid, pass: pass}
}

func (r *netlinkRadio) Init(sink func(netmon.Event)) error {
	link, dev := probe.Probe()
	if link == nil || dev == nil {
		return errors.New("no wireless device")
	}
	r.mu.Lock()
	r.link, r.dev, r.sink = link, dev, sink
	r.mu.Unlock()
	link.NetNotify(r.notify)
	return nil
}

func (r *netlinkRadio) Start() error { return nil }

func (r *netlinkRadio) Connect() error {
	if r.ssid == "" {
		return netlink.ErrMissingSSID
	}
	if !r.connecting.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		defer r.connecting.Store(false)
		err := r.link.NetConnect(&netlink.ConnectParams{
			Ssid:           r.ssid,
			Passphrase:     r.pass,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			reason := netmon.ReasonNoAPFound
			if errors.Is(err, netlink.ErrAuthFailure) {
				reason = netmon.ReasonAuthFail
			}
			r.sink(netmon.Event{Kind: netmon.EventDisassociated, Reason: reason})
			return
		}
		r.sink(netmon.Event{Kind: netmon.EventAssociated})
		if addr, err := r.dev.Addr(); err == nil {
			r.sink(netmon.Event{Kind: netmon.EventGotAddress, Addr: addr})
		}
	}()
	return nil
}

func (r *netlinkRadio) notify(e netlink.Event) {
	if e == netlink.EventNetDown {
		r.sink(netmon.Event{Kind: netmon.EventDisassociated, Reason: netmon.ReasonBeaconTimeout})
	}
}

func (r *netlinkRadio) Stop() error {
	r.link.NetDisconnect()
	r.sink(netmon.Event{Kind: netmon.EventDisassociated, Reason: netmon.ReasonAssocLeave})
	return nil
}
