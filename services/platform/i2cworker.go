package platform

import (
	"time"

	"tinygo.org/x/drivers"

	"foxco2-go/errcode"
)

// request posted to the per-bus worker
type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// I2CWorker serialises transactions for one bus on a single goroutine and
// bounds how long a caller waits, so a wedged bus costs a timeout instead
// of a hung poll loop.
type I2CWorker struct {
	hw      drivers.I2C
	timeout time.Duration // 0 => no deadline
	reqs    chan i2cReq
	quit    chan struct{}
}

var _ drivers.I2C = (*I2CWorker)(nil)

func NewI2CWorker(hw drivers.I2C, timeout time.Duration) *I2CWorker {
	w := &I2CWorker{
		hw:      hw,
		timeout: timeout,
		reqs:    make(chan i2cReq, 4),
		quit:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (o *I2CWorker) loop() {
	for {
		select {
		case req := <-o.reqs:
			err := o.hw.Tx(req.addr, req.w, req.r)
			// best-effort reply; do not block the worker
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

// Stop ends the worker goroutine.
func (o *I2CWorker) Stop() { close(o.quit) }

// Tx queues the transaction and waits for it. After a timeout the read
// buffer must not be reused until the worker has moved on; callers treat
// the result as garbage either way.
func (o *I2CWorker) Tx(addr uint16, w, r []byte) error {
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}

	if o.timeout <= 0 {
		o.reqs <- req
		return wrapTx(<-req.done)
	}

	t := time.NewTimer(o.timeout)
	defer t.Stop()
	select {
	case o.reqs <- req:
	case <-t.C:
		return errcode.Busy
	}
	select {
	case err := <-req.done:
		return wrapTx(err)
	case <-t.C:
		return errcode.Timeout
	}
}

func wrapTx(err error) error {
	if err == nil {
		return nil
	}
	return errcode.Wrap(errcode.Transport, "i2c.tx", err)
}
