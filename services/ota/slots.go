package ota

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"

	"foxco2-go/errcode"
	"foxco2-go/types"
)

// BlockDevice is erase-before-write storage. machine.Flash satisfies it on
// RP2; host builds use a file.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	WriteBlockSize() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// SlotStore is the two-slot image store the agent writes into.
type SlotStore interface {
	Running() (types.Slot, types.SlotState)
	BeginCandidate() (Candidate, error)
	MarkValid() error
}

// Candidate receives an image for the inactive slot. Nothing about the
// running slot changes until Commit succeeds.
type Candidate interface {
	io.Writer
	Commit() error
	Abort() error
}

// MaxBootTries is how many unconfirmed boots a PendingVerify slot gets
// before it is rolled back at open.
const MaxBootTries = 3

const recordLen = 16

var recordMagic = [4]byte{'F', 'X', 'O', '1'}

// record lives at offset 0 of the first erase block:
//
//	0..3   magic
//	4      active slot
//	5      state of the active slot
//	6      unconfirmed boot count
//	7      reserved
//	8..15  image length of slot A, slot B (little endian)
type record struct {
	active types.Slot
	state  types.SlotState
	tries  uint8
	length [2]uint32
}

func (r record) encode(dst []byte) {
	copy(dst[0:4], recordMagic[:])
	dst[4] = byte(r.active)
	dst[5] = byte(r.state)
	dst[6] = r.tries
	dst[7] = 0
	binary.LittleEndian.PutUint32(dst[8:12], r.length[0])
	binary.LittleEndian.PutUint32(dst[12:16], r.length[1])
}

func decodeRecord(b []byte) (record, error) {
	const op = "ota.slots"
	if !bytes.Equal(b[0:4], recordMagic[:]) {
		return record{}, errcode.New(errcode.Unrecoverable, op, "slot record corrupt")
	}
	r := record{
		active: types.Slot(b[4]),
		state:  types.SlotState(b[5]),
		tries:  b[6],
		length: [2]uint32{binary.LittleEndian.Uint32(b[8:12]), binary.LittleEndian.Uint32(b[12:16])},
	}
	if r.active > types.SlotB || r.state > types.SlotInvalid {
		return record{}, errcode.New(errcode.Unrecoverable, op, "slot record out of range")
	}
	return r, nil
}

// SlotInfo is a snapshot of the record for diagnostics.
type SlotInfo struct {
	Active types.Slot
	State  types.SlotState
	Tries  uint8
	Length [2]uint32
}

// BlockSlots keeps two image slots and a record block on a BlockDevice.
type BlockSlots struct {
	dev      BlockDevice
	log      *slog.Logger
	eb, wb   int64
	slotSize int64

	mu   sync.Mutex
	rec  record
	busy bool
}

// OpenBlockSlots reads or initialises the record. An erased device gets a
// fresh record with slot A valid; anything else unreadable is
// unrecoverable. A pending slot that has used up its boot tries is rolled
// back to the other slot.
func OpenBlockSlots(dev BlockDevice, log *slog.Logger) (*BlockSlots, error) {
	const op = "ota.slots"
	if log == nil {
		log = slog.Default()
	}
	eb, wb := dev.EraseBlockSize(), dev.WriteBlockSize()
	if eb <= 0 || wb <= 0 || eb%wb != 0 {
		return nil, errcode.New(errcode.Unrecoverable, op, "bad block geometry")
	}
	slotSize := (dev.Size() - eb) / 2 / eb * eb
	if slotSize < eb {
		return nil, errcode.New(errcode.Unrecoverable, op, "device too small for two slots")
	}
	s := &BlockSlots{dev: dev, log: log, eb: eb, wb: wb, slotSize: slotSize}

	buf := make([]byte, recordLen)
	if _, err := dev.ReadAt(buf, 0); err != nil {
		return nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	if bytes.Count(buf, []byte{0xFF}) == recordLen {
		s.rec = record{active: types.SlotA, state: types.SlotValid}
		log.Info("ota:slots-init")
		if err := s.writeRecord(); err != nil {
			return nil, err
		}
		return s, nil
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		return nil, err
	}
	s.rec = rec

	if rec.state == types.SlotPendingVerify {
		s.rec.tries++
		if s.rec.tries > MaxBootTries && s.rec.length[rec.active.Other()] > 0 {
			log.Warn("ota:rollback",
				slog.String("from", rec.active.String()),
				slog.String("to", rec.active.Other().String()))
			s.rec.active = rec.active.Other()
			s.rec.state = types.SlotValid
			s.rec.tries = 0
		}
		if err := s.writeRecord(); err != nil {
			return nil, err
		}
	}
	log.Info("ota:slots-open",
		slog.String("active", s.rec.active.String()),
		slog.String("state", s.rec.state.String()),
		slog.Int("tries", int(s.rec.tries)))
	return s, nil
}

// SlotSize is the capacity of each slot in bytes.
func (s *BlockSlots) SlotSize() int64 { return s.slotSize }

func (s *BlockSlots) Running() (types.Slot, types.SlotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.active, s.rec.state
}

func (s *BlockSlots) Info() SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotInfo{Active: s.rec.active, State: s.rec.state, Tries: s.rec.tries, Length: s.rec.length}
}

// MarkValid confirms the running slot. Idempotent.
func (s *BlockSlots) MarkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.state == types.SlotValid {
		return nil
	}
	s.rec.state = types.SlotValid
	s.rec.tries = 0
	return s.writeRecord()
}

// Image returns a reader over the committed image in slot.
func (s *BlockSlots) Image(slot types.Slot) io.Reader {
	s.mu.Lock()
	n := int64(s.rec.length[slot])
	s.mu.Unlock()
	return io.NewSectionReader(s.dev, s.base(slot), n)
}

// BeginCandidate opens the inactive slot for writing. Only one candidate
// may be open at a time.
func (s *BlockSlots) BeginCandidate() (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, errcode.New(errcode.Busy, "ota.slots", "candidate already open")
	}
	slot := s.rec.active.Other()
	// The old image there is about to be overwritten; never roll back to it.
	s.rec.length[slot] = 0
	if err := s.writeRecord(); err != nil {
		return nil, err
	}
	s.busy = true
	return &blockCandidate{s: s, slot: slot, base: s.base(slot)}, nil
}

func (s *BlockSlots) base(slot types.Slot) int64 { return s.eb + int64(slot)*s.slotSize }

// writeRecord persists s.rec. Caller holds s.mu or owns s exclusively.
func (s *BlockSlots) writeRecord() error {
	n := s.wb
	if n < recordLen {
		n = (recordLen + s.wb - 1) / s.wb * s.wb
	}
	buf := bytes.Repeat([]byte{0xFF}, int(n))
	s.rec.encode(buf)
	if err := s.dev.EraseBlocks(0, 1); err != nil {
		return errcode.Wrap(errcode.Unrecoverable, "ota.slots", err)
	}
	if _, err := s.dev.WriteAt(buf, 0); err != nil {
		return errcode.Wrap(errcode.Unrecoverable, "ota.slots", err)
	}
	return nil
}

type blockCandidate struct {
	s       *BlockSlots
	slot    types.Slot
	base    int64
	off     int64 // bytes flushed
	erased  int64 // bytes erased from base
	pending []byte
	done    bool
}

func (c *blockCandidate) Write(p []byte) (int, error) {
	if c.done {
		return 0, errcode.New(errcode.UpdateFailed, "ota.write", "candidate closed")
	}
	if c.off+int64(len(c.pending))+int64(len(p)) > c.s.slotSize {
		return 0, errcode.New(errcode.UpdateFailed, "ota.write", "image too large")
	}
	c.pending = append(c.pending, p...)
	wb := int(c.s.wb)
	for len(c.pending) >= wb {
		if err := c.flush(c.pending[:wb]); err != nil {
			return 0, err
		}
		c.pending = c.pending[wb:]
	}
	return len(p), nil
}

func (c *blockCandidate) flush(chunk []byte) error {
	for c.off+int64(len(chunk)) > c.erased {
		if err := c.s.dev.EraseBlocks((c.base+c.erased)/c.s.eb, 1); err != nil {
			return errcode.Wrap(errcode.UpdateFailed, "ota.erase", err)
		}
		c.erased += c.s.eb
	}
	if _, err := c.s.dev.WriteAt(chunk, c.base+c.off); err != nil {
		return errcode.Wrap(errcode.UpdateFailed, "ota.write", err)
	}
	c.off += int64(len(chunk))
	return nil
}

// Commit flushes the tail, then switches the record to the new slot in
// PendingVerify.
func (c *blockCandidate) Commit() error {
	if c.done {
		return nil
	}
	c.done = true
	defer c.release()

	size := c.off + int64(len(c.pending))
	if len(c.pending) > 0 {
		tail := bytes.Repeat([]byte{0xFF}, int(c.s.wb))
		copy(tail, c.pending)
		if err := c.flush(tail); err != nil {
			return err
		}
		c.pending = nil
	}
	if size == 0 {
		return errcode.New(errcode.UpdateFailed, "ota.commit", "empty image")
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	prev := c.s.rec
	c.s.rec.length[c.slot] = uint32(size)
	c.s.rec.active = c.slot
	c.s.rec.state = types.SlotPendingVerify
	c.s.rec.tries = 0
	if err := c.s.writeRecord(); err != nil {
		c.s.rec = prev
		return errcode.Wrap(errcode.UpdateFailed, "ota.commit", err)
	}
	c.s.log.Info("ota:committed",
		slog.String("slot", c.slot.String()),
		slog.Int64("bytes", size))
	return nil
}

// Abort drops the candidate. The running slot is untouched.
func (c *blockCandidate) Abort() error {
	if c.done {
		return nil
	}
	c.done = true
	c.pending = nil
	c.release()
	return nil
}

func (c *blockCandidate) release() {
	c.s.mu.Lock()
	c.s.busy = false
	c.s.mu.Unlock()
}
