//go:build !rp2040 && !rp2350

package platform

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"foxco2-go/errcode"
)

// FileDevice is a flash-like block device backed by a file, used for the
// firmware slots on host builds. Erased bytes read as 0xFF.
type FileDevice struct {
	f      *os.File
	size   int64
	eb, wb int64
}

// OpenFileDevice opens or creates path with the given geometry.
func OpenFileDevice(path string, size, eraseBlock, writeBlock int64) (*FileDevice, error) {
	const op = "platform.filedev"
	if size <= 0 || eraseBlock <= 0 || writeBlock <= 0 || size%eraseBlock != 0 || eraseBlock%writeBlock != 0 {
		return nil, errcode.New(errcode.Unrecoverable, op, "bad geometry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	d := &FileDevice{f: f, size: size, eb: eraseBlock, wb: writeBlock}
	if st.Size() < size {
		// Grow with erased bytes.
		pad := bytes.Repeat([]byte{0xFF}, int(size-st.Size()))
		if _, err := f.WriteAt(pad, st.Size()); err != nil {
			f.Close()
			return nil, errcode.Wrap(errcode.Unrecoverable, op, err)
		}
	}
	return d, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > d.size {
		return 0, io.EOF
	}
	return d.f.ReadAt(p, off)
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off%d.wb != 0 || int64(len(p))%d.wb != 0 {
		return 0, errors.New("filedev: unaligned write")
	}
	if off+int64(len(p)) > d.size {
		return 0, errors.New("filedev: write past end")
	}
	return d.f.WriteAt(p, off)
}

func (d *FileDevice) Size() int64           { return d.size }
func (d *FileDevice) WriteBlockSize() int64 { return d.wb }
func (d *FileDevice) EraseBlockSize() int64 { return d.eb }

func (d *FileDevice) EraseBlocks(start, length int64) error {
	if start < 0 || length < 0 || (start+length)*d.eb > d.size {
		return errors.New("filedev: erase out of range")
	}
	_, err := d.f.WriteAt(bytes.Repeat([]byte{0xFF}, int(length*d.eb)), start*d.eb)
	return err
}

func (d *FileDevice) Close() error { return d.f.Close() }
