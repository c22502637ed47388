//go:build linux

package wayland

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ramp is an anonymous shared memory buffer holding a gamma table of three
// uint16 channels.
type Ramp struct {
	_    noCopy
	fd   int
	size int
}

// NewRamp allocates a buffer for size entries per channel.
func NewRamp(size int) (*Ramp, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid ramp size %d", size)
	}
	fd, err := unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if err != nil {
		// fall back to memfd if /dev/shm isn't usable
		if fd, err = unix.MemfdCreate("gamma-ramp", unix.MFD_CLOEXEC); err != nil {
			return nil, fmt.Errorf("allocate shared memory: %w", err)
		}
	}
	if err := unix.Ftruncate(fd, int64(size)*3*2); err != nil { // [3*size]uint16
		unix.Close(fd)
		return nil, fmt.Errorf("allocate shared memory: %w", err)
	}
	return &Ramp{fd: fd, size: size}, nil
}

// Size returns the number of entries per channel.
func (r *Ramp) Size() int {
	return r.size
}

// Write replaces the contents of the buffer with the red, green, and blue
// channels concatenated, and rewinds it.
func (r *Ramp) Write(table []uint16) error {
	if r.fd < 0 {
		return errors.New("ramp is closed")
	}
	if len(table) != r.size*3 {
		return fmt.Errorf("ramp has %d entries, expected %d", len(table), r.size*3)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(table))), len(table)*2)
	for off := 0; off < len(buf); {
		n, err := unix.Pwrite(r.fd, buf[off:], int64(off))
		if err != nil {
			return fmt.Errorf("write gamma ramp: %w", err)
		}
		off += n
	}
	if _, err := unix.Seek(r.fd, 0, unix.SEEK_SET); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// Fd returns the file descriptor to send with set_gamma. It remains owned by
// the Ramp.
func (r *Ramp) Fd() int {
	return r.fd
}

// Close frees the buffer.
func (r *Ramp) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
