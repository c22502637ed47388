//go:build linux

package wayland

import (
	"encoding/binary"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRamp(t *testing.T) {
	r, err := NewRamp(4)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 4, r.Size())

	st, err := os.Stat("/proc/self/fd/" + strconv.Itoa(r.Fd()))
	if err == nil {
		assert.EqualValues(t, 4*3*2, st.Size())
	}

	table := []uint16{0, 1, 2, 3, 10, 11, 12, 13, 0xFFFF, 0xFFFE, 0xFFFD, 0xFFFC}
	require.NoError(t, r.Write(table))

	buf := make([]byte, len(table)*2)
	n, err := unix.Read(r.Fd(), buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	for i, v := range table {
		assert.Equal(t, v, binary.NativeEndian.Uint16(buf[i*2:]), "entry %d", i)
	}

	assert.Error(t, r.Write(table[:3]))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Error(t, r.Write(table))
}

func TestRampInvalidSize(t *testing.T) {
	_, err := NewRamp(0)
	assert.Error(t, err)
}
