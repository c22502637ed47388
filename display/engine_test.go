package display

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pgaskin/gammad/colorramp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	mu        sync.Mutex
	uploads   [][]uint16
	destroyed int
	err       error
}

func (f *fakeControl) SetGamma(table []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed != 0 {
		panic("set gamma on destroyed control")
	}
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, slices.Clone(table))
	return nil
}

func (f *fakeControl) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
}

func (f *fakeControl) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeControl) Last() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploads) == 0 {
		return nil
	}
	return f.uploads[len(f.uploads)-1]
}

func ramp(size int, c colorramp.Color) []uint16 {
	table := make([]uint16, size*3)
	colorramp.Fill(table[:size], table[size:size*2], table[size*2:], c)
	return table
}

func drain(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestEngineRampSize(t *testing.T) {
	e := New(nil)
	ctl := &fakeControl{}
	e.AddOutput(1, ctl)

	// nothing can be uploaded until the ramp size is known
	require.NoError(t, e.Apply())
	assert.Equal(t, 0, ctl.Uploads())

	require.NoError(t, e.SetRampSize(1, 8))
	require.Equal(t, 1, ctl.Uploads())
	assert.Equal(t, ramp(8, colorramp.Default), ctl.Last())

	// already uploaded
	require.NoError(t, e.Apply())
	assert.Equal(t, 1, ctl.Uploads())

	// same size again
	require.NoError(t, e.SetRampSize(1, 8))
	assert.Equal(t, 1, ctl.Uploads())

	// a different size needs a new table
	require.NoError(t, e.SetRampSize(1, 16))
	require.Equal(t, 2, ctl.Uploads())
	assert.Equal(t, ramp(16, colorramp.Default), ctl.Last())
	assert.Equal(t, 16, e.Outputs()[0].RampSize)
	assert.False(t, e.Outputs()[0].Pending)

	// unknown outputs are ignored
	require.NoError(t, e.SetRampSize(2, 8))
}

func TestEngineApply(t *testing.T) {
	e := New(nil)
	a, b := &fakeControl{}, &fakeControl{}
	e.AddOutput(1, a)
	e.AddOutput(2, b)
	require.NoError(t, e.SetRampSize(1, 4))
	require.NoError(t, e.SetRampSize(2, 16))
	drain(e.Changed())

	e.SetTemperature(3000)
	assert.True(t, drain(e.Changed()))
	require.NoError(t, e.Apply())

	warm := colorramp.Default
	warm.Temperature = 3000
	assert.Equal(t, ramp(4, warm), a.Last())
	assert.Equal(t, ramp(16, warm), b.Last())
	assert.Equal(t, 2, a.Uploads())
	assert.Equal(t, 2, b.Uploads())

	for _, info := range e.Outputs() {
		assert.False(t, info.Pending)
		assert.Equal(t, warm, info.Color)
	}
}

func TestEngineApplyError(t *testing.T) {
	e := New(nil)
	ctl := &fakeControl{err: errors.New("no space left on device")}
	e.AddOutput(7, ctl)
	err := e.SetRampSize(7, 4)
	assert.ErrorIs(t, err, ctl.err)
	assert.ErrorContains(t, err, "output 7")
}

func TestEngineAggregateColor(t *testing.T) {
	e := New(nil)
	assert.Equal(t, colorramp.Default, e.Color())

	a := e.AddOutput(1, &fakeControl{})
	assert.Equal(t, colorramp.Default, a.Color())

	e.SetTemperature(4000)
	e.SetBrightness(0.5)

	// new outputs match the existing ones
	b := e.AddOutput(2, &fakeControl{})
	assert.Equal(t, colorramp.Color{Temperature: 4000, Brightness: 0.5, Gamma: 1}, b.Color())

	b.mu.Lock()
	b.color.Temperature = 6000
	b.color.Brightness = 1
	b.mu.Unlock()
	assert.Equal(t, colorramp.Color{Temperature: 5000, Brightness: 0.75, Gamma: 1}, e.Color())
}

func TestEngineRemoveOutput(t *testing.T) {
	e := New(nil)
	a, b := &fakeControl{}, &fakeControl{}
	e.AddOutput(1, a)
	e.AddOutput(2, b)
	require.NoError(t, e.SetRampSize(1, 4))
	require.NoError(t, e.SetRampSize(2, 4))

	e.RemoveOutput(1)
	e.RemoveOutput(1)  // already removed
	e.RemoveOutput(42) // never existed
	assert.Equal(t, 1, a.destroyed)
	assert.Equal(t, 0, b.destroyed)
	assert.Equal(t, 1, e.Len())

	e.SetTemperature(2000)
	require.NoError(t, e.Apply()) // would panic if it touched a
	assert.Equal(t, 1, a.Uploads())
	assert.Equal(t, 2, b.Uploads())
}

func TestEngineFailOutput(t *testing.T) {
	e := New(nil)
	a, b := &fakeControl{}, &fakeControl{}
	e.AddOutput(1, a)
	e.AddOutput(2, b)
	require.NoError(t, e.SetRampSize(2, 4))

	e.FailOutput(1)
	e.RemoveOutput(1) // e.g., global_remove after failed
	assert.Equal(t, 1, a.destroyed)
	require.Len(t, e.Outputs(), 1)
	assert.Equal(t, uint32(2), e.Outputs()[0].ID)

	e.ChangeToColor(colorramp.Color{Temperature: 3000, Brightness: 1, Gamma: 1}, 0)
	require.NoError(t, e.Apply())
	assert.Equal(t, 0, a.Uploads())
	assert.Equal(t, 2, b.Uploads())
}

func TestEngineAddOutputReplaces(t *testing.T) {
	e := New(nil)
	a, b := &fakeControl{}, &fakeControl{}
	e.AddOutput(1, a)
	e.AddOutput(1, b)
	assert.Equal(t, 1, a.destroyed)
	assert.Equal(t, 0, b.destroyed)
	assert.Equal(t, 1, e.Len())
}

func TestEngineOutputName(t *testing.T) {
	e := New(nil)
	e.AddOutput(3, &fakeControl{})
	e.SetOutputName(3, "DP-1")
	e.SetOutputName(4, "HDMI-A-1")
	require.Len(t, e.Outputs(), 1)
	assert.Equal(t, "DP-1", e.Outputs()[0].Name)
}

func TestEngineUpdate(t *testing.T) {
	e := New(nil)
	assert.False(t, e.UpdateTemperature(100)) // no outputs

	e.AddOutput(1, &fakeControl{})
	assert.True(t, e.UpdateTemperature(-500))
	assert.Equal(t, 6000, e.Color().Temperature)

	e.SetTemperature(colorramp.MaxTemperature)
	assert.False(t, e.UpdateTemperature(100))
	assert.Equal(t, colorramp.MaxTemperature, e.Color().Temperature)

	assert.False(t, e.UpdateBrightness(0.1))
	assert.True(t, e.UpdateBrightness(-0.25))
	assert.Equal(t, 0.75, e.Color().Brightness)
	assert.True(t, e.UpdateBrightness(-2))
	assert.Equal(t, 0.0, e.Color().Brightness)
}

func TestEngineClose(t *testing.T) {
	e := New(nil)
	a, b := &fakeControl{}, &fakeControl{}
	e.AddOutput(1, a)
	e.AddOutput(2, b)
	e.Close()
	assert.Equal(t, 1, a.destroyed)
	assert.Equal(t, 1, b.destroyed)
	assert.Equal(t, 0, e.Len())
}

func TestEngineConcurrentUpload(t *testing.T) {
	e := New(nil)
	ctls := make([]*fakeControl, 3)
	for i := range ctls {
		ctls[i] = &fakeControl{}
		e.AddOutput(uint32(i+1), ctls[i])
		require.NoError(t, e.SetRampSize(uint32(i+1), 32))
	}

	// like the connection goroutine
	var (
		stop = make(chan struct{})
		done = make(chan error)
	)
	go func() {
		for {
			select {
			case <-e.Changed():
				if err := e.Apply(); err != nil {
					done <- err
					return
				}
			case <-stop:
				done <- e.Apply()
				return
			}
		}
	}()

	target := colorramp.Color{Temperature: 3200, Brightness: 0.8, Gamma: 1}
	e.ChangeToColor(target, 0.1)
	time.Sleep(10 * time.Millisecond)
	close(stop)
	require.NoError(t, <-done)

	for _, ctl := range ctls {
		assert.Greater(t, ctl.Uploads(), 2)
		assert.Equal(t, ramp(32, target), ctl.Last())
	}
}
