package audio

import (
	"context"
	"encoding/binary"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the host refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists or it is busy.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Source acquires exclusive microphone input.
type Source interface {
	// Acquire opens the input device. The returned device is already
	// producing audio.
	Acquire(ctx context.Context) (Device, error)
}

// Device is an acquired microphone.
type Device interface {
	// Read blocks for one chunk interval and returns the audio captured in it.
	Read() ([]byte, error)

	// Close releases the device.
	Close() error
}

// EncodePCM16LE serializes 16-bit samples as little-endian PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
