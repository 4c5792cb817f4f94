// Package sound decodes inbound audio chunks and plays them back one at a
// time.
package sound

import (
	"context"
	"errors"
)

// ErrDecode wraps every failure to turn a chunk into a playable buffer.
var ErrDecode = errors.New("audio decode failed")

// Buffer is decoded, interleaved 16-bit PCM.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames in b.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Decoder turns an opaque audio chunk into a playable buffer.
type Decoder interface {
	Decode(chunk []byte) (*Buffer, error)
}

// Player defines the interface for audio playback
type Player interface {
	// Play renders buf and blocks until it has been played to the end or
	// ctx is cancelled, in which case it returns ctx.Err().
	Play(ctx context.Context, buf *Buffer) error
}
