package sound

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

// MP3Decoder decodes MPEG audio. Output is always 16-bit stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(chunk []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrDecode, err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrDecode, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: mp3: no audio frames", ErrDecode)
	}
	samples, err := decodePCM16LE(pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrDecode, err)
	}
	return &Buffer{SampleRate: d.SampleRate(), Channels: 2, Samples: samples}, nil
}

// WAVDecoder decodes RIFF/WAVE chunks carrying 16-bit integer PCM.
type WAVDecoder struct{}

func (WAVDecoder) Decode(chunk []byte) (*Buffer, error) {
	r := wav.NewReader(bytes.NewReader(chunk))
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("%w: wav: %w", ErrDecode, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: wav: unsupported encoding %d/%d bits",
			ErrDecode, format.AudioFormat, format.BitsPerSample)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: wav: empty format", ErrDecode)
	}

	var pcm []byte
	tmp := make([]byte, 8192)
	for {
		n, err := r.Read(tmp)
		pcm = append(pcm, tmp[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: wav: %w", ErrDecode, err)
		}
	}

	samples, err := decodePCM16LE(pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: wav: %w", ErrDecode, err)
	}
	return &Buffer{
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
		Samples:    samples,
	}, nil
}

// AutoDecoder picks a decoder from the chunk's leading bytes.
type AutoDecoder struct {
	MP3 MP3Decoder
	WAV WAVDecoder
}

func (a AutoDecoder) Decode(chunk []byte) (*Buffer, error) {
	switch {
	case isWAV(chunk):
		return a.WAV.Decode(chunk)
	case isMP3(chunk):
		return a.MP3.Decode(chunk)
	default:
		return nil, fmt.Errorf("%w: unrecognized format (%d bytes)", ErrDecode, len(chunk))
	}
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// isMP3 accepts an ID3v2 tag or a bare MPEG frame sync.
func isMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

func decodePCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd pcm length %d", len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples, nil
}
