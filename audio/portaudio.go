package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/d1nch8g/convo/logging"
)

type Config struct {
	SampleRate    int
	Channels      int
	ChunkInterval time.Duration
}

// FramesPerChunk is the number of frames captured per chunk interval.
func (c Config) FramesPerChunk() int {
	n := int(int64(c.SampleRate) * int64(c.ChunkInterval) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n
}

func GetDefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		ChunkInterval: 100 * time.Millisecond,
	}
}

// PortaudioSource captures from the default input device. The stream's
// buffer holds exactly one chunk interval, so each blocking read yields
// one chunk.
type PortaudioSource struct {
	config Config
	logger *zap.Logger
}

var _ Source = (*PortaudioSource)(nil)

func NewPortaudioSource(config Config, logger *zap.Logger) *PortaudioSource {
	return &PortaudioSource{
		config: config,
		logger: logging.OrNop(logger),
	}
}

func (s *PortaudioSource) Initialize() error {
	return portaudio.Initialize()
}

func (s *PortaudioSource) Terminate() {
	portaudio.Terminate()
}

func (s *PortaudioSource) Acquire(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := s.config.FramesPerChunk()
	buffer := make([]int16, frames*s.config.Channels)

	stream, err := portaudio.OpenDefaultStream(
		s.config.Channels,
		0,
		float64(s.config.SampleRate),
		frames,
		buffer,
	)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classifyOpenError(err)
	}

	s.logger.Debug("capture device acquired",
		zap.Int("sample_rate", s.config.SampleRate),
		zap.Int("frames_per_chunk", frames),
	)
	return &portaudioDevice{stream: stream, buffer: buffer, logger: s.logger}, nil
}

// classifyOpenError maps portaudio failures onto the acquisition error
// kinds. PortAudio has no dedicated permission code; hosts report it in the
// error text.
func classifyOpenError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

type portaudioDevice struct {
	stream *portaudio.Stream
	buffer []int16
	logger *zap.Logger
}

func (d *portaudioDevice) Read() ([]byte, error) {
	if err := d.stream.Read(); err != nil {
		// An overflow still leaves a full buffer of valid audio.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
		d.logger.Debug("capture input overflowed")
	}
	return EncodePCM16LE(d.buffer), nil
}

func (d *portaudioDevice) Close() error {
	stopErr := d.stream.Stop()
	closeErr := d.stream.Close()
	return errors.Join(stopErr, closeErr)
}
