package sound

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/d1nch8g/convo/logging"
)

// ErrPlayerTerminated is returned by Play after Terminate.
var ErrPlayerTerminated = errors.New("player terminated")

type PlayerConfig struct {
	FramesPerBuffer int
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		FramesPerBuffer: 1024,
	}
}

// outputStream is the part of *portaudio.Stream the player drives.
type outputStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// openFunc opens a blocking output stream that writes from out.
type openFunc func(rate, channels, framesPerBuffer int, out []int16) (outputStream, error)

func openPortaudio(rate, channels, framesPerBuffer int, out []int16) (outputStream, error) {
	return portaudio.OpenDefaultStream(0, channels, float64(rate), framesPerBuffer, out)
}

// PortaudioPlayer renders buffers on the default output device. It owns the
// process-wide portaudio context: Initialize once at startup, Terminate at
// shutdown. Play calls are serialized and share one running stream, so
// consecutive buffers of the same format play without a restart between
// them.
type PortaudioPlayer struct {
	config PlayerConfig
	logger *zap.Logger
	open   openFunc

	mu         sync.Mutex
	stream     outputStream
	out        []int16
	rate       int
	channels   int
	terminated bool
}

func NewPortaudioPlayer(config PlayerConfig, logger *zap.Logger) *PortaudioPlayer {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &PortaudioPlayer{
		config: config,
		logger: logging.OrNop(logger),
		open:   openPortaudio,
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

// Terminate waits for an in-flight Play, closes the output stream and tears
// down portaudio. Later Play calls fail with ErrPlayerTerminated.
func (p *PortaudioPlayer) Terminate() {
	p.shutdown()
	if err := portaudio.Terminate(); err != nil {
		p.logger.Warn("failed to terminate portaudio", zap.Error(err))
	}
}

func (p *PortaudioPlayer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.terminated = true
	if err := p.closeStream(); err != nil {
		p.logger.Warn("failed to close output stream", zap.Error(err))
	}
}

// Play writes buf in FramesPerBuffer blocks. Only the last block of a
// buffer is padded with silence.
func (p *PortaudioPlayer) Play(ctx context.Context, buf *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrPlayerTerminated
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ensureStream(buf.SampleRate, buf.Channels); err != nil {
		return err
	}

	block := len(p.out)
	for off := 0; off < len(buf.Samples); off += block {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.out, buf.Samples[off:])
		clear(p.out[n:])
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				p.logger.Debug("output underflow")
				continue
			}
			p.logger.Warn("output stream broken, reopening on next play", zap.Error(err))
			if cerr := p.closeStream(); cerr != nil {
				p.logger.Debug("failed to close output stream", zap.Error(cerr))
			}
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return ctx.Err()
}

// ensureStream keeps the running stream while the format is unchanged and
// reopens it otherwise.
func (p *PortaudioPlayer) ensureStream(rate, channels int) error {
	if rate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format %d Hz x %d", rate, channels)
	}
	if p.stream != nil && p.rate == rate && p.channels == channels {
		return nil
	}
	if err := p.closeStream(); err != nil {
		p.logger.Warn("failed to close output stream", zap.Error(err))
	}

	out := make([]int16, p.config.FramesPerBuffer*channels)
	stream, err := p.open(rate, channels, p.config.FramesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}
	p.stream, p.out, p.rate, p.channels = stream, out, rate, channels
	p.logger.Debug("output stream opened", zap.Int("sample_rate", rate), zap.Int("channels", channels))
	return nil
}

func (p *PortaudioPlayer) closeStream() error {
	if p.stream == nil {
		return nil
	}
	err := errors.Join(p.stream.Stop(), p.stream.Close())
	p.stream = nil
	return err
}
