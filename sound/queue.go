package sound

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d1nch8g/convo/eventloop"
	"github.com/d1nch8g/convo/logging"
	"github.com/d1nch8g/convo/metrics"
	"github.com/d1nch8g/convo/queue"
)

// Queue plays inbound chunks back to back in arrival order. At most one
// chunk is decoded or played at a time. Its methods must be called from
// the dispatcher's goroutine.
type Queue struct {
	decoder  Decoder
	player   Player
	dispatch eventloop.Dispatcher
	logger   *zap.Logger
	metrics  *metrics.Metrics

	pending *queue.Queue[[]byte]
	playing bool
	epoch   uint64 // bumped by Clear; completions from older epochs are ignored
	cancel  context.CancelFunc
}

func NewQueue(decoder Decoder, player Player, dispatch eventloop.Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		decoder:  decoder,
		player:   player,
		dispatch: dispatch,
		logger:   logging.OrNop(logger),
		metrics:  m,
		pending:  queue.New[[]byte](),
	}
}

// Enqueue appends chunk and starts playback if nothing is playing.
func (q *Queue) Enqueue(chunk []byte) {
	q.pending.Enqueue(chunk)
	q.metrics.SetQueueDepth(q.pending.Len())
	if !q.playing {
		q.advance()
	}
}

// Clear drops every waiting chunk and abandons the one in flight.
func (q *Queue) Clear() {
	q.pending.Clear()
	q.epoch++
	q.playing = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.metrics.SetQueueDepth(0)
}

// Len returns the number of chunks waiting behind the one playing.
func (q *Queue) Len() int {
	return q.pending.Len()
}

func (q *Queue) Playing() bool {
	return q.playing
}

func (q *Queue) advance() {
	chunk, ok := q.pending.Dequeue()
	if !ok {
		q.playing = false
		return
	}
	q.metrics.SetQueueDepth(q.pending.Len())
	q.playing = true

	epoch := q.epoch
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	go func() {
		err := q.render(ctx, chunk)
		cancel()
		q.dispatch(func() {
			if epoch != q.epoch {
				return
			}
			q.cancel = nil
			q.done(err)
			q.advance()
		})
	}()
}

func (q *Queue) render(ctx context.Context, chunk []byte) error {
	buf, err := q.decoder.Decode(chunk)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = errors.Join(ErrDecode, err)
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.player.Play(ctx, buf)
}

func (q *Queue) done(err error) {
	switch {
	case err == nil:
		q.metrics.ChunkPlayed()
	case errors.Is(err, ErrDecode):
		q.metrics.DecodeError()
		q.logger.Warn("skipping undecodable chunk", zap.Error(err))
	default:
		q.logger.Warn("playback failed", zap.Error(err))
	}
}
