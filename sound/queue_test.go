package sound

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/d1nch8g/convo/eventloop"
	"github.com/d1nch8g/convo/metrics"
)

// chunk layout for the fakes: [id, corrupt, latency ms]
func testChunk(id int, corrupt bool, latency int) []byte {
	c := byte(0)
	if corrupt {
		c = 1
	}
	return []byte{byte(id), c, byte(latency)}
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(chunk []byte) (*Buffer, error) {
	if len(chunk) != 3 || chunk[1] == 1 {
		return nil, ErrDecode
	}
	return &Buffer{SampleRate: 16000, Channels: 1, Samples: []int16{int16(chunk[0]), int16(chunk[2])}}, nil
}

type fakePlayer struct {
	mu       sync.Mutex
	played   []int
	started  []int
	active   atomic.Int32
	overlaps atomic.Int32
}

func (p *fakePlayer) Play(ctx context.Context, buf *Buffer) error {
	if p.active.Add(1) > 1 {
		p.overlaps.Add(1)
	}
	defer p.active.Add(-1)

	id := int(buf.Samples[0])
	p.mu.Lock()
	p.started = append(p.started, id)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(buf.Samples[1]) * time.Millisecond):
	}

	p.mu.Lock()
	p.played = append(p.played, id)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) snapshot() (started, played []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.started...), append([]int(nil), p.played...)
}

func runLoop(tb testing.TB) *eventloop.Loop {
	l := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	tb.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func waitIdle(tb interface{ Fatalf(string, ...any) }, loop *eventloop.Loop, q *Queue) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var idle bool
		loop.Call(func() { idle = !q.Playing() && q.Len() == 0 })
		if idle {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("playback queue did not drain")
}

func TestQueuePlaysInArrivalOrder(t *testing.T) {
	loop := runLoop(t)
	player := &fakePlayer{}
	q := NewQueue(fakeDecoder{}, player, loop.Post, nil, nil)

	// Decreasing latency: a naive concurrent player would finish in reverse.
	loop.Call(func() {
		for i := 0; i < 5; i++ {
			q.Enqueue(testChunk(i, false, 10-2*i))
		}
		assert.True(t, q.Playing())
		assert.Equal(t, 4, q.Len())
	})
	waitIdle(t, loop, q)

	started, played := player.snapshot()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, started)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, played)
	assert.Zero(t, player.overlaps.Load())
}

func TestQueueSkipsUndecodableChunk(t *testing.T) {
	loop := runLoop(t)
	player := &fakePlayer{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := NewQueue(fakeDecoder{}, player, loop.Post, nil, m)

	loop.Call(func() {
		q.Enqueue(testChunk(1, false, 1))
		q.Enqueue(testChunk(2, true, 1))
		q.Enqueue([]byte("garbage"))
		q.Enqueue(testChunk(3, false, 1))
	})
	waitIdle(t, loop, q)

	_, played := player.snapshot()
	assert.Equal(t, []int{1, 3}, played)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksPlayed))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth))
}

func TestQueueClearStopsAdvancement(t *testing.T) {
	loop := runLoop(t)
	player := &fakePlayer{}
	q := NewQueue(fakeDecoder{}, player, loop.Post, nil, nil)

	loop.Call(func() {
		q.Enqueue(testChunk(1, false, 200))
		q.Enqueue(testChunk(2, false, 1))
		q.Enqueue(testChunk(3, false, 1))
	})
	require.Eventually(t, func() bool {
		started, _ := player.snapshot()
		return len(started) == 1
	}, time.Second, time.Millisecond)

	loop.Call(func() {
		q.Clear()
		assert.False(t, q.Playing())
		assert.Zero(t, q.Len())
	})
	time.Sleep(50 * time.Millisecond)

	started, played := player.snapshot()
	assert.Equal(t, []int{1}, started)
	assert.Empty(t, played, "in-flight playback is cancelled")

	// The queue stays usable after Clear.
	loop.Call(func() { q.Enqueue(testChunk(4, false, 1)) })
	waitIdle(t, loop, q)
	_, played = player.snapshot()
	assert.Equal(t, []int{4}, played)
}

type failingPlayer struct{ calls atomic.Int32 }

func (p *failingPlayer) Play(context.Context, *Buffer) error {
	p.calls.Add(1)
	return errors.New("output device gone")
}

func TestQueueAdvancesPastPlaybackFailure(t *testing.T) {
	loop := runLoop(t)
	player := &failingPlayer{}
	q := NewQueue(fakeDecoder{}, player, loop.Post, nil, nil)

	loop.Call(func() {
		for i := 0; i < 3; i++ {
			q.Enqueue(testChunk(i, false, 0))
		}
	})
	waitIdle(t, loop, q)
	assert.Equal(t, int32(3), player.calls.Load())
}

func TestQueueSequentialPlaybackProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		loop := eventloop.New()
		ctx, cancel := context.WithCancel(context.Background())
		go loop.Run(ctx)
		defer func() {
			cancel()
			<-loop.Done()
		}()
		player := &fakePlayer{}
		q := NewQueue(fakeDecoder{}, player, loop.Post, nil, nil)

		n := rapid.IntRange(0, 15).Draw(t, "n")
		var want []int
		chunks := make([][]byte, n)
		for i := range chunks {
			corrupt := rapid.Bool().Draw(t, "corrupt")
			latency := rapid.IntRange(0, 3).Draw(t, "latency")
			if !corrupt {
				want = append(want, i)
			}
			chunks[i] = testChunk(i, corrupt, latency)
		}
		loop.Call(func() {
			for _, c := range chunks {
				q.Enqueue(c)
			}
		})
		waitIdle(t, loop, q)

		started, played := player.snapshot()
		if player.overlaps.Load() != 0 {
			t.Fatalf("overlapping playback detected")
		}
		if len(played) != len(want) || len(started) != len(want) {
			t.Fatalf("played %v, want %v", played, want)
		}
		for i := range want {
			if played[i] != want[i] || started[i] != want[i] {
				t.Fatalf("played %v, want %v", played, want)
			}
		}
	})
}
