package live

import (
	"context"
	"sync"

	"github.com/MrWong99/heroai/pkg/audio"
)

// defaultOutboundDepth is roughly four seconds of 4096-sample frames at 16 kHz.
const defaultOutboundDepth = 16

// outbound is a bounded FIFO of captured frames between the capture pump and
// the sender. On overflow the oldest frame is dropped so that capture never
// blocks on the network.
type outbound struct {
	mu      sync.Mutex
	frames  []audio.AudioFrame
	depth   int
	dropped uint64
	closed  bool
	ready   chan struct{}
}

func newOutbound(depth int) *outbound {
	if depth <= 0 {
		depth = defaultOutboundDepth
	}
	return &outbound{
		frames: make([]audio.AudioFrame, 0, depth),
		depth:  depth,
		ready:  make(chan struct{}, 1),
	}
}

// push appends f. It reports whether an older frame had to be dropped and
// whether that was the first drop of the session.
func (q *outbound) push(f audio.AudioFrame) (dropped, first bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}
	if len(q.frames) == q.depth {
		q.frames = append(q.frames[:0], q.frames[1:]...)
		q.dropped++
		dropped = true
		first = q.dropped == 1
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, first
}

// pop blocks until a frame is available or ctx is done. ok is false once the
// queue is closed and drained, or ctx is cancelled.
func (q *outbound) pop(ctx context.Context) (f audio.AudioFrame, ok bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f = q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return audio.AudioFrame{}, false
		}

		select {
		case <-ctx.Done():
			return audio.AudioFrame{}, false
		case <-q.ready:
		}
	}
}

// close stops accepting frames. Queued frames can still be popped.
func (q *outbound) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dropped returns the number of frames discarded on overflow.
func (q *outbound) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *outbound) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
