package playback

import (
	"log"
	"sync"

	"github.com/openscreen/voicecall/internal/capture"
)

// Sink plays one encoded frame to completion. Play blocks for roughly the
// frame's duration; the queue relies on that for pacing.
type Sink interface {
	Play(frame []byte) error
	Close() error
}

// Queue buffers inbound audio frames and drains them strictly in arrival
// order on a single playback goroutine, so at most one utterance plays at a
// time. The speaking signal is true exactly while the queue is non-empty and
// draining.
type Queue struct {
	sink     Sink
	onChange func(speaking bool)

	mu       sync.Mutex
	pending  []capture.Frame
	speaking bool
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

// NewQueue starts the drain loop. onChange is invoked with the queue's lock
// held, so transitions arrive in order; it may be nil and must not block or
// call back into the queue.
func NewQueue(sink Sink, onChange func(bool)) *Queue {
	q := &Queue{
		sink:     sink,
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.drain()
	return q
}

// Enqueue appends an inbound frame. The payload is copied; frames enqueued
// after Close are dropped.
func (q *Queue) Enqueue(frame capture.Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	buf := make([]byte, len(frame.Data))
	copy(buf, frame.Data)
	frame.Data = buf
	q.pending = append(q.pending, frame)
	q.mu.Unlock()
	q.signal()
}

// Interrupt models barge-in: it empties the queue and clears the speaking
// signal immediately so stale audio never plays late and the indicator never
// lags the interruption. The frame already handed to the sink finishes;
// nothing queued behind it survives.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.pending = q.pending[:0]
	q.setSpeakingLocked(false)
	q.mu.Unlock()
	q.signal()
}

// Speaking reports whether remote audio is currently being played.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Close stops the drain loop and closes the sink. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = q.pending[:0]
	q.mu.Unlock()
	q.signal()
	<-q.done
	if err := q.sink.Close(); err != nil {
		log.Printf("playback: sink close: %v", err)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// setSpeakingLocked flips the speaking signal and fires onChange. The caller
// must hold q.mu; the lock is what keeps transitions ordered.
func (q *Queue) setSpeakingLocked(on bool) {
	if q.speaking == on {
		return
	}
	q.speaking = on
	if q.onChange != nil {
		q.onChange(on)
	}
}

// drain is the single playback loop.
func (q *Queue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.setSpeakingLocked(false)
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.setSpeakingLocked(false)
			q.mu.Unlock()
			<-q.wake
			continue
		}
		frame := q.pending[0]
		q.pending = q.pending[1:]
		q.setSpeakingLocked(true)
		q.mu.Unlock()

		if err := q.sink.Play(frame.Data); err != nil {
			log.Printf("playback: play error: %v", err)
		}
	}
}
