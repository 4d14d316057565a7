package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
)

// Direction tags which way an audio frame is traveling.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Frame is an opaque, time-ordered chunk of encoded audio. Ownership transfers
// once enqueued; frames are never mutated after creation.
type Frame struct {
	Direction Direction
	Data      []byte
	Captured  time.Time
}

// Source is an exclusive microphone stream. Start begins delivery of PCM16
// mono sample buffers at the pipeline's sample rate; Close releases the
// underlying device and must be safe to call more than once.
type Source interface {
	Start(ctx context.Context) (<-chan []int16, error)
	Close() error
}

// Config sets the pipeline's audio format. The zero value is not usable; use
// DefaultConfig.
type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

// DefaultConfig is 48kHz mono with 20ms frames, matching the Opus VoIP
// profile used on the wire.
func DefaultConfig() Config {
	return Config{SampleRate: 48000, Channels: 1, FrameDuration: 20 * time.Millisecond}
}

func (c Config) frameSamples() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds() * float64(c.Channels))
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Pipeline runs the dedicated capture goroutine: it reads raw PCM from the
// source, accumulates full frames, Opus-encodes them and hands encoded frames
// outward over a channel. No buffer is shared across that boundary; every
// frame is a fresh copy.
type Pipeline struct {
	src Source
	cfg Config
	enc encoder

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	frames  chan Frame
}

func NewPipeline(src Source, cfg Config) (*Pipeline, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("capture: create encoder: %w", err)
	}
	return &Pipeline{src: src, cfg: cfg, enc: enc}, nil
}

// Start acquires the source and begins producing encoded frames. It may be
// called once per pipeline.
func (p *Pipeline) Start(ctx context.Context) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, fmt.Errorf("capture: pipeline already stopped")
	}
	if p.frames != nil {
		return nil, fmt.Errorf("capture: pipeline already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	pcm, err := p.src.Start(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	p.cancel = cancel
	p.frames = make(chan Frame, 64)
	go p.run(runCtx, pcm)
	return p.frames, nil
}

// Stop cancels capture and releases the source. It is idempotent and safe to
// call from any state, including before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := p.src.Close(); err != nil {
		log.Printf("capture: source close: %v", err)
	}
}

func (p *Pipeline) run(ctx context.Context, pcm <-chan []int16) {
	defer close(p.frames)

	frameSamples := p.cfg.frameSamples()
	buf := make([]int16, 0, frameSamples*4)
	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-pcm:
			if !ok {
				return
			}
			buf = append(buf, samples...)
			for len(buf) >= frameSamples {
				n, err := p.enc.Encode(buf[:frameSamples], opusBuf)
				if err != nil {
					log.Printf("capture: encode error: %v", err)
				} else if n > 0 {
					pkt := make([]byte, n)
					copy(pkt, opusBuf[:n])
					frame := Frame{Direction: DirectionOutbound, Data: pkt, Captured: time.Now()}
					select {
					case p.frames <- frame:
					default:
						// Downstream is stalled; drop rather than let the
						// capture thread fall behind real time.
						log.Println("capture: frame buffer full, dropping frame")
					}
				}
				copy(buf, buf[frameSamples:])
				buf = buf[:len(buf)-frameSamples]
			}
		}
	}
}
