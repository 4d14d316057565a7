package audiodev

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// DeviceProber probes the default OS input device through portaudio.
type DeviceProber struct{}

func (DeviceProber) Probe(ctx context.Context) (PermissionState, error) {
	if err := portaudio.Initialize(); err != nil {
		return PermissionUnsupported, fmt.Errorf("audiodev: initialize: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return PermissionUnsupported, fmt.Errorf("audiodev: no input device: %w", err)
	}
	// Opening and immediately closing a stream surfaces OS-level denial
	// without keeping the device.
	buf := make([]int16, 64)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(dev.DefaultSampleRate), len(buf), buf)
	if err != nil {
		return PermissionDenied, fmt.Errorf("audiodev: open input: %w", err)
	}
	_ = stream.Close()
	return PermissionGranted, nil
}

// InputSource captures PCM16 mono from the default OS input device. It
// implements capture.Source and owns the device exclusively between Start and
// Close.
type InputSource struct {
	sampleRate  int
	frameLen    int
	mu          sync.Mutex
	stream      *portaudio.Stream
	initialized bool
	closed      bool
	stopCh      chan struct{}
}

func NewInputSource(sampleRate, frameLen int) *InputSource {
	return &InputSource{sampleRate: sampleRate, frameLen: frameLen}
}

func (s *InputSource) Start(ctx context.Context) (<-chan []int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("audiodev: source closed")
	}
	if s.stream != nil {
		return nil, fmt.Errorf("audiodev: source already started")
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiodev: initialize: %w", err)
	}
	s.initialized = true

	buf := make([]int16, s.frameLen)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("audiodev: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("audiodev: start input: %w", err)
	}
	s.stream = stream
	s.stopCh = make(chan struct{})

	out := make(chan []int16, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				log.Printf("audiodev: input read: %v", err)
				return
			}
			samples := make([]int16, len(buf))
			copy(samples, buf)
			select {
			case out <- samples:
			default:
				// Consumer stalled; keep the device serviced.
			}
		}
	}()
	return out, nil
}

func (s *InputSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stopCh != nil {
		close(s.stopCh)
	}
	if s.stream != nil {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.stream = nil
	}
	if s.initialized {
		_ = portaudio.Terminate()
		s.initialized = false
	}
	return nil
}

// OutputWriter plays PCM16 mono on the default OS output device. It
// implements playback.PCMWriter; Write blocks for the buffer's duration,
// which is what paces the playback queue.
type OutputWriter struct {
	sampleRate int
	frameLen   int
	mu         sync.Mutex
	stream     *portaudio.Stream
	buf        []int16
	closed     bool
}

func NewOutputWriter(sampleRate, frameLen int) (*OutputWriter, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiodev: initialize: %w", err)
	}
	buf := make([]int16, frameLen)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: start output: %w", err)
	}
	return &OutputWriter{sampleRate: sampleRate, frameLen: frameLen, stream: stream, buf: buf}, nil
}

func (w *OutputWriter) Write(pcm []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("audiodev: output closed")
	}
	for off := 0; off < len(pcm); off += len(w.buf) {
		n := copy(w.buf, pcm[off:])
		for i := n; i < len(w.buf); i++ {
			w.buf[i] = 0
		}
		if err := w.stream.Write(); err != nil {
			return fmt.Errorf("audiodev: output write: %w", err)
		}
	}
	return nil
}

func (w *OutputWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.stream.Stop()
	_ = w.stream.Close()
	_ = portaudio.Terminate()
	return nil
}
