package capture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	pcm    chan []int16
	closed int32
}

func (f *fakeSource) Start(ctx context.Context) (<-chan []int16, error) { return f.pcm, nil }
func (f *fakeSource) Close() error                                      { atomic.AddInt32(&f.closed, 1); return nil }

// fakeEncoder copies input samples as bytes so frame content is predictable.
type fakeEncoder struct{ calls int32 }

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	n := len(pcm)
	if n > len(data) {
		n = len(data)
	}
	for i := 0; i < n; i++ {
		data[i] = byte(pcm[i])
	}
	return n, nil
}

func testPipeline(src Source) (*Pipeline, *fakeEncoder) {
	enc := &fakeEncoder{}
	cfg := Config{SampleRate: 1000, Channels: 1, FrameDuration: 10 * time.Millisecond} // 10 samples/frame
	return &Pipeline{src: src, cfg: cfg, enc: enc}, enc
}

func TestPipeline_FramesPreserveCaptureOrder(t *testing.T) {
	src := &fakeSource{pcm: make(chan []int16, 10)}
	p, _ := testPipeline(src)
	frames, err := p.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	// 25 samples -> two full 10-sample frames, 5 left buffered.
	samples := make([]int16, 25)
	for i := range samples {
		samples[i] = int16(i)
	}
	src.pcm <- samples

	first := recvFrame(t, frames)
	second := recvFrame(t, frames)
	if first.Direction != DirectionOutbound || second.Direction != DirectionOutbound {
		t.Fatalf("frames must be tagged outbound")
	}
	if first.Data[0] != 0 || second.Data[0] != 10 {
		t.Fatalf("capture order violated: first=%d second=%d", first.Data[0], second.Data[0])
	}
	select {
	case f := <-frames:
		t.Fatalf("unexpected third frame: %+v", f)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPipeline_StopReleasesSource(t *testing.T) {
	src := &fakeSource{pcm: make(chan []int16)}
	p, _ := testPipeline(src)
	if _, err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	p.Stop() // idempotent
	if got := atomic.LoadInt32(&src.closed); got != 1 {
		t.Fatalf("source close calls: got %d want 1", got)
	}
}

func TestPipeline_StopBeforeStart(t *testing.T) {
	src := &fakeSource{pcm: make(chan []int16)}
	p, _ := testPipeline(src)
	p.Stop()
	if got := atomic.LoadInt32(&src.closed); got != 1 {
		t.Fatalf("source close calls: got %d want 1", got)
	}
	if _, err := p.Start(context.Background()); err == nil {
		t.Fatalf("start after stop must fail")
	}
}

func TestPipeline_SourceCloseEndsFrames(t *testing.T) {
	src := &fakeSource{pcm: make(chan []int16)}
	p, _ := testPipeline(src)
	frames, err := p.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	close(src.pcm)
	select {
	case _, ok := <-frames:
		if ok {
			t.Fatalf("expected closed frames channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("frames channel did not close")
	}
}

func recvFrame(t *testing.T, frames <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatalf("frames channel closed")
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
		return Frame{}
	}
}
