package playback

import (
	"fmt"
	"time"

	"github.com/hraban/opus"
)

// PCMWriter consumes decoded PCM16 mono samples, typically an output device.
type PCMWriter interface {
	Write(pcm []int16) error
	Close() error
}

// OpusSink decodes inbound Opus frames and writes the PCM to an output
// device. Device writes block for the frame duration, which paces the queue.
type OpusSink struct {
	dec    *opus.Decoder
	out    PCMWriter
	pcmBuf []int16
}

// NewOpusSink creates a sink decoding at the given rate into out.
func NewOpusSink(sampleRate, channels int, out PCMWriter) (*OpusSink, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("playback: create decoder: %w", err)
	}
	return &OpusSink{
		dec: dec,
		out: out,
		// Room for a 120ms frame, the largest Opus allows.
		pcmBuf: make([]int16, sampleRate/1000*120*channels),
	}, nil
}

func (s *OpusSink) Play(frame []byte) error {
	n, err := s.dec.Decode(frame, s.pcmBuf)
	if err != nil {
		return fmt.Errorf("playback: decode: %w", err)
	}
	if n == 0 {
		return nil
	}
	return s.out.Write(s.pcmBuf[:n])
}

func (s *OpusSink) Close() error { return s.out.Close() }

// DiscardSink drops frames while simulating real-time pacing. It backs
// headless runs and tests.
type DiscardSink struct {
	FrameDuration time.Duration
}

func (s *DiscardSink) Play(frame []byte) error {
	if s.FrameDuration > 0 {
		time.Sleep(s.FrameDuration)
	}
	return nil
}

func (s *DiscardSink) Close() error { return nil }
