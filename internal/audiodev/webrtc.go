package audiodev

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// rtpReader is the narrow slice of a remote track the source needs: one
// blocking packet read at a time.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// frameDecoder decodes one encoded frame into PCM16 samples.
type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// remoteTrack adapts *webrtc.TrackRemote to rtpReader, discarding the
// interceptor attributes.
type remoteTrack struct{ t *webrtc.TrackRemote }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

// TrackSource adapts a remote WebRTC audio track into a PCM sample stream. It
// decodes the track's Opus payloads and implements capture.Source, so a
// browser microphone can feed the capture pipeline the same way a local
// device does.
type TrackSource struct {
	src        rtpReader
	dec        frameDecoder
	sampleRate int

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
}

func NewTrackSource(remote *webrtc.TrackRemote, sampleRate int) (*TrackSource, error) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return nil, fmt.Errorf("audiodev: track is not audio: %s", remote.Kind())
	}
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audiodev: create decoder: %w", err)
	}
	return &TrackSource{
		src:        remoteTrack{remote},
		dec:        dec,
		sampleRate: sampleRate,
		stopCh:     make(chan struct{}),
	}, nil
}

func (s *TrackSource) Start(ctx context.Context) (<-chan []int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("audiodev: track source closed")
	}
	if s.started {
		return nil, fmt.Errorf("audiodev: track source already started")
	}
	s.started = true

	out := make(chan []int16, 32)
	go func() {
		defer close(out)
		// Largest Opus frame is 120ms.
		pcm := make([]int16, s.sampleRate/1000*120)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
			pkt, readErr := s.src.ReadRTP()
			if readErr != nil {
				log.Printf("audiodev: rtp read: %v", readErr)
				return
			}
			if pkt == nil || len(pkt.Payload) == 0 {
				continue
			}
			n, decErr := s.dec.Decode(pkt.Payload, pcm)
			if decErr != nil {
				log.Printf("audiodev: opus decode: %v", decErr)
				continue
			}
			samples := make([]int16, n)
			copy(samples, pcm[:n])
			select {
			case out <- samples:
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	return out, nil
}

func (s *TrackSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return nil
}
