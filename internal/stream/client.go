package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openscreen/voicecall/internal/transcript"
)

// Stream is one live duplex connection to the conversational endpoint.
// Inbound events arrive on Events; the channel closes after a final
// EventClosed once the connection is gone.
type Stream interface {
	Events() <-chan Event
	SendAudio(frame []byte) error
	SendText(text string) error
	Close() error
}

// Dialer opens a Stream using a short-lived credential.
type Dialer interface {
	Dial(ctx context.Context, url, credential string) (Stream, error)
}

// StatusError reports a handshake rejected with an HTTP status.
type StatusError struct{ Code int }

func (e *StatusError) Error() string   { return fmt.Sprintf("stream handshake: status=%d", e.Code) }
func (e *StatusError) HTTPStatus() int { return e.Code }

// WSDialer dials the endpoint over WebSocket with a bearer credential.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, url, credential string) (Stream, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	headers := http.Header{"Authorization": {"Bearer " + credential}}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}

	s := &wsStream{
		conn:     conn,
		events:   make(chan Event, 256),
		outbound: make(chan envelope, 512),
		stopCh:   make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

type wsStream struct {
	conn     *websocket.Conn
	events   chan Event
	outbound chan envelope
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (s *wsStream) Events() <-chan Event { return s.events }

// SendAudio enqueues an encoded audio frame. Frames are dropped rather than
// blocking the capture path when the outbound buffer is full.
func (s *wsStream) SendAudio(frame []byte) error {
	env := envelope{Type: "audio", Audio: frame}
	select {
	case <-s.stopCh:
		return fmt.Errorf("stream closed")
	case s.outbound <- env:
		return nil
	default:
		log.Println("stream: outbound buffer full, dropping audio frame")
		return nil
	}
}

// SendText enqueues a text turn. Unlike audio, text turns are never dropped.
func (s *wsStream) SendText(text string) error {
	env := envelope{Type: "text", Text: text}
	select {
	case <-s.stopCh:
		return fmt.Errorf("stream closed")
	case s.outbound <- env:
		return nil
	}
}

func (s *wsStream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Printf("stream: read error: %v", err)
			}
			s.deliver(Event{Type: EventClosed})
			_ = s.Close()
			return
		}
		ev, ok := decode(env)
		if !ok {
			log.Printf("stream: unknown event type %q", env.Type)
			continue
		}
		s.deliver(ev)
	}
}

func (s *wsStream) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
		// Engine is tearing down; late events are dropped on the floor.
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *wsStream) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case env := <-s.outbound:
			if err := s.conn.WriteJSON(env); err != nil {
				select {
				case <-s.stopCh:
				default:
					log.Printf("stream: write error: %v", err)
				}
				return
			}
		}
	}
}

func decode(env envelope) (Event, bool) {
	switch EventType(env.Type) {
	case EventOpened:
		return Event{Type: EventOpened}, true
	case EventAudio:
		buf := make([]byte, len(env.Audio))
		copy(buf, env.Audio)
		return Event{Type: EventAudio, Audio: buf}, true
	case EventPartialText:
		return Event{Type: EventPartialText, Role: decodeRole(env.Role), Text: env.Text}, true
	case EventFinalText:
		return Event{Type: EventFinalText, Role: decodeRole(env.Role), Text: env.Text}, true
	case EventTurnComplete:
		return Event{Type: EventTurnComplete, Role: decodeRole(env.Role)}, true
	case EventInterrupted:
		return Event{Type: EventInterrupted}, true
	case EventError:
		return Event{Type: EventError, Err: env.Error}, true
	case EventClosed:
		return Event{Type: EventClosed}, true
	}
	return Event{}, false
}

func decodeRole(role string) transcript.Role {
	if role == "local" {
		return transcript.RoleLocal
	}
	return transcript.RoleRemote
}
