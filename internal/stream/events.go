package stream

import (
	"github.com/openscreen/voicecall/internal/transcript"
)

// EventType enumerates every inbound event the duplex endpoint emits.
type EventType string

const (
	EventOpened       EventType = "opened"
	EventAudio        EventType = "audio"
	EventPartialText  EventType = "partial_transcript"
	EventFinalText    EventType = "final_transcript"
	EventTurnComplete EventType = "turn_complete"
	EventInterrupted  EventType = "interrupted"
	EventError        EventType = "error"
	EventClosed       EventType = "closed"
)

// Event is one inbound message from the duplex stream, decoded off the wire.
type Event struct {
	Type  EventType
	Role  transcript.Role // set for transcript events
	Text  string          // transcript text or turn payload
	Audio []byte          // encoded audio frame, EventAudio only
	Err   string          // EventError only
}

// envelope is the JSON wire format shared with the endpoint. Audio payloads
// ride as base64 via encoding/json's []byte handling.
type envelope struct {
	Type  string `json:"type"`
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Audio []byte `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}
