package devstub

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openscreen/voicecall/internal/handoff"
	"github.com/openscreen/voicecall/internal/stream"
	"github.com/openscreen/voicecall/internal/token"
	"github.com/openscreen/voicecall/internal/transcript"
)

func startStub(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStub_CredentialThenStream(t *testing.T) {
	_, ts := startStub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cred, err := token.NewClient(ts.URL+"/token").Fetch(ctx, token.Request{
		SessionID:     "sess-1",
		CallContextID: "ctx-1",
	})
	if err != nil {
		t.Fatalf("fetch credential: %v", err)
	}
	if cred.Token == "" || !cred.ExpiresAt.After(time.Now()) {
		t.Fatalf("unusable credential: %+v", cred)
	}

	d := &stream.WSDialer{}
	st, err := d.Dial(ctx, wsURL(ts.URL)+"/stream", cred.Token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer st.Close()

	if ev := <-st.Events(); ev.Type != stream.EventOpened {
		t.Fatalf("expected opened, got %s", ev.Type)
	}

	if err := st.SendText("hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	var finals []string
	var sawAudio bool
	deadline := time.After(3 * time.Second)
	for len(finals) < 2 || !sawAudio {
		select {
		case ev := <-st.Events():
			switch ev.Type {
			case stream.EventFinalText:
				finals = append(finals, ev.Text)
			case stream.EventAudio:
				sawAudio = true
			}
		case <-deadline:
			t.Fatalf("scripted reply incomplete: finals=%v audio=%t", finals, sawAudio)
		}
	}
	if finals[0] != "hello" || finals[1] != "You said: hello" {
		t.Fatalf("unexpected scripted finals: %v", finals)
	}
	if ev := finalRole(t, st); ev != transcript.RoleRemote {
		t.Fatalf("expected remote turn completion, got %s", ev)
	}
}

func finalRole(t *testing.T, st stream.Stream) transcript.Role {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-st.Events():
			if ev.Type == stream.EventTurnComplete {
				return ev.Role
			}
		case <-deadline:
			t.Fatalf("no turn_complete received")
		}
	}
}

func TestStub_StreamRejectsUnknownCredential(t *testing.T) {
	_, ts := startStub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := &stream.WSDialer{}
	_, err := d.Dial(ctx, wsURL(ts.URL)+"/stream", "not-issued-here")
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	var se *stream.StatusError
	if !errors.As(err, &se) || se.Code != 401 {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestStub_TranscriptSink(t *testing.T) {
	s, ts := startStub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	forwarded := make(chan handoff.Payload, 1)
	s.OnTranscript = func(p handoff.Payload) { forwarded <- p }

	payload := handoff.Payload{
		SessionID:     "sess-1",
		CallContextID: "ctx-1",
		Transcript: []transcript.Message{
			{Role: transcript.RoleRemote, Text: "Goodbye.", Timestamp: time.Now()},
		},
	}
	if err := handoff.NewClient(ts.URL + "/transcripts").Deliver(ctx, payload); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := s.Transcripts()
	if len(got) != 1 || got[0].SessionID != "sess-1" || len(got[0].Transcript) != 1 {
		t.Fatalf("transcript not stored: %+v", got)
	}
	select {
	case p := <-forwarded:
		if p.SessionID != "sess-1" {
			t.Fatalf("forwarded wrong payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcript not forwarded to hook")
	}
}

func TestStub_CountsAudioFrames(t *testing.T) {
	s, ts := startStub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cred, err := token.NewClient(ts.URL+"/token").Fetch(ctx, token.Request{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("fetch credential: %v", err)
	}
	d := &stream.WSDialer{}
	st, err := d.Dial(ctx, wsURL(ts.URL)+"/stream", cred.Token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer st.Close()
	if ev := <-st.Events(); ev.Type != stream.EventOpened {
		t.Fatalf("expected opened, got %s", ev.Type)
	}

	for i := 0; i < 3; i++ {
		if err := st.SendAudio([]byte{byte(i)}); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.AudioFrameCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("audio frames not received: %d", s.AudioFrameCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
