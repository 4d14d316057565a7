package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/openscreen/voicecall/internal/transcript"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	snap := Snapshot{
		SessionID:     "sess-1",
		CallContextID: "screening-interviewer",
		StartedAt:     time.Now().Add(-time.Minute),
		Transcript: []transcript.Message{
			{Role: transcript.RoleRemote, Text: "Hello, ready to start?", Timestamp: time.Now()},
			{Role: transcript.RoleLocal, Text: "Yes, let's go.", Timestamp: time.Now()},
		},
	}
	if err := s.Save("assessment-9", "screening-interviewer", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load("assessment-9", "screening-interviewer")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SessionID != "sess-1" || len(got.Transcript) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Transcript[0].Text != "Hello, ready to start?" || got.Transcript[1].Role != transcript.RoleLocal {
		t.Fatalf("transcript not preserved: %+v", got.Transcript)
	}
	if got.SavedAt.IsZero() {
		t.Fatalf("SavedAt should be stamped on save")
	}

	if err := s.Delete("assessment-9", "screening-interviewer"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load("assessment-9", "screening-interviewer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Load("nope", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Delete("nope", "nope"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestStore_KeysIsolated(t *testing.T) {
	s := NewStore(t.TempDir())
	a := Snapshot{SessionID: "a"}
	b := Snapshot{SessionID: "b"}
	if err := s.Save("assessment-1", "coworker", a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.Save("assessment-1", "hiring-manager", b); err != nil {
		t.Fatalf("save b: %v", err)
	}
	got, err := s.Load("assessment-1", "coworker")
	if err != nil || got.SessionID != "a" {
		t.Fatalf("key isolation broken: %+v %v", got, err)
	}
}

func TestStore_OverwriteReplaces(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save("x", "y", Snapshot{SessionID: "first"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save("x", "y", Snapshot{SessionID: "second"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load("x", "y")
	if err != nil || got.SessionID != "second" {
		t.Fatalf("expected latest snapshot, got %+v %v", got, err)
	}
}
