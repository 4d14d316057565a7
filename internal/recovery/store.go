package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openscreen/voicecall/internal/transcript"
)

// ErrNotFound reports that no snapshot exists for the requested key.
var ErrNotFound = errors.New("recovery: snapshot not found")

// Snapshot is the locally persisted session remnant enabling resumption after
// an unplanned teardown. It carries the committed transcript and just enough
// metadata to re-identify the call.
type Snapshot struct {
	SessionID     string               `json:"session_id"`
	CallContextID string               `json:"call_context_id"`
	StartedAt     time.Time            `json:"started_at"`
	SavedAt       time.Time            `json:"saved_at"`
	Transcript    []transcript.Message `json:"transcript"`
}

// Store persists snapshots as one JSON file per (assessmentID, callContextID)
// key under a local directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store { return &Store{dir: dir} }

// Save writes the snapshot for the key, replacing any previous one. The write
// goes through a temp file and rename so a crash never leaves a torn snapshot.
func (s *Store) Save(assessmentID, callContextID string, snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("recovery: create dir: %w", err)
	}
	snap.SavedAt = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("recovery: encode snapshot: %w", err)
	}
	path := s.path(assessmentID, callContextID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("recovery: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("recovery: commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for the key, or ErrNotFound.
func (s *Store) Load(assessmentID, callContextID string) (Snapshot, error) {
	data, err := os.ReadFile(s.path(assessmentID, callContextID))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("recovery: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("recovery: decode snapshot: %w", err)
	}
	return snap, nil
}

// Delete removes the snapshot for the key. Missing snapshots are not an error.
func (s *Store) Delete(assessmentID, callContextID string) error {
	err := os.Remove(s.path(assessmentID, callContextID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recovery: delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) path(assessmentID, callContextID string) string {
	name := sanitize(assessmentID) + "_" + sanitize(callContextID) + ".json"
	return filepath.Join(s.dir, name)
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}
