package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/openscreen/voicecall/internal/handoff"
)

// Config identifies the Supabase project and bucket holding transcripts.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Storage archives finished call transcripts to Supabase object storage. It
// sits behind the transcript endpoint; sessions never talk to it directly.
type Storage struct {
	client *supabase.Client
	bucket string
}

func New(config Config) (*Storage, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: create supabase client: %w", err)
	}
	return &Storage{client: client, bucket: config.Bucket}, nil
}

// UploadTranscript stores the hand-off payload as a JSON object keyed by
// session and call context.
func (s *Storage) UploadTranscript(ctx context.Context, p handoff.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("archive: encode transcript: %w", err)
	}
	key := transcriptKey(p.SessionID, p.CallContextID, time.Now())
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("archive: upload transcript: %w", err)
	}
	return nil
}

func transcriptKey(sessionID, callContextID string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", sessionID, callContextID, now.UTC().Format("20060102T150405Z"))
}
