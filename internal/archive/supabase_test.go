package archive

import (
	"strings"
	"testing"
	"time"
)

func TestTranscriptKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	key := transcriptKey("sess-1", "ctx-9", at)
	if key != "sess-1/ctx-9/20260314T092653Z.json" {
		t.Fatalf("unexpected key %q", key)
	}
	if !strings.HasSuffix(key, ".json") {
		t.Fatalf("key must carry a json extension")
	}
}
