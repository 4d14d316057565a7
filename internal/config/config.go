package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress        string
	TokenEndpoint      string
	StreamEndpoint     string
	TranscriptEndpoint string
	RecoveryDir        string
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	SupabaseURL        string
	SupabaseKey        string
	SupabaseBucket     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	tokenEndpoint := os.Getenv("TOKEN_ENDPOINT")
	if tokenEndpoint == "" {
		log.Println("Warning: TOKEN_ENDPOINT not set - sessions cannot fetch stream credentials")
	}
	streamEndpoint := os.Getenv("STREAM_ENDPOINT")
	if streamEndpoint == "" {
		log.Println("Warning: STREAM_ENDPOINT not set - sessions cannot connect")
	}
	transcriptEndpoint := os.Getenv("TRANSCRIPT_ENDPOINT")
	if transcriptEndpoint == "" {
		log.Println("Warning: TRANSCRIPT_ENDPOINT not set - transcripts will not be handed off")
	}

	recoveryDir := os.Getenv("RECOVERY_DIR")
	if recoveryDir == "" {
		recoveryDir = ".voicecall-recovery"
	}

	maxRetries := intFromEnv("MAX_RETRIES", 3)
	baseDelay := durationFromEnv("RETRY_BASE_DELAY", time.Second)
	maxDelay := durationFromEnv("RETRY_MAX_DELAY", 8*time.Second)

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL/SUPABASE_KEY not set - transcript archiving disabled")
	}
	supabaseBucket := os.Getenv("SUPABASE_BUCKET")
	if supabaseBucket == "" {
		supabaseBucket = "transcripts"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:        addr,
		TokenEndpoint:      tokenEndpoint,
		StreamEndpoint:     streamEndpoint,
		TranscriptEndpoint: transcriptEndpoint,
		RecoveryDir:        recoveryDir,
		MaxRetries:         maxRetries,
		RetryBaseDelay:     baseDelay,
		RetryMaxDelay:      maxDelay,
		SupabaseURL:        supabaseURL,
		SupabaseKey:        supabaseKey,
		SupabaseBucket:     supabaseBucket,
	}
}

func intFromEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}
