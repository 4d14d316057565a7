package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/openscreen/voicecall/internal/audiodev"
	"github.com/openscreen/voicecall/internal/capture"
	"github.com/openscreen/voicecall/internal/config"
	"github.com/openscreen/voicecall/internal/faults"
	"github.com/openscreen/voicecall/internal/handoff"
	"github.com/openscreen/voicecall/internal/playback"
	"github.com/openscreen/voicecall/internal/recovery"
	"github.com/openscreen/voicecall/internal/session"
	"github.com/openscreen/voicecall/internal/stream"
	"github.com/openscreen/voicecall/internal/token"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	flavor := flag.String("flavor", "screening", "call flavor: screening, coworker or manager-kickoff")
	sessionID := flag.String("session", "", "session id (defaults to a fresh id)")
	contextID := flag.String("context", "", "call context id (defaults to a fresh id)")
	resume := flag.Bool("resume", false, "resume from a recovery snapshot when one exists")
	flag.Parse()

	cfg := config.Load()
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}
	if *contextID == "" {
		*contextID = uuid.NewString()
	}

	eps := session.Endpoints{
		Token:      cfg.TokenEndpoint,
		Stream:     cfg.StreamEndpoint,
		Transcript: cfg.TranscriptEndpoint,
	}
	engCfg := session.FlavorConfig(session.Flavor(*flavor), *sessionID, *contextID, eps)
	engCfg.Policy = faults.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}
	done := make(chan struct{})
	engCfg.OnComplete = func(snap session.Snapshot) {
		printTranscript(snap)
		close(done)
	}

	audioCfg := capture.DefaultConfig()
	frameLen := audioCfg.SampleRate * int(audioCfg.FrameDuration/time.Millisecond) / 1000

	deps := session.Deps{
		Prober: audiodev.DeviceProber{},
		Tokens: token.NewClient(cfg.TokenEndpoint),
		Dialer: &stream.WSDialer{},
		NewCapture: func() (session.CapturePipeline, error) {
			src := audiodev.NewInputSource(audioCfg.SampleRate, frameLen)
			return capture.NewPipeline(src, audioCfg)
		},
		NewPlayer: func(onSpeaking func(bool)) (session.Player, error) {
			out, err := audiodev.NewOutputWriter(audioCfg.SampleRate, frameLen)
			if err != nil {
				return nil, err
			}
			sink, err := playback.NewOpusSink(audioCfg.SampleRate, audioCfg.Channels, out)
			if err != nil {
				_ = out.Close()
				return nil, err
			}
			return playback.NewQueue(sink, onSpeaking), nil
		},
		Deliver:   handoff.NewClient(cfg.TranscriptEndpoint),
		Snapshots: recovery.NewStore(cfg.RecoveryDir),
	}

	eng := session.New(engCfg, deps)
	defer eng.Close()

	if *resume {
		switch err := eng.RecoverSession(); {
		case err == nil:
			log.Printf("resumed session %s", *sessionID)
		case err == recovery.ErrNotFound:
			log.Printf("no snapshot for session %s, starting fresh", *sessionID)
		default:
			log.Printf("recover failed: %v", err)
		}
	}

	go render(eng)
	eng.Connect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Printf("ending session")
		eng.EndSession()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Printf("teardown timed out")
		case <-sigChan:
			eng.Disconnect()
		}
	case <-done:
	}
}

// render tails state snapshots and prints captions as they settle.
func render(eng *session.Engine) {
	sub := eng.Subscribe()
	var lastState session.State
	printed := 0
	for snap := range sub {
		if snap.State != lastState {
			lastState = snap.State
			switch snap.State {
			case session.StateError:
				if snap.Err != nil {
					fmt.Printf("!! %s (retry %d/%d)\n", snap.Err.UserMessage, snap.RetryCount, snap.MaxRetries)
					if snap.Err.Retryable && snap.RetryCount < snap.MaxRetries {
						eng.Retry()
					}
				}
			case session.StateConnected:
				fmt.Println("-- connected, start talking --")
			}
		}
		for ; printed < len(snap.Transcript); printed++ {
			m := snap.Transcript[printed]
			fmt.Printf("[%s] %s\n", m.Role, m.Text)
		}
		if snap.PartialRemote != "" {
			fmt.Printf("... %s\r", snap.PartialRemote)
		}
		if snap.State == session.StateEnded {
			return
		}
	}
}

func printTranscript(snap session.Snapshot) {
	fmt.Printf("-- session ended, %d messages --\n", len(snap.Transcript))
	for _, m := range snap.Transcript {
		fmt.Printf("[%s] %s\n", m.Role, m.Text)
	}
}
