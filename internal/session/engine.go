package session

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/openscreen/voicecall/internal/audiodev"
	"github.com/openscreen/voicecall/internal/capture"
	"github.com/openscreen/voicecall/internal/faults"
	"github.com/openscreen/voicecall/internal/handoff"
	"github.com/openscreen/voicecall/internal/recovery"
	"github.com/openscreen/voicecall/internal/stream"
	"github.com/openscreen/voicecall/internal/token"
	"github.com/openscreen/voicecall/internal/transcript"
)

// State is the session lifecycle state. Transitions are driven only by the
// control goroutine; callers observe them through Snapshot and Subscribe.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateConnecting           State = "connecting"
	StateConnected            State = "connected"
	StateRetrying             State = "retrying"
	StateEnded                State = "ended"
	StateError                State = "error"
)

// Snapshot is a point-in-time view of the session published to observers.
type Snapshot struct {
	State         State
	Permission    audiodev.PermissionState
	Transcript    []transcript.Message
	PartialLocal  string
	PartialRemote string
	IsSpeaking    bool
	IsListening   bool
	Err           *faults.CategorizedError
	RetryCount    int
	MaxRetries    int
	// EndedAt is set once the session reaches a terminal state: StateEnded,
	// or StateError with the retry budget exhausted.
	EndedAt time.Time
}

// TokenFetcher obtains a fresh short-lived stream credential. Credentials are
// single-use: every connect attempt fetches its own.
type TokenFetcher interface {
	Fetch(ctx context.Context, r token.Request) (token.Credential, error)
}

// Deliverer sends the final transcript at session end.
type Deliverer interface {
	Deliver(ctx context.Context, p handoff.Payload) error
}

// SnapshotStore persists recovery snapshots keyed by session and call context.
type SnapshotStore interface {
	Save(assessmentID, callContextID string, snap recovery.Snapshot) error
	Load(assessmentID, callContextID string) (recovery.Snapshot, error)
	Delete(assessmentID, callContextID string) error
}

// CapturePipeline is one microphone capture run. Pipelines are single-shot;
// the engine builds a new one per connect attempt.
type CapturePipeline interface {
	Start(ctx context.Context) (<-chan capture.Frame, error)
	Stop()
}

// Player is one playback run for inbound audio, also single-shot per attempt.
type Player interface {
	Enqueue(frame capture.Frame)
	Interrupt()
	Speaking() bool
	Close()
}

// Deps are the engine's collaborators. NewCapture and NewPlayer are factories
// because both resources live exactly one connect attempt. Deliver and
// Snapshots may be nil when hand-off or recovery is not wired.
type Deps struct {
	Prober     audiodev.Prober
	Tokens     TokenFetcher
	Dialer     stream.Dialer
	NewCapture func() (CapturePipeline, error)
	NewPlayer  func(onSpeaking func(bool)) (Player, error)
	Deliver    Deliverer
	Snapshots  SnapshotStore
}

// Config fixes a session's identity and behavior for its whole life.
type Config struct {
	SessionID     string
	CallContextID string
	Persona       string
	// Opening is spoken by the remote side first; sent as a text turn right
	// after the stream opens.
	Opening         string
	StreamURL       string
	Policy          faults.Policy
	RecoveryEnabled bool
	// OnComplete fires once after EndSession finishes tearing down.
	OnComplete func(Snapshot)
}

type evKind int

const (
	evPermission evKind = iota
	evCredential
	evDialed
	evRetryElapsed
	evStream
	evSpeaking
)

type event struct {
	kind evKind
	gen  int
	perm audiodev.PermissionState
	cred token.Credential
	strm stream.Stream
	sev  stream.Event
	on   bool
	err  error
}

// Engine is the session state machine. All state lives on a single control
// goroutine; public methods post commands to it and never touch state
// directly, so there is nothing to lock around transitions.
type Engine struct {
	cfg  Config
	deps Deps
	tlog *transcript.Log

	cmds   chan func()
	events chan event
	done   chan struct{}
	once   sync.Once

	// Control-goroutine-owned.
	state      State
	perm       audiodev.PermissionState
	gen        int
	retryCount int
	lastErr    *faults.CategorizedError
	startedAt  time.Time
	endedAt    time.Time
	speaking   bool
	strm       stream.Stream
	cap        CapturePipeline
	player     Player

	mu   sync.Mutex
	cur  Snapshot
	subs []chan Snapshot
}

func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		tlog:   transcript.NewLog(),
		cmds:   make(chan func()),
		events: make(chan event, 256),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	e.cur = e.snapshot()
	go e.run()
	return e
}

// Close stops the control goroutine. It does not end the session; call
// EndSession or Disconnect first.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.done) })
}

// Snapshot returns the most recently published view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// Subscribe returns a channel receiving state snapshots. Delivery is
// latest-wins: a slow receiver sees the newest snapshot, not every
// intermediate one.
func (e *Engine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	cur := e.cur
	e.mu.Unlock()
	ch <- cur
	return ch
}

// Connect starts the session from idle, or starts a fresh attempt from
// error. Progress is observable through snapshots; failures land in
// StateError.
func (e *Engine) Connect() { e.do(e.connect) }

// Retry re-attempts the connect sequence after a retryable failure. It is a
// no-op outside StateError, for non-retryable errors, and once the retry
// budget is spent.
func (e *Engine) Retry() { e.do(e.retry) }

// Disconnect tears the session down without transcript hand-off. Any
// recovery snapshot is kept so the session can be resumed.
func (e *Engine) Disconnect() { e.do(e.disconnect) }

// EndSession tears the session down, hands off the transcript when one
// exists, and discards the recovery snapshot.
func (e *Engine) EndSession() { e.do(e.endSession) }

// Reset returns a failed session to idle, clearing the error and the retry
// budget. Only valid in StateError.
func (e *Engine) Reset() { e.do(e.reset) }

// RecoverSession seeds the transcript from a persisted snapshot. Valid only
// in StateIdle, before Connect.
func (e *Engine) RecoverSession() error {
	errCh := make(chan error, 1)
	e.do(func() { errCh <- e.recover() })
	select {
	case err := <-errCh:
		return err
	case <-e.done:
		return fmt.Errorf("session: engine closed")
	}
}

func (e *Engine) do(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.cmds:
			fn()
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

// post delivers an async completion to the control loop.
func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// postSpeaking must never block the playback goroutine; with gen filtering a
// dropped transition only delays the snapshot by one frame.
func (e *Engine) postSpeaking(ev event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) connect() {
	switch e.state {
	case StateIdle, StateError:
	default:
		log.Printf("[%s] connect ignored in state %s", e.cfg.SessionID, e.state)
		return
	}
	e.retryCount = 0
	e.lastErr = nil
	e.endedAt = time.Time{}
	if e.startedAt.IsZero() {
		e.startedAt = time.Now()
	}
	e.setState(StateRequestingPermission)
	gen := e.gen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		perm, err := e.deps.Prober.Probe(ctx)
		e.post(event{kind: evPermission, gen: gen, perm: perm, err: err})
	}()
}

func (e *Engine) retry() {
	if e.state != StateError {
		log.Printf("[%s] retry ignored in state %s", e.cfg.SessionID, e.state)
		return
	}
	if e.lastErr == nil || !e.lastErr.Retryable {
		log.Printf("[%s] retry ignored: last error not retryable", e.cfg.SessionID)
		return
	}
	if e.retryCount >= e.cfg.Policy.MaxRetries {
		log.Printf("[%s] retry budget exhausted (%d attempts)", e.cfg.SessionID, e.retryCount)
		e.lastErr = e.cfg.Policy.Exhausted(e.lastErr)
		// Exhaustion is terminal: the session is over unless the caller
		// starts again with Reset or Connect.
		e.endedAt = time.Now()
		e.publish()
		return
	}
	e.retryCount++
	e.setState(StateRetrying)
	gen := e.gen
	delay := e.cfg.Policy.Delay(e.retryCount)
	log.Printf("[%s] retry %d/%d in %s", e.cfg.SessionID, e.retryCount, e.cfg.Policy.MaxRetries, delay)
	time.AfterFunc(delay, func() {
		e.post(event{kind: evRetryElapsed, gen: gen})
	})
}

func (e *Engine) disconnect() {
	if e.state == StateEnded || e.state == StateIdle {
		return
	}
	e.teardown()
	e.endedAt = time.Now()
	e.setState(StateEnded)
}

func (e *Engine) reset() {
	if e.state != StateError {
		log.Printf("[%s] reset ignored in state %s", e.cfg.SessionID, e.state)
		return
	}
	e.lastErr = nil
	e.retryCount = 0
	e.endedAt = time.Time{}
	e.setState(StateIdle)
}

func (e *Engine) endSession() {
	if e.state == StateEnded {
		return
	}
	msgs := e.tlog.Messages()
	e.teardown()

	if len(msgs) > 0 && e.deps.Deliver != nil {
		payload := handoff.Payload{
			SessionID:     e.cfg.SessionID,
			CallContextID: e.cfg.CallContextID,
			Transcript:    msgs,
		}
		sid := e.cfg.SessionID
		deliver := e.deps.Deliver
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := deliver.Deliver(ctx, payload); err != nil {
				log.Printf("[%s] transcript hand-off failed: %v", sid, err)
				return
			}
			log.Printf("[%s] transcript handed off (%d messages)", sid, len(payload.Transcript))
		}()
	}
	if e.cfg.RecoveryEnabled && e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.Delete(e.cfg.SessionID, e.cfg.CallContextID); err != nil {
			log.Printf("[%s] recovery snapshot delete: %v", e.cfg.SessionID, err)
		}
	}
	e.endedAt = time.Now()
	e.setState(StateEnded)
	if e.cfg.OnComplete != nil {
		go e.cfg.OnComplete(e.Snapshot())
	}
}

func (e *Engine) recover() error {
	if e.state != StateIdle {
		return fmt.Errorf("session: recover only valid before connect (state %s)", e.state)
	}
	if !e.cfg.RecoveryEnabled || e.deps.Snapshots == nil {
		return fmt.Errorf("session: recovery not enabled")
	}
	snap, err := e.deps.Snapshots.Load(e.cfg.SessionID, e.cfg.CallContextID)
	if err != nil {
		return err
	}
	e.tlog.Seed(snap.Transcript)
	if !snap.StartedAt.IsZero() {
		e.startedAt = snap.StartedAt
	}
	log.Printf("[%s] recovered %d transcript messages", e.cfg.SessionID, len(snap.Transcript))
	e.publish()
	return nil
}

func (e *Engine) handleEvent(ev event) {
	if ev.gen != e.gen {
		// A dial that finished after teardown still owns a live connection.
		if ev.kind == evDialed && ev.strm != nil {
			_ = ev.strm.Close()
		}
		return
	}
	switch ev.kind {
	case evPermission:
		e.onPermission(ev)
	case evCredential:
		e.onCredential(ev)
	case evDialed:
		e.onDialed(ev)
	case evRetryElapsed:
		if e.state == StateRetrying {
			e.setState(StateConnecting)
			e.fetchCredential()
		}
	case evStream:
		e.onStreamEvent(ev.sev)
	case evSpeaking:
		if e.speaking != ev.on {
			e.speaking = ev.on
			e.publish()
		}
	}
}

func (e *Engine) onPermission(ev event) {
	if e.state != StateRequestingPermission {
		return
	}
	e.perm = ev.perm
	if ev.err != nil {
		e.fail(faults.StagePermission, ev.err)
		return
	}
	if ev.perm != audiodev.PermissionGranted {
		e.fail(faults.StagePermission, fmt.Errorf("microphone permission %s", ev.perm))
		return
	}
	e.setState(StateConnecting)
	e.fetchCredential()
}

func (e *Engine) fetchCredential() {
	gen := e.gen
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		cred, err := e.deps.Tokens.Fetch(ctx, token.Request{
			SessionID:     e.cfg.SessionID,
			CallContextID: e.cfg.CallContextID,
			Persona:       e.cfg.Persona,
		})
		e.post(event{kind: evCredential, gen: gen, cred: cred, err: err})
	}()
}

func (e *Engine) onCredential(ev event) {
	if e.state != StateConnecting {
		return
	}
	if ev.err != nil {
		e.fail(faults.StageCredential, ev.err)
		return
	}
	gen := e.gen
	cred := ev.cred
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		strm, err := e.deps.Dialer.Dial(ctx, e.cfg.StreamURL, cred.Token)
		e.post(event{kind: evDialed, gen: gen, strm: strm, err: err})
	}()
}

func (e *Engine) onDialed(ev event) {
	if e.state != StateConnecting {
		if ev.strm != nil {
			_ = ev.strm.Close()
		}
		return
	}
	if ev.err != nil {
		e.fail(faults.StageDial, ev.err)
		return
	}
	e.strm = ev.strm
	gen := e.gen
	go func(st stream.Stream) {
		for sev := range st.Events() {
			e.post(event{kind: evStream, gen: gen, sev: sev})
		}
	}(ev.strm)
	// Stay in connecting until the endpoint acknowledges with an opened event.
}

func (e *Engine) onStreamEvent(sev stream.Event) {
	switch e.state {
	case StateConnecting:
		switch sev.Type {
		case stream.EventOpened:
			e.becomeConnected()
		case stream.EventError:
			e.fail(faults.StageStream, fmt.Errorf("endpoint error: %s", sev.Err))
		case stream.EventClosed:
			e.fail(faults.StageStream, unexpectedClose())
		}
	case StateConnected:
		e.onLiveEvent(sev)
	}
}

func (e *Engine) becomeConnected() {
	gen := e.gen
	player, err := e.deps.NewPlayer(func(on bool) {
		e.postSpeaking(event{kind: evSpeaking, gen: gen, on: on})
	})
	if err != nil {
		e.fail(faults.StageCapture, err)
		return
	}
	e.player = player

	cp, err := e.deps.NewCapture()
	if err != nil {
		e.fail(faults.StageCapture, err)
		return
	}
	frames, err := cp.Start(context.Background())
	if err != nil {
		cp.Stop()
		e.fail(faults.StageCapture, err)
		return
	}
	e.cap = cp
	go func(frames <-chan capture.Frame, st stream.Stream) {
		for f := range frames {
			_ = st.SendAudio(f.Data)
		}
	}(frames, e.strm)

	if e.cfg.Opening != "" {
		if err := e.strm.SendText(e.cfg.Opening); err != nil {
			log.Printf("[%s] opening turn send: %v", e.cfg.SessionID, err)
		}
	}
	e.setState(StateConnected)
}

func (e *Engine) onLiveEvent(sev stream.Event) {
	switch sev.Type {
	case stream.EventAudio:
		e.player.Enqueue(capture.Frame{
			Direction: capture.DirectionInbound,
			Data:      sev.Audio,
			Captured:  time.Now(),
		})
	case stream.EventPartialText:
		e.tlog.SetPartial(sev.Role, sev.Text)
		if sev.Role == transcript.RoleLocal && e.speaking {
			e.bargeIn()
		}
		e.publish()
	case stream.EventFinalText:
		if sev.Role == transcript.RoleLocal && e.speaking {
			e.bargeIn()
		}
		if e.tlog.Append(sev.Role, sev.Text) {
			e.saveRecovery()
		}
		e.publish()
	case stream.EventTurnComplete:
		e.tlog.ClearPartial(sev.Role)
		e.publish()
	case stream.EventInterrupted:
		e.bargeIn()
	case stream.EventError:
		e.fail(faults.StageStream, fmt.Errorf("endpoint error: %s", sev.Err))
	case stream.EventClosed:
		e.fail(faults.StageStream, unexpectedClose())
	}
}

func (e *Engine) bargeIn() {
	log.Printf("[%s] barge-in: flushing queued playback", e.cfg.SessionID)
	e.player.Interrupt()
}

func (e *Engine) saveRecovery() {
	if !e.cfg.RecoveryEnabled || e.deps.Snapshots == nil {
		return
	}
	snap := recovery.Snapshot{
		SessionID:     e.cfg.SessionID,
		CallContextID: e.cfg.CallContextID,
		StartedAt:     e.startedAt,
		Transcript:    e.tlog.Messages(),
	}
	if err := e.deps.Snapshots.Save(e.cfg.SessionID, e.cfg.CallContextID, snap); err != nil {
		log.Printf("[%s] recovery snapshot save: %v", e.cfg.SessionID, err)
	}
}

// fail tears the attempt down and lands in StateError with a classified
// error. retryCount survives so the budget spans the whole outage.
func (e *Engine) fail(stage faults.Stage, err error) {
	e.teardown()
	e.lastErr = faults.Classify(e.cfg.Policy, stage, err)
	log.Printf("[%s] %s failure (%s, retryable=%t): %v",
		e.cfg.SessionID, stage, e.lastErr.Category, e.lastErr.Retryable, err)
	e.setState(StateError)
}

// teardown releases every live resource of the current attempt and bumps the
// generation so in-flight async completions are discarded.
func (e *Engine) teardown() {
	e.gen++
	if e.cap != nil {
		e.cap.Stop()
		e.cap = nil
	}
	if e.player != nil {
		e.player.Close()
		e.player = nil
	}
	if e.strm != nil {
		_ = e.strm.Close()
		e.strm = nil
	}
	e.speaking = false
}

func (e *Engine) setState(s State) {
	if e.state != s {
		log.Printf("[%s] state: %s -> %s", e.cfg.SessionID, e.state, s)
	}
	e.state = s
	e.publish()
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		State:         e.state,
		Permission:    e.perm,
		Transcript:    e.tlog.Messages(),
		PartialLocal:  e.tlog.Partial(transcript.RoleLocal),
		PartialRemote: e.tlog.Partial(transcript.RoleRemote),
		IsSpeaking:    e.speaking,
		IsListening:   e.state == StateConnected && !e.speaking,
		Err:           e.lastErr,
		RetryCount:    e.retryCount,
		MaxRetries:    e.cfg.Policy.MaxRetries,
		EndedAt:       e.endedAt,
	}
}

func (e *Engine) publish() {
	snap := e.snapshot()
	e.mu.Lock()
	e.cur = snap
	subs := make([]chan Snapshot, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// unexpectedClose wraps the closure in a transport error so the classifier
// reads an unannounced disconnect as a network failure.
func unexpectedClose() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}
}
