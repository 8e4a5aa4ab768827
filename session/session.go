// Package session owns the voice assistant's conversation loop: a
// small state machine that sequences microphone capture, backend
// round-trips and playback, and recovers from failures without ever
// leaving the user stuck.
//
// Everything here runs under one mutex, so transitions are serialized
// and the invariants hold without per-field synchronization: one live
// recording, one live playback, one outstanding backend call. Async
// completions carry the generation of the Open call that started
// them; a completion whose generation is stale is discarded, which is
// what makes Close safe to call at any instant.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pauz/backend"
	"pauz/capture"
	"pauz/log"
	"pauz/playback"
)

// State is the session's position in the conversation loop.
type State int

const (
	StateIdle State = iota
	StateWelcoming
	StateListening
	StateThinking
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWelcoming:
		return "welcoming"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Speaker attributes a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in chronological conversation order.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

var (
	// ErrClosed means the operation needs an open session.
	ErrClosed = errors.New("session is not open")
	// ErrBusy means a turn is already in flight.
	ErrBusy = errors.New("a turn is already in flight")
)

const (
	// DefaultRetryDelay is how long the error state is shown before
	// the loop re-arms.
	DefaultRetryDelay = 2 * time.Second
	// DefaultRearmDelay is the pause after an empty recording before
	// listening resumes. Silence is a non-event, not an error.
	DefaultRearmDelay = time.Second
	// DefaultMaxRetries caps consecutive failed turns. After this many
	// the loop parks in idle instead of hammering a dead backend; any
	// manual action resets the count.
	DefaultMaxRetries = 3
)

const apologyText = "Sorry, I'm having trouble right now. Give me a moment."

// Backend is the transport the controller drives. *backend.Client and
// *backend.Fake both satisfy it.
type Backend interface {
	Welcome(ctx context.Context) (*backend.WelcomeResult, error)
	VoiceQuery(ctx context.Context, audio []byte, mimeType string) (*backend.QueryResult, error)
	Guidance(ctx context.Context, question, journalContext string) (*backend.QueryResult, error)
}

// Recorder is the capture surface the controller drives. Satisfied by
// *capture.Recorder.
type Recorder interface {
	Acquire() error
	Start() (<-chan capture.Clip, error)
	Stop()
	Release()
	Acquired() bool
}

type Config struct {
	Backend  Backend
	Recorder Recorder
	Player   playback.Player

	// VoiceLoop keeps the microphone re-arming after every assistant
	// turn. Off means push-to-talk and text only.
	VoiceLoop bool
	// Welcome fetches and plays a greeting on open.
	Welcome bool
	// Muted starts the session with playback suppressed.
	Muted bool
	// JournalContext is sent with text queries so guidance can refer
	// to what the user has been writing.
	JournalContext string

	RetryDelay time.Duration
	RearmDelay time.Duration
	MaxRetries int

	// OnChange is called after every observable change, outside the
	// controller's lock. UIs re-read State/Turns from it.
	OnChange func()
}

// Controller runs one assistant session from Open to Close.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	open       bool
	gen        uint64
	state      State
	turns      []Turn
	muted      bool
	fails      int
	micErr     error
	ctx        context.Context
	cancel     context.CancelFunc
	retryTimer *time.Timer
	rearmTimer *time.Timer
}

func New(cfg Config) *Controller {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RearmDelay <= 0 {
		cfg.RearmDelay = DefaultRearmDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Controller{cfg: cfg}
}

// Open starts a session. Idempotent: opening an open session is a
// no-op. The microphone permission prompt, the welcome fetch and the
// first listen all happen asynchronously after Open returns.
func (c *Controller) Open() {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.gen++
	gen := c.gen
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.muted = c.cfg.Muted
	c.turns = nil
	c.fails = 0
	c.micErr = nil
	c.mu.Unlock()

	log.Info("session opened")
	go c.run(gen)
}

func (c *Controller) run(gen uint64) {
	// May block on the permission prompt for as long as the user
	// takes; gen guards against a Close in the meantime.
	var micErr error
	if !c.cfg.Recorder.Acquired() {
		micErr = c.cfg.Recorder.Acquire()
	}

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	if micErr != nil {
		c.micErr = micErr
		log.Errorf("microphone unavailable, text only: %v", micErr)
	}
	welcome := c.cfg.Welcome
	c.mu.Unlock()
	c.notify()

	if welcome {
		c.welcome(gen)
		return
	}
	c.arm(gen)
}

func (c *Controller) welcome(gen uint64) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.setState(StateWelcoming)
	ctx := c.ctx
	c.mu.Unlock()
	c.notify()

	res, err := c.cfg.Backend.Welcome(ctx)
	if err != nil {
		c.failTurn(gen, "welcome", err)
		return
	}
	c.finishTurn(gen, "", res.Text, res.Audio, res.MIME)
}

// arm moves the loop back to listening, or to idle when voice is not
// available in this session. A non-negative from additionally gates
// on the current state: a stopped timer can already have fired, so
// timer callbacks only proceed if the session still sits in the state
// the timer was scheduled from.
func (c *Controller) arm(gen uint64) { c.armIf(gen, State(-1)) }

func (c *Controller) armIf(gen uint64, from State) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	if from >= 0 && c.state != from {
		c.mu.Unlock()
		return
	}
	if !c.cfg.VoiceLoop || c.micErr != nil {
		c.setState(StateIdle)
		c.mu.Unlock()
		c.notify()
		return
	}
	c.setState(StateIdle)
	c.startListeningLocked(gen)
	c.mu.Unlock()
	c.notify()
}

// startListeningLocked begins a recording cycle. Caller holds c.mu.
func (c *Controller) startListeningLocked(gen uint64) {
	ch, err := c.cfg.Recorder.Start()
	if err != nil {
		c.micErr = err
		c.setState(StateIdle)
		log.Errorf("recording failed to start: %v", err)
		return
	}
	c.setState(StateListening)
	if !c.muted {
		c.cfg.Player.PlayCue(playback.CueListen)
	}
	go func() {
		clip, ok := <-ch
		if ok {
			c.onClip(gen, clip)
		}
	}()
}

// onClip receives the single clip a recording cycle produces. A clip
// arriving after the session moved on (text submitted, closed) is
// dropped by the state gate.
func (c *Controller) onClip(gen uint64, clip capture.Clip) {
	c.mu.Lock()
	if !c.current(gen) || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	if clip.Err != nil {
		c.mu.Unlock()
		c.failTurn(gen, "capture", clip.Err)
		return
	}
	if clip.Empty() {
		c.setState(StateIdle)
		c.rearmTimer = time.AfterFunc(c.cfg.RearmDelay, func() { c.armIf(gen, StateIdle) })
		c.mu.Unlock()
		c.notify()
		return
	}
	c.setState(StateThinking)
	if !c.muted {
		c.cfg.Player.PlayCue(playback.CueDone)
	}
	ctx := c.ctx
	c.mu.Unlock()
	c.notify()

	res, err := c.cfg.Backend.VoiceQuery(ctx, clip.Data, clip.MIME)
	if err != nil {
		c.failTurn(gen, "voice-query", err)
		return
	}
	logQuery("voice", clip, res.Metrics)
	c.finishTurn(gen, res.Transcript, res.Response, res.Audio, res.MIME)
}

// finishTurn records a successful round-trip and plays its audio. The
// backend is the source of truth for what the user said, so the user
// turn lands here, after the round-trip, and always before the
// assistant turn it produced.
func (c *Controller) finishTurn(gen uint64, userText, assistantText string, audio []byte, mime string) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.fails = 0
	if userText != "" {
		c.appendTurn(SpeakerUser, userText)
	}
	if assistantText != "" {
		c.appendTurn(SpeakerAssistant, assistantText)
	}
	play := len(audio) > 0 && !c.muted
	if play && c.state != StateWelcoming {
		c.setState(StateSpeaking)
	}
	ctx := c.ctx
	c.mu.Unlock()
	c.notify()

	if play {
		err := c.cfg.Player.Play(ctx, audio, mime)
		if err != nil && !errors.Is(err, context.Canceled) {
			// Recoverable: the text is already in the log.
			log.Warnf("playback failed, text only: %v", err)
		}
	}
	c.arm(gen)
}

// failTurn is the single failure path: error state, a canned apology
// in the conversation, the raw detail only in the diagnostics log,
// and a bounded number of automatic re-arms.
func (c *Controller) failTurn(gen uint64, op string, err error) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	status, detail := "internal", err.Error()
	var se *backend.ServiceError
	if errors.As(err, &se) {
		status, detail = se.Status, se.Detail
	}
	log.ServiceError(op, status, detail)

	c.fails++
	c.setState(StateError)
	c.appendTurn(SpeakerAssistant, apologyText)
	if !c.muted {
		c.cfg.Player.PlayCue(playback.CueError)
	}
	if c.fails >= c.cfg.MaxRetries {
		c.retryTimer = time.AfterFunc(c.cfg.RetryDelay, func() { c.park(gen) })
	} else {
		c.retryTimer = time.AfterFunc(c.cfg.RetryDelay, func() { c.armIf(gen, StateError) })
	}
	c.mu.Unlock()
	c.notify()
}

// park drops a repeatedly failing session to idle. The next manual
// action starts a fresh attempt.
func (c *Controller) park(gen uint64) {
	c.mu.Lock()
	if !c.current(gen) || c.state != StateError {
		c.mu.Unlock()
		return
	}
	c.setState(StateIdle)
	c.mu.Unlock()
	c.notify()
}

// SubmitText sends a typed question through the same transport path
// as a transcribed clip. Valid whenever no turn is in flight; an
// active recording is abandoned, its clip discarded.
func (c *Controller) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateWelcoming, StateThinking, StateSpeaking:
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state == StateListening {
		c.cfg.Recorder.Stop()
	}
	c.stopTimersLocked()
	gen := c.gen
	c.fails = 0
	c.appendTurn(SpeakerUser, text)
	c.setState(StateThinking)
	ctx := c.ctx
	jctx := c.cfg.JournalContext
	c.mu.Unlock()
	c.notify()

	go func() {
		res, err := c.cfg.Backend.Guidance(ctx, text, jctx)
		if err != nil {
			c.failTurn(gen, "guidance", err)
			return
		}
		logQuery("text", capture.Clip{}, res.Metrics)
		c.finishTurn(gen, "", res.Response, res.Audio, res.MIME)
	}()
	return nil
}

// StartListening arms a recording cycle by hand, for push-to-talk use
// outside the voice loop.
func (c *Controller) StartListening() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.micErr != nil {
		err := c.micErr
		c.mu.Unlock()
		return err
	}
	c.stopTimersLocked()
	c.fails = 0
	c.startListeningLocked(c.gen)
	c.mu.Unlock()
	c.notify()
	return nil
}

// StopListening ends the current recording early, or barges in on
// assistant playback. Anywhere else it is a no-op.
func (c *Controller) StopListening() {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	switch st {
	case StateListening:
		c.cfg.Recorder.Stop()
	case StateSpeaking, StateWelcoming:
		c.cfg.Player.Stop()
	}
}

// ToggleMute flips playback suppression. Muting mid-utterance cuts
// the audio; the conversation loop is unaffected either way.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	c.muted = !c.muted
	muted, st := c.muted, c.state
	c.mu.Unlock()
	if muted && (st == StateSpeaking || st == StateWelcoming) {
		c.cfg.Player.Stop()
	}
	c.notify()
}

// Close tears the session down from any state: microphone released,
// playback stopped, timers cancelled, conversation cleared. No
// network waits; in-flight completions are discarded by generation.
// Safe to call repeatedly.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	c.stopTimersLocked()
	turnCount := len(c.turns)
	c.turns = nil
	c.fails = 0
	c.micErr = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	c.cfg.Recorder.Release()
	c.cfg.Player.Stop()
	log.SessionEnd(turnCount)
	c.notify()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.turns...)
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// MicErr reports why voice is unavailable this session, or nil.
func (c *Controller) MicErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micErr
}

func (c *Controller) current(gen uint64) bool {
	return c.open && gen == c.gen
}

func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}
	log.StateChange(c.state.String(), to.String(), c.gen)
	c.state = to
}

func (c *Controller) appendTurn(speaker Speaker, text string) {
	c.turns = append(c.turns, Turn{Speaker: speaker, Text: text, At: time.Now()})
	log.Turn(string(speaker), text)
}

func (c *Controller) stopTimersLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.rearmTimer != nil {
		c.rearmTimer.Stop()
		c.rearmTimer = nil
	}
}

func (c *Controller) notify() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}

func logQuery(mode string, clip capture.Clip, m *backend.NetworkMetrics) {
	if m == nil {
		return
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	log.Query(log.QueryMetrics{
		AudioLengthS:     clip.Seconds,
		RawSizeKB:        float64(clip.RawBytes) / 1024,
		CompressedSizeKB: float64(len(clip.Data)) / 1024,
		EncodeTimeMs:     clip.EncodeMs,
		DNSTimeMs:        ms(m.DNS),
		TLSTimeMs:        ms(m.TLS),
		TTFBMs:           ms(m.TTFB),
		DownloadMs:       ms(m.Download),
		TotalTimeMs:      ms(m.Total),
		ConnReused:       m.ConnReused,
	}, mode, clip.MIME)
}
