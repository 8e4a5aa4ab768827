package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pauz/backend"
	"pauz/capture"
	"pauz/playback"
)

func speechPCM() []byte {
	// Nonzero 16-bit samples, enough for several capture ticks.
	pcm := make([]byte, 16000)
	for i := range pcm {
		pcm[i] = byte(i%251 + 1)
	}
	return pcm
}

type fixture struct {
	fb  *backend.Fake
	fp  *playback.Fake
	rec *capture.Recorder
	c   *Controller
}

func newFixture(t *testing.T, mod func(*Config)) *fixture {
	t.Helper()
	fb := &backend.Fake{}
	fp := &playback.Fake{}
	rec := capture.NewRecorder(
		capture.NewFakeContext(speechPCM(), time.Millisecond),
		capture.RecorderConfig{MaxDuration: 30 * time.Millisecond},
	)
	cfg := Config{
		Backend:    fb,
		Recorder:   rec,
		Player:     fp,
		VoiceLoop:  true,
		RetryDelay: 40 * time.Millisecond,
		RearmDelay: 20 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	c := New(cfg)
	t.Cleanup(c.Close)
	return &fixture{fb: fb, fp: fp, rec: rec, c: c}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) waitState(t *testing.T, s State) {
	t.Helper()
	waitFor(t, "state "+s.String(), func() bool { return f.c.State() == s })
}

func TestOpenGoesListeningWithoutWelcome(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Open()
	f.waitState(t, StateListening)
	if f.fb.WelcomeCalls() != 0 {
		t.Fatalf("welcome fetched despite being disabled")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.VoiceLoop = false
		cfg.Welcome = true
	})
	f.c.Open()
	f.c.Open()
	f.waitState(t, StateIdle)
	waitFor(t, "welcome fetch", func() bool { return f.fb.WelcomeCalls() > 0 })
	time.Sleep(20 * time.Millisecond)
	if n := f.fb.WelcomeCalls(); n != 1 {
		t.Fatalf("expected 1 welcome fetch, got %d", n)
	}
}

func TestWelcomePlaysThenGoesIdle(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.VoiceLoop = false
		cfg.Welcome = true
	})
	f.fb.WelcomeResult = &backend.WelcomeResult{
		Text:  "good evening",
		Audio: []byte{1, 2, 3},
		MIME:  "audio/wav",
	}
	f.c.Open()
	waitFor(t, "welcome turn", func() bool { return len(f.c.Turns()) == 1 })
	f.waitState(t, StateIdle)

	turns := f.c.Turns()
	if turns[0].Speaker != SpeakerAssistant || turns[0].Text != "good evening" {
		t.Fatalf("bad welcome turn: %+v", turns[0])
	}
	plays := f.fp.Plays()
	if len(plays) != 1 || plays[0].MIME != "audio/wav" {
		t.Fatalf("expected one wav playback, got %+v", plays)
	}
}

func TestVoiceTurnOrdersTranscriptBeforeResponse(t *testing.T) {
	f := newFixture(t, nil)
	f.fb.QueryResult = &backend.QueryResult{
		Transcript: "hello",
		Response:   "hi there",
		Audio:      []byte{9, 9},
		MIME:       "audio/mpeg",
	}
	f.c.Open()
	waitFor(t, "completed turn", func() bool { return len(f.c.Turns()) >= 2 })

	turns := f.c.Turns()
	if turns[0].Speaker != SpeakerUser || turns[0].Text != "hello" {
		t.Fatalf("first turn should be the user transcript, got %+v", turns[0])
	}
	if turns[1].Speaker != SpeakerAssistant || turns[1].Text != "hi there" {
		t.Fatalf("second turn should be the assistant, got %+v", turns[1])
	}
	waitFor(t, "playback", func() bool { return len(f.fp.Plays()) >= 1 })
	if mime := f.fp.Plays()[0].MIME; mime != "audio/mpeg" {
		t.Fatalf("playback got MIME %q", mime)
	}
	f.waitState(t, StateListening)
}

func TestEmptyClipRearmsWithoutNetworkCall(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	f := newFixture(t, func(cfg *Config) {
		// Device never produces samples before the 30ms cap fires.
		cfg.Recorder = capture.NewRecorder(
			capture.NewFakeContext(nil, time.Hour),
			capture.RecorderConfig{MaxDuration: 30 * time.Millisecond},
		)
	})
	f.c.cfg.OnChange = func() {
		mu.Lock()
		seen = append(seen, f.c.State())
		mu.Unlock()
	}

	f.c.Open()
	f.waitState(t, StateListening)
	waitFor(t, "idle after empty clip", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s == StateIdle {
				return true
			}
		}
		return false
	})
	f.waitState(t, StateListening)
	if f.fb.VoiceCalls() != 0 {
		t.Fatalf("empty clip reached the backend: %d calls", f.fb.VoiceCalls())
	}
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Open()
	time.Sleep(300 * time.Millisecond)
	if n := f.fb.MaxInFlight(); n > 1 {
		t.Fatalf("observed %d concurrent queries", n)
	}
	if f.fb.VoiceCalls() < 2 {
		t.Fatalf("loop made only %d calls, cannot judge single-flight", f.fb.VoiceCalls())
	}
}

func TestBusyWhileThinking(t *testing.T) {
	f := newFixture(t, nil)
	f.fb.Gate = make(chan struct{})
	defer close(f.fb.Gate)

	f.c.Open()
	f.waitState(t, StateThinking)
	if err := f.c.SubmitText("hold on"); !errors.Is(err, ErrBusy) {
		t.Fatalf("SubmitText while thinking: %v", err)
	}
	if err := f.c.StartListening(); !errors.Is(err, ErrBusy) {
		t.Fatalf("StartListening while thinking: %v", err)
	}
}

func TestBackendFailureShowsApologyThenRecovers(t *testing.T) {
	f := newFixture(t, nil)
	f.fb.QueryErr = &backend.ServiceError{Status: "500", Detail: "synth exploded"}

	f.c.Open()
	f.waitState(t, StateError)
	turns := f.c.Turns()
	if len(turns) == 0 || turns[len(turns)-1].Speaker != SpeakerAssistant {
		t.Fatal("expected an apology turn")
	}
	for _, turn := range turns {
		if turn.Text == "synth exploded" {
			t.Fatal("raw backend detail leaked into the conversation")
		}
	}
	f.waitState(t, StateListening)
}

func TestRepeatedFailuresParkIdle(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.MaxRetries = 2 })
	f.fb.QueryErr = &backend.ServiceError{Status: "network", Detail: "connection refused"}

	f.c.Open()
	waitFor(t, "retry cap", func() bool { return f.fb.VoiceCalls() >= 2 })
	time.Sleep(150 * time.Millisecond)
	if got := f.fb.VoiceCalls(); got != 2 {
		t.Fatalf("expected the loop to stop after 2 failures, got %d calls", got)
	}
	if f.c.State() != StateIdle {
		t.Fatalf("expected idle after retry cap, got %v", f.c.State())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Open()
	f.waitState(t, StateListening)
	f.c.Close()
	f.c.Close()

	if f.rec.Acquired() {
		t.Fatal("microphone still held after close")
	}
	if f.fp.Stops() == 0 {
		t.Fatal("playback not stopped on close")
	}
	if f.c.State() != StateIdle {
		t.Fatalf("state after close: %v", f.c.State())
	}
	if len(f.c.Turns()) != 0 {
		t.Fatal("conversation leaked across close")
	}
}

func TestReopenBehavesLikeFirstOpen(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Open()
	waitFor(t, "a completed turn", func() bool { return len(f.c.Turns()) >= 2 })
	f.c.Close()

	f.c.Open()
	f.waitState(t, StateListening)
	turns := f.c.Turns()
	for _, turn := range turns {
		if turn.At.IsZero() {
			t.Fatal("turn missing timestamp")
		}
	}
	if len(turns) > 2 {
		t.Fatalf("old conversation visible after reopen: %d turns", len(turns))
	}
}

func TestCloseDuringThinkingDiscardsResult(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	f.fb.Gate = gate
	f.fb.QueryResult = &backend.QueryResult{
		Transcript: "late",
		Response:   "too late",
		Audio:      []byte{1},
		MIME:       "audio/wav",
	}

	f.c.Open()
	f.waitState(t, StateThinking)
	f.c.Close()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if f.c.State() != StateIdle {
		t.Fatalf("state mutated after close: %v", f.c.State())
	}
	if len(f.c.Turns()) != 0 {
		t.Fatal("stale result appended turns after close")
	}
	if len(f.fp.Plays()) != 0 {
		t.Fatal("stale result started playback after close")
	}
}

func TestMuteSkipsPlaybackButNotTurns(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Muted = true })
	f.fb.QueryResult = &backend.QueryResult{
		Transcript: "hello",
		Response:   "hi there",
		Audio:      []byte{5, 5, 5},
		MIME:       "audio/wav",
	}
	f.c.Open()
	waitFor(t, "turns while muted", func() bool { return len(f.c.Turns()) >= 2 })
	f.waitState(t, StateListening)
	if len(f.fp.Plays()) != 0 {
		t.Fatal("muted session played audio")
	}
}

func TestToggleMuteCutsPlayback(t *testing.T) {
	f := newFixture(t, nil)
	f.fp.Delay = 500 * time.Millisecond
	f.fb.QueryResult = &backend.QueryResult{
		Transcript: "hello",
		Response:   "hi there",
		Audio:      []byte{7},
		MIME:       "audio/wav",
	}
	f.c.Open()
	f.waitState(t, StateSpeaking)
	f.c.ToggleMute()
	if !f.c.Muted() {
		t.Fatal("mute did not latch")
	}
	f.waitState(t, StateListening)
	if f.fp.Stops() == 0 {
		t.Fatal("muting mid-utterance did not stop playback")
	}
}

func TestSubmitTextRunsTextTurn(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.VoiceLoop = false })
	f.c.Open()
	f.waitState(t, StateIdle)

	if err := f.c.SubmitText("  what should I write about  "); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "text turn", func() bool { return len(f.c.Turns()) >= 2 })
	f.waitState(t, StateIdle)

	turns := f.c.Turns()
	if turns[0].Speaker != SpeakerUser || turns[0].Text != "what should I write about" {
		t.Fatalf("bad user turn: %+v", turns[0])
	}
	if f.fb.TextCalls() != 1 || f.fb.VoiceCalls() != 0 {
		t.Fatalf("wrong transport path: text=%d voice=%d", f.fb.TextCalls(), f.fb.VoiceCalls())
	}
}

func TestSubmitTextAbandonsActiveRecording(t *testing.T) {
	f := newFixture(t, nil)
	f.fb.Gate = make(chan struct{})
	f.c.Open()
	f.waitState(t, StateListening)

	if err := f.c.SubmitText("typed instead"); err != nil {
		t.Fatal(err)
	}
	close(f.fb.Gate)
	waitFor(t, "text call", func() bool { return f.fb.TextCalls() == 1 })
	time.Sleep(50 * time.Millisecond)
	if f.fb.VoiceCalls() != 0 {
		t.Fatal("abandoned recording still reached the backend")
	}
}

func TestManualListenCycle(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.VoiceLoop = false })
	f.c.Open()
	f.waitState(t, StateIdle)

	if err := f.c.StartListening(); err != nil {
		t.Fatal(err)
	}
	f.waitState(t, StateListening)
	time.Sleep(10 * time.Millisecond) // let the device feed some speech
	f.c.StopListening()
	waitFor(t, "voice turn", func() bool { return len(f.c.Turns()) >= 2 })
	f.waitState(t, StateIdle)
}

func TestMicFailureDegradesToTextOnly(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Recorder = capture.NewRecorder(
			capture.FailingContext(errors.New("access denied by user")),
			capture.RecorderConfig{},
		)
	})
	f.c.Open()
	waitFor(t, "mic error", func() bool { return f.c.MicErr() != nil })
	if !errors.Is(f.c.MicErr(), capture.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", f.c.MicErr())
	}
	f.waitState(t, StateIdle)

	if err := f.c.SubmitText("still works"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "text turn without mic", func() bool { return len(f.c.Turns()) >= 2 })

	if err := f.c.StartListening(); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("StartListening should surface the mic error, got %v", err)
	}
}

func TestMutedWelcomeStillFetched(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.VoiceLoop = false
		cfg.Welcome = true
		cfg.Muted = true
	})
	f.fb.WelcomeResult = &backend.WelcomeResult{Text: "hi", Audio: []byte{1}, MIME: "audio/wav"}
	f.c.Open()
	waitFor(t, "welcome turn", func() bool { return len(f.c.Turns()) == 1 })
	f.waitState(t, StateIdle)
	if f.fb.WelcomeCalls() != 1 {
		t.Fatalf("welcome calls: %d", f.fb.WelcomeCalls())
	}
	if len(f.fp.Plays()) != 0 {
		t.Fatal("muted welcome was played")
	}
}
