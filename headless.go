package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pauz/capture"
	"pauz/codec"
	"pauz/playback"
	"pauz/session"
)

type headlessOptions struct {
	voiceLoop bool
	welcome   bool
	muted     bool
	context   string
}

// runTestMode drives a session from stdin commands, printing observable
// state to stdout. With a WAV path the capture side is replayed from the
// file; playback is swallowed so the mode works on machines without audio.
func runTestMode(client session.Backend, wavPath string, opts headlessOptions) {
	var actx capture.Context
	if wavPath != "" {
		pcm, err := loadWAVPCM(wavPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			os.Exit(1)
		}
		actx = capture.NewFakeContext(pcm, time.Millisecond)
	} else {
		var err error
		actx, err = capture.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			os.Exit(1)
		}
	}
	defer actx.Close()

	recorder := capture.NewRecorder(actx, capture.RecorderConfig{
		MaxDuration: 2 * time.Second,
	})

	ctrl := session.New(session.Config{
		Backend:        client,
		Recorder:       recorder,
		Player:         &playback.Fake{},
		VoiceLoop:      opts.voiceLoop,
		Welcome:        opts.welcome,
		Muted:          opts.muted,
		JournalContext: opts.context,
	})
	defer ctrl.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "OPEN":
			ctrl.Open()
		case cmd == "CLOSE":
			ctrl.Close()
		case cmd == "STOP":
			ctrl.StopListening()
		case cmd == "START":
			if err := ctrl.StartListening(); err != nil {
				fmt.Printf("ERR %v\n", err)
			}
		case cmd == "MUTE":
			ctrl.ToggleMute()
		case cmd == "STATE":
			fmt.Println(ctrl.State())
		case cmd == "TURNS":
			for _, turn := range ctrl.Turns() {
				fmt.Printf("%s\t%s\n", turn.Speaker, turn.Text)
			}
			fmt.Println("END")
		case cmd == "QUIT":
			ctrl.Close()
			return
		case strings.HasPrefix(cmd, "TEXT "):
			if err := ctrl.SubmitText(cmd[5:]); err != nil {
				fmt.Printf("ERR %v\n", err)
			}
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case strings.HasPrefix(cmd, "WAIT "):
			waitState(ctrl, cmd[5:])
		case strings.HasPrefix(cmd, "WAITTURNS "):
			if n, err := strconv.Atoi(cmd[10:]); err == nil {
				waitTurns(ctrl, n)
			}
		}
	}
}

// waitState blocks until the session reaches the named state, or 5s.
func waitState(ctrl *session.Controller, name string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State().String() == name {
			fmt.Printf("STATE %s\n", name)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Printf("TIMEOUT waiting for %s (state %s)\n", name, ctrl.State())
}

// waitTurns blocks until the transcript holds at least n turns, or 5s.
func waitTurns(ctrl *session.Controller, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(ctrl.Turns()) >= n {
			fmt.Printf("TURNS %d\n", len(ctrl.Turns()))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Printf("TIMEOUT waiting for %d turns (have %d)\n", n, len(ctrl.Turns()))
}

func loadWAVPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, _, _, err := codec.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return codec.SamplesToBytes(samples), nil
}
