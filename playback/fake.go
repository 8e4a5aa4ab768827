package playback

import (
	"context"
	"sync"
	"time"
)

// Played records one Play call.
type Played struct {
	Data []byte
	MIME string
}

// Fake is an in-memory Player for tests. With a nonzero Delay each
// Play blocks for that long unless stopped or cancelled first.
type Fake struct {
	PlayErr error
	Delay   time.Duration

	mu     sync.Mutex
	plays  []Played
	cues   []Cue
	stops  int
	cancel context.CancelFunc
}

func (f *Fake) Play(ctx context.Context, data []byte, mimeType string) error {
	if f.PlayErr != nil {
		return f.PlayErr
	}
	f.mu.Lock()
	f.plays = append(f.plays, Played{Data: data, MIME: mimeType})
	pctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	delay := f.Delay
	f.mu.Unlock()
	defer cancel()

	if delay > 0 {
		select {
		case <-pctx.Done():
			return pctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

func (f *Fake) PlayCue(c Cue) {
	f.mu.Lock()
	f.cues = append(f.cues, c)
	f.mu.Unlock()
}

func (f *Fake) Stop() {
	f.mu.Lock()
	f.stops++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
}

func (f *Fake) Plays() []Played {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Played(nil), f.plays...)
}

func (f *Fake) Cues() []Cue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cue(nil), f.cues...)
}

func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
