package playback

import (
	"context"
	"math"
	"sync"
)

// Cue identifies a short feedback tone.
type Cue int

const (
	// CueListen plays when the microphone opens.
	CueListen Cue = iota
	// CueDone plays when a recording is sent off.
	CueDone
	// CueError plays when a turn fails.
	CueError
)

var (
	cueOnce    sync.Once
	cueSamples [3][]int16
)

func initCues() {
	cueSamples[CueListen] = tone(1200, 0.2, 0.5, 60)
	cueSamples[CueDone] = tone(900, 0.2, 0.5, 40)
	cueSamples[CueError] = tone(400, 0.3, 0.5, 20)
}

// tone synthesizes a decaying sine tick. The tail is longer than the
// audible part so the output buffer fills before the stream drains.
func tone(freq, duration, volume, decay float64) []int16 {
	n := int(float64(outputRate) * duration)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(outputRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

// PlayCue fires a tone without blocking and without interrupting an
// in-flight playback. Output errors are ignored; a missing speaker
// should never break a voice turn.
func (s *Speaker) PlayCue(c Cue) {
	cueOnce.Do(initCues)
	go playPCM(context.Background(), cueSamples[c])
}
