// Package playback turns assistant speech into sound. It decodes the
// audio the backend returns and drives the platform output device. At
// most one playback is active at a time; starting a new one stops the
// previous one first.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pauz/codec"
)

// ErrUnsupportedAudio means the backend sent a container this client
// cannot decode. Recoverable: the caller falls back to showing the
// response text without sound.
var ErrUnsupportedAudio = errors.New("unsupported audio format")

// Player is the controller's view of audio output.
type Player interface {
	// Play blocks until playback naturally ends, the context is
	// cancelled, or Stop is called.
	Play(ctx context.Context, data []byte, mimeType string) error
	// PlayCue fires a short feedback tone without blocking.
	PlayCue(c Cue)
	// Stop cancels any in-flight playback. Idempotent.
	Stop()
}

// Speaker is the real Player over the platform output device.
type Speaker struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSpeaker() *Speaker {
	return &Speaker{}
}

// outputRate is the fixed device rate. Everything decoded gets
// resampled to it so a single output stream format serves all
// backend audio and the cue tones alike.
const outputRate = 44100

func (s *Speaker) Play(ctx context.Context, data []byte, mimeType string) error {
	samples, rate, channels, err := decode(data, mimeType)
	if err != nil {
		return err
	}
	out := toOutput(samples, rate, channels)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel() // stop-before-start
	}
	pctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	return playPCM(pctx, out)
}

func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// toOutput downmixes stereo to mono and resamples to outputRate
// with linear interpolation.
func toOutput(samples []int16, rate, channels int) []int16 {
	if channels == 2 {
		mono := make([]int16, len(samples)/2)
		for i := range mono {
			mono[i] = int16((int(samples[i*2]) + int(samples[i*2+1])) / 2)
		}
		samples = mono
	}
	if rate == outputRate || rate <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(outputRate) / int64(rate))
	out := make([]int16, n)
	for i := range out {
		src := float64(i) * float64(rate) / float64(outputRate)
		j := int(src)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := src - float64(j)
		out[i] = int16(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac)
	}
	return out
}

func decode(data []byte, mimeType string) ([]int16, int, int, error) {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return codec.DecodeWAV(data)
	case "audio/flac", "audio/x-flac":
		return codec.DecodeFLAC(data)
	default:
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedAudio, mimeType)
	}
}
