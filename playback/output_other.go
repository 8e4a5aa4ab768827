//go:build !linux

package playback

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"pauz/codec"
)

// oto allows a single context per process, so it is created lazily
// and shared by every playback.
var (
	otoCtx  *oto.Context
	otoErr  error
	otoOnce sync.Once
)

func outputContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   outputRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if otoErr != nil {
			return
		}
		<-ready
	})
	return otoCtx, otoErr
}

func playPCM(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	c, err := outputContext()
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	player := c.NewPlayer(bytes.NewReader(codec.SamplesToBytes(samples)))
	player.Play()
	defer player.Close()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}
