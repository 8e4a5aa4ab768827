package capture

import (
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"pauz/codec"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = codec.SampleRate * vadFrameMs / 1000 * 2
	vadDebounce   = 3 // consecutive speech frames to confirm voice
)

// VoiceGate classifies recorded audio as speech or silence. A clip
// that never triggers the gate is delivered as empty, so pure room
// noise re-arms the loop instead of going over the network.
type VoiceGate struct {
	vad *webrtcvad.VAD

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	speechRun     int
}

func NewVoiceGate() (*VoiceGate, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &VoiceGate{vad: v}, nil
}

func (g *VoiceGate) process(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.buf = append(g.buf, data...)
	for len(g.buf) >= vadFrameBytes {
		frame := g.buf[:vadFrameBytes]
		g.buf = g.buf[vadFrameBytes:]

		active, err := g.vad.Process(codec.SampleRate, frame)
		if err != nil {
			continue
		}
		if active {
			g.speechRun++
			if g.speechRun >= vadDebounce {
				g.voiceDetected = true
			}
		} else {
			g.speechRun = 0
		}
	}
}

func (g *VoiceGate) voiced() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voiceDetected
}

func (g *VoiceGate) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buf = g.buf[:0]
	g.voiceDetected = false
	g.speechRun = 0
}
