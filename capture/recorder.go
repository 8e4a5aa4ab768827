package capture

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"pauz/codec"
)

var (
	// ErrPermissionDenied means the platform refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable capture device could be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNotAcquired means Start was called before a successful Acquire.
	ErrNotAcquired = errors.New("microphone not acquired")
	// ErrAlreadyRecording means Start was called with a recording in progress.
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// MaxClipDuration bounds a single recording. The recorder stops itself at
// this point and delivers the clip as if the caller had stopped it.
const MaxClipDuration = 10 * time.Second

// Clip is one bounded recording, already encoded for upload.
type Clip struct {
	Data     []byte
	MIME     string
	Seconds  float64 // recorded audio length
	RawBytes int     // PCM size before compression
	EncodeMs float64
	Err      error // non-nil when encoding failed; Data is empty then
}

// Empty reports whether the clip carries no usable audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

type RecorderConfig struct {
	Device      *DeviceInfo   // nil means system default
	MaxDuration time.Duration // 0 means MaxClipDuration
	OnLevel     func(rms float64)
	Gate        *VoiceGate // nil means every clip counts as voiced
}

// Recorder turns an acquired capture device into discrete clips. One
// permission grab per session; many recordings per grab. At most one
// recording is buffering at any time.
type Recorder struct {
	ctx capctx
	cfg RecorderConfig

	mu        sync.Mutex
	dev       Device
	recording bool
	samples   []int16
	clipCh    chan Clip
	timer     *time.Timer
}

type capctx interface {
	NewCapture(device *DeviceInfo, config Config) (Device, error)
}

func NewRecorder(ctx Context, cfg RecorderConfig) *Recorder {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = MaxClipDuration
	}
	return &Recorder{ctx: ctx, cfg: cfg}
}

// Acquire opens the capture device. Idempotent once successful.
func (r *Recorder) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return nil
	}
	dev, err := r.ctx.NewCapture(r.cfg.Device, Config{
		SampleRate: codec.SampleRate,
		Channels:   codec.Channels,
	})
	if err != nil {
		return classifyAcquireError(err)
	}
	r.dev = dev
	return nil
}

func classifyAcquireError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// Start begins buffering audio. The returned channel delivers exactly one
// Clip, when Stop is called or MaxDuration elapses, whichever is first.
func (r *Recorder) Start() (<-chan Clip, error) {
	r.mu.Lock()
	if r.dev == nil {
		r.mu.Unlock()
		return nil, ErrNotAcquired
	}
	if r.recording {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.recording = true
	r.samples = r.samples[:0]
	r.clipCh = make(chan Clip, 1)
	ch := r.clipCh
	dev := r.dev
	r.mu.Unlock()

	if r.cfg.Gate != nil {
		r.cfg.Gate.reset()
	}

	dev.SetCallback(func(data []byte, _ uint32) {
		r.mu.Lock()
		if !r.recording {
			r.mu.Unlock()
			return
		}
		r.samples = append(r.samples, codec.BytesToSamples(data)...)
		r.mu.Unlock()

		if r.cfg.Gate != nil {
			r.cfg.Gate.process(data)
		}
		if r.cfg.OnLevel != nil && len(data) > 1 {
			r.cfg.OnLevel(rmsLevel(data))
		}
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		r.mu.Lock()
		r.recording = false
		r.clipCh = nil
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.timer = time.AfterFunc(r.cfg.MaxDuration, r.Stop)
	r.mu.Unlock()

	return ch, nil
}

// Stop ends the active recording and delivers its clip. Calling it with no
// recording active is a no-op: the max-duration timer and a manual stop
// can race, and losing that race is not an error.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	dev := r.dev
	samples := make([]int16, len(r.samples))
	copy(samples, r.samples)
	ch := r.clipCh
	r.clipCh = nil
	r.mu.Unlock()

	// Device teardown outside the lock: Stop waits for in-flight
	// callbacks, and the callback takes r.mu.
	dev.Stop()
	dev.ClearCallback()

	if r.cfg.Gate != nil && !r.cfg.Gate.voiced() {
		ch <- Clip{}
		return
	}
	ch <- encodeClip(samples)
}

func encodeClip(samples []int16) Clip {
	// Under a tenth of a second cannot hold speech; treat as silence.
	if len(samples) < codec.SampleRate/10 {
		return Clip{}
	}
	start := time.Now()
	data, err := codec.EncodeFLAC(samples)
	if err != nil {
		return Clip{Err: err}
	}
	return Clip{
		Data:     data,
		MIME:     "audio/flac",
		Seconds:  float64(len(samples)) / codec.SampleRate,
		RawBytes: len(samples) * 2,
		EncodeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

// Release stops any active recording and closes the device. Safe to call
// multiple times and before Acquire.
func (r *Recorder) Release() {
	r.Stop()
	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()
	if dev != nil {
		dev.Close()
	}
}

// Acquired reports whether the microphone is currently held.
func (r *Recorder) Acquired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev != nil
}

func rmsLevel(data []byte) float64 {
	var sumSquares float64
	n := 0
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(n))
}
