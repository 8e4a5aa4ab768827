package capture

import (
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays canned PCM through the Device interface so the
// recorder and session controller can be exercised without a microphone.
type FakeContext struct {
	pcm      []byte
	interval time.Duration

	failAcquire error
}

// NewFakeContext returns a context whose capture devices feed pcm in
// fakeFrameSize chunks every interval, then feed silence until stopped.
func NewFakeContext(pcm []byte, interval time.Duration) *FakeContext {
	return &FakeContext{pcm: pcm, interval: interval}
}

// FailingContext returns a context whose NewCapture always fails with err.
// Simulates a missing or permission-blocked device.
func FailingContext(err error) *FakeContext {
	return &FakeContext{failAcquire: err}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ Config) (Device, error) {
	if f.failAcquire != nil {
		return nil, f.failAcquire
	}
	return &FakeDevice{pcm: f.pcm, interval: f.interval}, nil
}

type FakeDevice struct {
	pcm      []byte
	interval time.Duration

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
	starts   int
}

func (f *FakeDevice) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeDevice) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeDevice) DeviceName() string { return "fake" }

// Starts reports how many times Start ran. Tests use it to check the
// device is reused across recordings rather than reopened.
func (f *FakeDevice) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *FakeDevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDevice) Start() error {
	f.mu.Lock()
	f.starts++
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	interval := f.interval
	if interval <= 0 {
		interval = time.Millisecond
	}

	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]byte, fakeFrameSize*fakeBytesPerFrame)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				continue
			}

			if pos < len(f.pcm) {
				end := pos + fakeFrameSize*fakeBytesPerFrame
				if end > len(f.pcm) {
					end = len(f.pcm)
				}
				chunk := make([]byte, end-pos)
				copy(chunk, f.pcm[pos:end])
				pos = end
				cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
			} else {
				cb(silence, fakeFrameSize)
			}
		}
	}()
	return nil
}

func (f *FakeDevice) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.stopCh, f.feedDone = nil, nil
	f.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-feedDone
	}
}

func (f *FakeDevice) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
