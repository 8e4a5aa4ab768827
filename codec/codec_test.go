package codec

import (
	"math"
	"testing"
)

func sineSamples(n int, freq float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / SampleRate
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 16000)
	}
	return samples
}

func TestSampleByteRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1000}
	got := BytesToSamples(SamplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToSamplesOddLength(t *testing.T) {
	if got := BytesToSamples([]byte{0x01, 0x02, 0x03}); len(got) != 1 {
		t.Errorf("got %d samples, want 1", len(got))
	}
}

func TestEncodeFLACMagic(t *testing.T) {
	data, err := EncodeFLAC(sineSamples(blockSize+blockSize/3, 440))
	if err != nil {
		t.Fatalf("EncodeFLAC: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
}

func TestEncodeFLACEmpty(t *testing.T) {
	data, err := EncodeFLAC(nil)
	if err != nil {
		t.Fatalf("EncodeFLAC: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFLACRoundTrip(t *testing.T) {
	in := sineSamples(blockSize*2+100, 220)
	data, err := EncodeFLAC(in)
	if err != nil {
		t.Fatalf("EncodeFLAC: %v", err)
	}

	out, rate, channels, err := DecodeFLAC(data)
	if err != nil {
		t.Fatalf("DecodeFLAC: %v", err)
	}
	if rate != SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, SampleRate)
	}
	if channels != Channels {
		t.Errorf("channels = %d, want %d", channels, Channels)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(out), len(in))
	}
	// Verbatim prediction: decode must be bit-exact.
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := sineSamples(1600, 330)
	data := EncodeWAV(in, SampleRate, 1)

	out, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != SampleRate || channels != 1 {
		t.Errorf("rate/channels = %d/%d, want %d/1", rate, channels, SampleRate)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"not riff":  []byte("fLaC...."),
		"truncated": []byte("RIFF\x00\x00\x00\x00WAVE"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, _, err := DecodeWAV(data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	data := EncodeWAV(sineSamples(100, 440), SampleRate, 1)
	data[20] = 3 // IEEE float format tag
	if _, _, _, err := DecodeWAV(data); err == nil {
		t.Error("expected error for non-PCM format")
	}
}
