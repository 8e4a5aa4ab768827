// Package doctor runs interactive diagnostics: credentials, the
// capture path, the speaker and backend reachability, in the order a
// voice session needs them.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pauz/backend"
	"pauz/capture"
	"pauz/codec"
	"pauz/creds"
	"pauz/playback"
)

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(server string) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("pauz doctor - interactive system diagnostics")
	fmt.Println("============================================")

	allPass := true

	if !checkCredentials() {
		allPass = false
	}
	if !checkMicrophone() {
		allPass = false
	}
	if allPass && !checkSpeaker() {
		allPass = false
	}
	if allPass && !checkBackend(server) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkCredentials() bool {
	fmt.Println()
	fmt.Println("[1/4] Credentials")

	token := creds.Stored{}.Token()
	if token == "" {
		fmt.Println("  WARN: no token found (PAUZ_TOKEN or token file); requests will be unauthenticated")
		return true
	}
	fmt.Printf("  PASS: token present (%d chars)\n", len(token))
	return true
}

func checkMicrophone() bool {
	fmt.Println()
	fmt.Println("[2/4] Microphone capture")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := capture.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *capture.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		devChoice, _ := reader.ReadString('\n')
		devChoice = strings.TrimSpace(devChoice)
		idx := 0
		if devChoice != "" {
			fmt.Sscanf(devChoice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Printf("  FAIL: invalid choice\n")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	stop := make(chan struct{})
	go func() {
		time.Sleep(3 * time.Second)
		close(stop)
	}()

	pcm, err := recordAudio(ctx, device, stop)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	samples := codec.BytesToSamples(pcm)
	clip, err := codec.EncodeFLAC(samples)
	if err != nil {
		fmt.Printf("  FAIL: encoding error: %v\n", err)
		return false
	}

	fmt.Printf("  PASS: recorded %.1fs, %.1f KB raw -> %.1f KB flac\n",
		float64(len(samples))/codec.SampleRate,
		float64(len(pcm))/1024,
		float64(len(clip))/1024)
	return true
}

func recordAudio(ctx capture.Context, device *capture.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex
	var stopped bool
	done := make(chan struct{})

	config := capture.Config{
		SampleRate: codec.SampleRate,
		Channels:   codec.Channels,
	}

	captureDevice, err := ctx.NewCapture(device, config)
	if err != nil {
		return nil, err
	}

	captureDevice.SetCallback(func(data []byte, frameCount uint32) {
		bufMu.Lock()
		if stopped {
			bufMu.Unlock()
			return
		}
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})

	if err := captureDevice.Start(); err != nil {
		captureDevice.Close()
		return nil, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	<-stop
	close(done)

	captureDevice.Stop()
	fmt.Println(" done")
	captureDevice.Close()

	bufMu.Lock()
	stopped = true
	raw := pcmBuf
	bufMu.Unlock()

	return raw, nil
}

func checkSpeaker() bool {
	fmt.Println()
	fmt.Println("[3/4] Speaker output")

	speaker := playback.NewSpeaker()
	speaker.PlayCue(playback.CueListen)
	time.Sleep(time.Second)

	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Did you hear a short tick? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: speaker verified by user")
		return true
	}
	fmt.Println("  FAIL: speaker not confirmed")
	return false
}

func checkBackend(server string) bool {
	fmt.Println()
	fmt.Println("[4/4] Assistant service")

	if server == "" {
		fmt.Println("  FAIL: no server configured (use -server)")
		return false
	}
	fmt.Printf("  Fetching welcome from %s ...\n", server)

	client := backend.NewClient(server, creds.Stored{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.Welcome(ctx)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}

	fmt.Printf("  PASS: welcome %q (%d bytes of %s audio)\n", res.Text, len(res.Audio), res.MIME)
	return true
}
