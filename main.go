package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"pauz/backend"
	"pauz/capture"
	"pauz/creds"
	"pauz/doctor"
	"pauz/log"
	"pauz/playback"
	"pauz/session"
	"pauz/shutdown"
)

var version = "dev"

const defaultServer = "http://localhost:8000"

func main() {
	run()
}

func serverDefault() string {
	if s := os.Getenv("PAUZ_SERVER"); s != "" {
		return s
	}
	return defaultServer
}

func run() {
	serverFlag := flag.String("server", serverDefault(), "Assistant server base URL")
	tokenFlag := flag.String("token", "", "Bearer token (overrides PAUZ_TOKEN and the token file)")
	textFlag := flag.Bool("text", false, "Text-only mode: no continuous voice loop")
	muteFlag := flag.Bool("mute", false, "Start muted (responses shown as text, not spoken)")
	noWelcomeFlag := flag.Bool("no-welcome", false, "Skip the spoken greeting on start")
	contextFlag := flag.String("context", "", "Journal context sent with text questions")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven); optional WAV file argument feeds capture")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *versionFlag {
		fmt.Printf("pauz %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(*serverFlag))
	}

	var tokens creds.Provider = creds.Stored{}
	if *tokenFlag != "" {
		tokens = creds.Static(*tokenFlag)
	}
	client := backend.NewClient(*serverFlag, tokens)

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	mode := "voice"
	if *textFlag {
		mode = "text"
	}
	log.SessionStart(*serverFlag, mode)

	if *testFlag {
		wavPath := ""
		if len(flag.Args()) > 0 {
			wavPath = flag.Args()[0]
		}
		runTestMode(client, wavPath, headlessOptions{
			voiceLoop: !*textFlag,
			welcome:   !*noWelcomeFlag,
			muted:     *muteFlag,
			context:   *contextFlag,
		})
		return
	}

	// A failing audio stack degrades the session to text-only rather
	// than refusing to start.
	actx, err := capture.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: audio unavailable, text only: %v\n", err)
		actx = capture.FailingContext(err)
	}
	defer actx.Close()

	var selectedDevice *capture.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := actx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
	} else if *setupFlag {
		selectedDevice, err = capture.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	gate, err := capture.NewVoiceGate()
	if err != nil {
		log.Warnf("voice detection unavailable: %v", err)
		gate = nil
	}
	recorder := capture.NewRecorder(actx, capture.RecorderConfig{
		Device:  selectedDevice,
		OnLevel: func(rms float64) { tuiSend(audioLevelMsg{level: rms}) },
		Gate:    gate,
	})
	speaker := playback.NewSpeaker()

	controller := session.New(session.Config{
		Backend:        client,
		Recorder:       recorder,
		Player:         speaker,
		VoiceLoop:      !*textFlag,
		Welcome:        !*noWelcomeFlag,
		Muted:          *muteFlag,
		JournalContext: *contextFlag,
		OnChange:       func() { tuiSend(sessionChangedMsg{}) },
	})
	defer controller.Close()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	if !*tuiFlag {
		controller.Open()
		<-sigChan
		return
	}

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(controller, selectedDevice)
	tuiMu.Unlock()

	go func() {
		<-sigChan
		tuiProgram.Quit()
	}()

	controller.Open()
	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		controller.Close()
		os.Exit(1)
	}
}
