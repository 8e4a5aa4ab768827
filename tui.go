package main

import (
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pauz/capture"
	"pauz/session"
)

// TUI message types
type sessionChangedMsg struct{}
type audioLevelMsg struct{ level float64 }
type tickMsg time.Time

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	styleUser      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleListening = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleThinking  = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	styleSpeaking  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleMeter     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleCopied    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type tuiModel struct {
	ctrl          *session.Controller
	deviceLine    string
	width, height int
	frame         int
	level         float64
	input         string
	copied        bool
	copiedAt      time.Time
}

func NewTUIProgram(ctrl *session.Controller, device *capture.DeviceInfo) *tea.Program {
	name := "system default"
	suffix := ""
	if device != nil {
		name = device.Name
		if capture.IsBluetooth(device.Name) {
			suffix = " (BT!)"
		}
	}
	m := tuiModel{ctrl: ctrl, deviceLine: "mic: " + name + suffix}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		if m.copied && time.Since(m.copiedAt) > 2*time.Second {
			m.copied = false
		}
		return m, tuiTick()

	case sessionChangedMsg:
		// State and turns are read straight off the controller in View.

	case audioLevelMsg:
		m.level = m.level*0.6 + msg.level*0.4
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Close()
		return m, tea.Quit

	case "enter":
		if m.input != "" {
			m.ctrl.SubmitText(m.input)
			m.input = ""
		} else {
			m.ctrl.StopListening()
		}

	case "backspace":
		if m.input != "" {
			m.input = m.input[:len(m.input)-1]
		}

	case "ctrl+u":
		m.input = ""

	case "tab":
		m.ctrl.ToggleMute()

	case "ctrl+r":
		m.ctrl.StartListening()

	case "ctrl+y":
		if text := lastAssistantText(m.ctrl.Turns()); text != "" {
			if err := clipboard.WriteAll(text); err == nil {
				m.copied = true
				m.copiedAt = time.Now()
			}
		}

	default:
		if msg.Type == tea.KeyRunes {
			m.input += string(msg.Runes)
		} else if msg.Type == tea.KeySpace {
			m.input += " "
		}
	}
	return m, nil
}

func lastAssistantText(turns []session.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == session.SpeakerAssistant {
			return turns[i].Text
		}
	}
	return ""
}

var thinkingFrames = []string{"   ", ".  ", ".. ", "..."}

func (m tuiModel) statusLine() string {
	st := m.ctrl.State()
	var line string
	switch st {
	case session.StateListening:
		line = styleListening.Render("● LISTENING ") + renderMeter(m.level)
	case session.StateThinking:
		line = styleThinking.Render("◌ THINKING" + thinkingFrames[m.frame%len(thinkingFrames)])
	case session.StateSpeaking:
		line = styleSpeaking.Render("▶ SPEAKING")
	case session.StateWelcoming:
		line = styleSpeaking.Render("▶ WELCOME")
	case session.StateError:
		line = styleError.Render("✕ CONNECTION ISSUE. RETRYING…")
	default:
		line = styleIdle.Render("○ STANDBY")
	}
	if m.ctrl.Muted() {
		line += " " + styleMuted.Render("[muted]")
	}
	if m.copied {
		line += " " + styleCopied.Render("[✓ copied]")
	}
	return line
}

func renderMeter(level float64) string {
	const slots = 20
	filled := int(level * 3 * slots)
	if filled > slots {
		filled = slots
	}
	return styleMeter.Render(strings.Repeat("█", filled)) +
		styleDim.Render(strings.Repeat("░", slots-filled))
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.statusLine() + "\n")

	micLine := m.deviceLine
	if err := m.ctrl.MicErr(); err != nil {
		micLine = "mic unavailable - enable microphone access to talk (" + err.Error() + ")"
	}
	b.WriteString(styleIdle.Render(micLine) + "\n\n")

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	// Conversation fills the space between header and the two bottom
	// lines; oldest turns scroll off the top.
	var convo []string
	for _, turn := range m.ctrl.Turns() {
		style, label := styleAssistant, "pauz: "
		if turn.Speaker == session.SpeakerUser {
			style, label = styleUser, "you:  "
		}
		for i, line := range wrapText(turn.Text, wrapWidth-len(label)) {
			prefix := label
			if i > 0 {
				prefix = strings.Repeat(" ", len(label))
			}
			convo = append(convo, styleDim.Render(prefix)+style.Render(line))
		}
	}
	convoHeight := m.height - 6
	if convoHeight < 1 {
		convoHeight = 1
	}
	if len(convo) > convoHeight {
		convo = convo[len(convo)-convoHeight:]
	}
	for _, line := range convo {
		b.WriteString(line + "\n")
	}
	for i := len(convo); i < convoHeight; i++ {
		b.WriteString("\n")
	}

	help := "enter: send/stop · tab: mute · ctrl+r: listen · ctrl+y: copy reply · ctrl+c: quit"
	b.WriteString("\n" + styleDim.Render(help) + "\n")
	b.WriteString("> " + m.input + "▌")

	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
