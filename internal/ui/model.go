// ABOUTME: Bubbletea model for the transport TUI
// ABOUTME: Polls scheduler state, maps keys to transport commands, and renders status
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
)

// RefreshInterval is how often the model polls transport state
const RefreshInterval = 50 * time.Millisecond

// Controller is the transport the TUI drives
type Controller interface {
	Play() error
	Pause() error
	Stop() error
	Seek(frameIndex int) error
	Step(delta int) error
	SetDropFrameMode(enabled bool) error
	State() transport.Snapshot
}

// Model represents the TUI state
type Model struct {
	ctrl   Controller
	events *EventFeed

	state     transport.Snapshot
	lastEvent string
	err       error

	showDebug bool

	width  int
	height int
}

// tickMsg triggers a state poll
type tickMsg time.Time

// refreshMsg polls state once after a command
type refreshMsg struct{}

// EventMsg carries a transport event to the model
type EventMsg transport.Event

// errMsg reports a failed command
type errMsg struct{ err error }

// NewModel creates a model for ctrl. events may be nil.
func NewModel(ctrl Controller, events *EventFeed) Model {
	return Model{
		ctrl:   ctrl,
		events: events,
		state:  ctrl.State(),
	}
}

// Init starts polling and event delivery
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.events.wait())
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.state = m.ctrl.State()
		return m, tick()
	case refreshMsg:
		m.state = m.ctrl.State()
		m.err = nil
	case EventMsg:
		m.lastEvent = describeEvent(transport.Event(msg))
		return m, m.events.wait()
	case errMsg:
		m.err = msg.err
	}

	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	second := int(m.fps() + 0.5)
	if second < 1 {
		second = 1
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		if m.state.Mode == transport.ModePlaying {
			return m, m.command(m.ctrl.Pause)
		}
		return m, m.command(m.ctrl.Play)
	case "s":
		return m, m.command(m.ctrl.Stop)
	case "right", "l":
		return m, m.command(func() error { return m.ctrl.Step(1) })
	case "left", "h":
		return m, m.command(func() error { return m.ctrl.Step(-1) })
	case "up", "pgup":
		return m, m.command(func() error { return m.ctrl.Step(second) })
	case "down", "pgdown":
		return m, m.command(func() error { return m.ctrl.Step(-second) })
	case "home":
		return m, m.command(func() error { return m.ctrl.Seek(0) })
	case "end":
		last := m.state.FrameCount - 1
		return m, m.command(func() error { return m.ctrl.Seek(last) })
	case "d":
		enabled := !m.state.DropFrame
		return m, m.command(func() error { return m.ctrl.SetDropFrameMode(enabled) })
	case "v":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// command runs fn off the update loop and refreshes state afterwards
func (m Model) command(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return refreshMsg{}
	}
}

func (m Model) fps() float64 {
	if m.state.DurationMicros <= 0 || m.state.FrameCount == 0 {
		return 0
	}
	return float64(m.state.FrameCount) * 1e6 / float64(m.state.DurationMicros)
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderPosition())
	b.WriteString(m.renderTiming())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

// renderHeader renders clip and transport mode
func (m Model) renderHeader() string {
	clip := m.state.ClipName
	if m.state.ContextID == "" {
		clip = "(no clip)"
	}

	audio := "silent"
	if m.state.AudioActive {
		audio = "audio"
	}
	pacing := "sequential"
	if m.state.DropFrame {
		pacing = "drop-frame"
	}

	return fmt.Sprintf(`┌─ framesync ──────────────────────────────────────────┐
│ Clip:   %-44s │
│ Mode:   %-8s %-10s clock:%-5s %-12s │
├──────────────────────────────────────────────────────┤
`, truncate(clip, 44), m.state.Mode, pacing, m.state.ClockSource, audio)
}

// renderPosition renders frame position and progress
func (m Model) renderPosition() string {
	total := m.state.FrameCount
	frame := fmt.Sprintf("%d / %d", m.state.FrameIndex, max(total-1, 0))
	pos := fmt.Sprintf("%s / %s", formatMicros(m.state.PositionMicros), formatMicros(m.state.DurationMicros))

	return fmt.Sprintf("│ Frame:  %-20s %23s │\n│ [%s] │\n",
		frame, pos, renderBar(m.state.FrameIndex, max(total-1, 1), 50))
}

// renderTiming renders estimator and counters
func (m Model) renderTiming() string {
	s := fmt.Sprintf("│ Decode: %7.0fµs  Render: %7.0fµs  Est: %7dµs │\n",
		m.state.DecodeEMA, m.state.RenderEMA, m.state.ProcessingEMA)
	s += fmt.Sprintf("│ Rendered: %-8d Dropped: %-8d Failed: %-8d │\n",
		m.state.FramesRendered, m.state.FramesDropped, m.state.DecodeFailures+m.state.RenderFailures)

	status := m.lastEvent
	if m.err != nil {
		status = "error: " + m.err.Error()
	}
	s += fmt.Sprintf("│ %-52s │\n", truncate(status, 52))
	return s
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf("│ DEBUG: context %-37s │\n│   displayed frame: %-33d │\n",
		truncate(m.state.ContextID, 37), m.state.DisplayedFrame)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `├──────────────────────────────────────────────────────┤
│ space:Play/Pause  ←/→:Step  ↑/↓:±1s  home/end:Seek   │
│ d:Drop-frame  s:Stop  v:Debug  q:Quit                │
└──────────────────────────────────────────────────────┘
`
}

func describeEvent(ev transport.Event) string {
	switch ev.Type {
	case transport.EventFramesDropped:
		return fmt.Sprintf("dropped %d frames before %d", ev.Count, ev.Frame)
	case transport.EventDecodeFailed, transport.EventRenderFailed:
		return fmt.Sprintf("%s at frame %d", ev.Type, ev.Frame)
	case transport.EventDecodeFailing:
		return fmt.Sprintf("decoder failing (%d in a row)", ev.Count)
	case transport.EventAudioDegraded:
		if ev.Err != nil {
			return "audio lost: " + ev.Err.Error()
		}
		return "audio lost"
	case transport.EventCompleted:
		return "playback completed"
	default:
		return ev.Type.String()
	}
}

// Utility functions
func renderBar(value, total, width int) string {
	if total <= 0 {
		total = 1
	}
	filled := min(max(0, value*width/total), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatMicros(us int64) string {
	d := time.Duration(us) * time.Microsecond
	minutes := int(d / time.Minute)
	seconds := (d % time.Minute).Seconds()
	return fmt.Sprintf("%02d:%06.3f", minutes, seconds)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
