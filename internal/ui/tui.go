// ABOUTME: TUI program wiring and transport event delivery
// ABOUTME: Runs the bubbletea program until quit or context cancellation
package ui

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/framesync/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
)

// EventFeed hands scheduler events to the TUI without blocking the scheduler
type EventFeed struct {
	ch chan transport.Event
}

// NewEventFeed creates a feed holding up to size undelivered events
func NewEventFeed(size int) *EventFeed {
	return &EventFeed{ch: make(chan transport.Event, size)}
}

// Publish offers ev to the TUI. Frame render events are skipped and events
// are dropped while the feed is full.
func (f *EventFeed) Publish(ev transport.Event) {
	if ev.Type == transport.EventFrameRendered {
		return
	}
	select {
	case f.ch <- ev:
	default:
	}
}

// wait returns a command delivering the next event
func (f *EventFeed) wait() tea.Cmd {
	if f == nil {
		return nil
	}
	return func() tea.Msg {
		return EventMsg(<-f.ch)
	}
}

// Run starts the TUI and blocks until the user quits or ctx ends
func Run(ctx context.Context, ctrl Controller, events *EventFeed) error {
	p := tea.NewProgram(NewModel(ctrl, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
