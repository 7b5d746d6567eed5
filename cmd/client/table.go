package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// participantTable reprints the room whenever the rendered view changes.
type participantTable struct {
	out io.Writer

	mu   sync.Mutex
	last string
}

func newParticipantTable(out io.Writer) *participantTable {
	return &participantTable{out: out}
}

func (p *participantTable) Update(snap session.Snapshot) {
	view := renderSnapshot(snap)
	p.mu.Lock()
	defer p.mu.Unlock()
	if view == p.last {
		return
	}
	p.last = view
	fmt.Fprintln(p.out, view)
}

func renderSnapshot(snap session.Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	title := fmt.Sprintf("%s · %s", snap.Session.Room, snap.Status)
	if snap.Error != "" {
		title += " · " + snap.Error
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"#", "Identity", "Name", "Mic", "Camera", ""})
	for i, p := range snap.Participants {
		var tags []string
		if p.IsLocal {
			tags = append(tags, "you")
		}
		if p.IsMuted {
			tags = append(tags, "muted")
		}
		t.AppendRow(table.Row{i + 1, p.Identity, p.DisplayName, onOff(p.IsMicrophoneOn), onOff(p.IsCameraOn), strings.Join(tags, ",")})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignCenter},
		{Number: 5, Align: text.AlignCenter},
	})
	return t.Render()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "-"
}
