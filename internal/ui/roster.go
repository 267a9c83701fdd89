package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/voicemesh/internal/mesh"
)

// RosterView renders the peers of one room session.
func RosterView(room string, peers []mesh.PeerInfo) string {
	title := TitleStyle.Render(fmt.Sprintf("room %s", room))
	if len(peers) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, MutedStyle.Render("alone in the room"))
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		name := p.Participant.Username
		if name == "" {
			name = "?"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			name,
			shortID(string(p.Participant.ID)),
			p.Role.String(),
			p.State.String(),
			p.Link.String(),
			strconv.FormatUint(p.Audio.Packets, 10),
			strconv.FormatUint(p.Audio.Lost, 10),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "User", "ID", "Role", "Negotiation", "Link", "Packets", "Lost").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case col == 5:
				return linkStyle(peers[row].Link)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return lipgloss.JoinVertical(lipgloss.Left, title, tbl.Render())
}

func linkStyle(s mesh.LinkState) lipgloss.Style {
	switch s {
	case mesh.LinkConnected:
		return TableRowStyle.Foreground(Success)
	case mesh.LinkDisconnected:
		return TableRowStyle.Foreground(Warning)
	case mesh.LinkFailed:
		return TableRowStyle.Foreground(Error)
	default:
		return TableRowStyle
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
