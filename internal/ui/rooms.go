package ui

import (
	"slices"
	"strings"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RoomsView renders the relay's room list sorted by room id.
func RoomsView(rooms []core.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("no active rooms")
	}
	sorted := slices.Clone(rooms)
	slices.SortFunc(sorted, func(a, b core.RoomInfo) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Members"})
	total := 0
	for _, r := range sorted {
		t.AppendRow(table.Row{r.ID, r.MemberCount})
		total += r.MemberCount
	}
	t.AppendFooter(table.Row{"Total", total})
	return t.Render()
}
