package commands

import (
	"encoding/json"
	"io"

	"vtopassist-backend/internal/timetable"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderSchedule(out io.Writer, schedule timetable.ParsedSchedule, asJson bool) error {
	if asJson {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(schedule)
	}

	courses := newTable(out)
	courses.SetTitle("Courses")
	courses.AppendHeader(table.Row{"Code", "Title", "Type", "Credits", "Slot", "Venue", "Faculty"})
	for _, c := range schedule.Courses {
		courses.AppendRow(table.Row{c.Code, c.Title, c.Type, c.Credits.String(), c.Slot, c.Venue, c.Instructors})
	}
	courses.AppendFooter(table.Row{"", "", "Total", schedule.TotalCredits})
	courses.Render()

	grid := newTable(out)
	grid.SetTitle("Timetable")
	grid.AppendHeader(table.Row{"Day", "Slot", "Course", "Type", "Venue"})
	for _, day := range timetable.Days {
		for _, slot := range timetable.SlotLabels {
			occupant, ok := schedule.Grid.At(day, slot)
			if !ok {
				continue
			}
			grid.AppendRow(table.Row{day, slot, occupant.Code, occupant.Type, occupant.Venue})
		}
	}
	grid.Render()
	return nil
}
