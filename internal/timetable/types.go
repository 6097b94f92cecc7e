package timetable

import (
	"github.com/shopspring/decimal"
)

type Day string

const (
	Monday    Day = "MON"
	Tuesday   Day = "TUE"
	Wednesday Day = "WED"
	Thursday  Day = "THU"
	Friday    Day = "FRI"
	Saturday  Day = "SAT"
	Sunday    Day = "SUN"
)

// Days lists the grid's day keys in week order.
var Days = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// LunchSlot is a column of the portal's grid that never carries a class.
const LunchSlot = "LUNCH"

// SlotLabels are the 13 columns of the portal's weekly grid, in order. The lunch
// column is part of the sequence because the portal renders it as a cell.
var SlotLabels = []string{
	"08:00 - 08:50",
	"08:55 - 09:45",
	"09:50 - 10:40",
	"10:45 - 11:35",
	"11:40 - 12:30",
	"12:35 - 13:25",
	LunchSlot,
	"14:00 - 14:50",
	"14:55 - 15:45",
	"15:50 - 16:40",
	"16:45 - 17:35",
	"17:40 - 18:30",
	"18:35 - 19:25",
}

type CourseEntry struct {
	Code        string          `json:"course_code"`
	Title       string          `json:"course_title"`
	Type        string          `json:"course_type"`
	Credits     decimal.Decimal `json:"credits"`
	Instructors string          `json:"faculty"`
	Slot        string          `json:"slot"`
	Venue       string          `json:"venue"`
}

// ClassOccupant is what occupies one slot of the grid.
type ClassOccupant struct {
	Code  string `json:"code"`
	Type  string `json:"type"`
	Venue string `json:"venue"`
}

// ScheduleGrid maps a day to the occupied slots of that day, keyed by slot label.
// Free slots have no key.
type ScheduleGrid map[Day]map[string]ClassOccupant

// NewGrid returns a grid with every day present and no slot occupied.
func NewGrid() ScheduleGrid {
	grid := make(ScheduleGrid, len(Days))
	for _, day := range Days {
		grid[day] = map[string]ClassOccupant{}
	}
	return grid
}

// At returns the class occupying the given slot, if any.
func (g ScheduleGrid) At(day Day, slot string) (ClassOccupant, bool) {
	occupant, ok := g[day][slot]
	return occupant, ok
}

// Occupied counts the occupied slots across the whole week.
func (g ScheduleGrid) Occupied() int {
	n := 0
	for _, slots := range g {
		n += len(slots)
	}
	return n
}

type ParsedSchedule struct {
	TotalCredits string        `json:"total_credits"`
	Courses      []CourseEntry `json:"courses"`
	Grid         ScheduleGrid  `json:"timetable"`
}
