package timetable

import (
	"strconv"
	"strings"

	"vtopassist-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	gridTableSelector = "table#timeTableStyle"

	// a day row reads: <day name (rowspan)> <THEORY|LAB label> <slot cells...>
	dayRowOffset = 2
	// a continuation row reads: <THEORY|LAB label> <slot cells...>
	continuationRowOffset = 1

	// "<slot>-<code>-<type>-<venue...>-<batch>"
	cellDelimiter = "-"
	cellMinParts  = 4
)

var continuationMarkers = map[string]bool{
	"THEORY": true,
	"LAB":    true,
}

// gridTable picks the weekly grid. The portal renders a legend table with the
// same id before it, when only one table is present it is taken as the grid.
// A lone legend yields an empty grid: its rows name no day and its THEORY and
// LAB header rows come before any day row.
func gridTable(doc *goquery.Document) *goquery.Selection {
	tables := doc.Find(gridTableSelector)
	switch {
	case tables.Length() >= 2:
		return tables.Eq(1)
	case tables.Length() == 1:
		return tables.Eq(0)
	}
	return nil
}

func extractGrid(doc *goquery.Document) ScheduleGrid {
	grid := NewGrid()
	table := gridTable(doc)
	if table == nil {
		return grid
	}

	var currentDay Day
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}
		first := cells.First()

		offset := 0
		if _, isDayRow := first.Attr("rowspan"); isDayRow {
			currentDay = Day(strings.ToUpper(htmlutil.StrippedText(first)))
			offset = dayRowOffset
		} else if continuationMarkers[strings.ToUpper(htmlutil.StrippedText(first))] {
			offset = continuationRowOffset
		} else {
			// header rows (start/end times) and anything unrecognized
			return
		}

		slots, ok := grid[currentDay]
		if !ok || cells.Length() <= offset {
			return
		}
		fillRow(slots, cells.Slice(offset, goquery.ToEnd))
	})

	return grid
}

// fillRow writes the classes of one row into the day's slots. The column is
// tracked by a running index advanced by each cell's colspan, since a merged
// cell shifts every cell after it.
func fillRow(slots map[string]ClassOccupant, cells *goquery.Selection) {
	column := 0
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if column >= len(SlotLabels) {
			return false
		}
		span := colspan(cell)

		occupant, ok := decodeCell(htmlutil.StrippedText(cell))
		if ok {
			for i := 0; i < span; i++ {
				index := column + i
				if index >= len(SlotLabels) {
					break
				}
				label := SlotLabels[index]
				if label == LunchSlot {
					continue
				}
				slots[label] = occupant
			}
		}

		column += span
		return true
	})
}

func colspan(cell *goquery.Selection) int {
	span, err := strconv.Atoi(strings.TrimSpace(cell.AttrOr("colspan", "1")))
	if err != nil || span < 1 {
		return 1
	}
	return span
}

// decodeCell parses a populated cell like "L31-CSE1002-ELA-SJT-516-ALL". The venue
// may itself contain hyphens so it is everything between the type and the last part.
func decodeCell(text string) (ClassOccupant, bool) {
	if text == "" || text == cellDelimiter {
		return ClassOccupant{}, false
	}
	parts := strings.Split(text, cellDelimiter)
	if len(parts) < cellMinParts {
		return ClassOccupant{}, false
	}
	code := strings.TrimSpace(parts[1])
	if code == "" {
		return ClassOccupant{}, false
	}
	return ClassOccupant{
		Code:  code,
		Type:  strings.TrimSpace(parts[2]),
		Venue: strings.Join(parts[3:len(parts)-1], cellDelimiter),
	}, true
}
