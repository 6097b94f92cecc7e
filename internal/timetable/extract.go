// Package timetable turns the portal's timetable page into a ParsedSchedule.
//
// The page carries two independent structures: the registered courses table and
// the weekly grid. Either may be missing (the portal renders partial pages when a
// semester has no registrations yet), in which case the matching part of the
// result keeps its zero value instead of failing the whole document.
package timetable

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

const defaultTotalCredits = "0.0"

func empty() ParsedSchedule {
	return ParsedSchedule{
		TotalCredits: defaultTotalCredits,
		Courses:      []CourseEntry{},
		Grid:         NewGrid(),
	}
}

// Extract parses a timetable page. It never fails, unrecognized markup yields
// empty courses and an empty grid.
func Extract(page []byte) ParsedSchedule {
	if len(bytes.TrimSpace(page)) == 0 {
		return empty()
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return empty()
	}
	return ExtractDocument(doc)
}

// ExtractDocument is Extract for an already parsed document.
func ExtractDocument(doc *goquery.Document) ParsedSchedule {
	out := empty()
	out.Courses, out.TotalCredits = extractCourses(doc)
	out.Grid = extractGrid(doc)
	return out
}
