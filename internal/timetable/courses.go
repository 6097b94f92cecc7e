package timetable

import (
	"strings"

	"vtopassist-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

const (
	courseTableSelector = "#getStudentDetails div.table-responsive table.table"
	totalCreditsMarker  = "Total Number Of Credits"
	codeTitleDelimiter  = " - "
	defaultCourseType   = "Theory"
	defaultSlotOrVenue  = "N/A"

	// fixed cell positions of a registered course row
	courseMinCells    = 9
	courseInfoCell    = 2
	courseCreditCell  = 3
	courseSlotCell    = 7
	courseFacultyCell = 8
)

// extractCourses returns the well-formed course rows and the total credits.
func extractCourses(doc *goquery.Document) ([]CourseEntry, string) {
	courses := []CourseEntry{}

	table := doc.Find(courseTableSelector).First()
	if table.Length() == 0 {
		return courses, defaultTotalCredits
	}

	rows := table.Find("tr")
	// the first row is the header and the last one holds the credit total
	if rows.Length() > 2 {
		rows.Slice(1, rows.Length()-1).Each(func(_ int, row *goquery.Selection) {
			course, ok := parseCourseRow(row)
			if ok {
				courses = append(courses, course)
			}
		})
	}

	total, ok := findTotalCredits(table)
	if !ok {
		sum := decimal.Zero
		for _, c := range courses {
			sum = sum.Add(c.Credits)
		}
		total = sum.StringFixed(1)
	}
	return courses, total
}

func parseCourseRow(row *goquery.Selection) (CourseEntry, bool) {
	cells := row.ChildrenFiltered("td")
	if cells.Length() < courseMinCells {
		return CourseEntry{}, false
	}

	info := cells.Eq(courseInfoCell).Find("p")
	if info.Length() == 0 {
		return CourseEntry{}, false
	}
	codeTitle := strings.SplitN(htmlutil.StrippedText(info.Eq(0)), codeTitleDelimiter, 2)
	if len(codeTitle) < 2 {
		return CourseEntry{}, false
	}
	code := strings.TrimSpace(codeTitle[0])
	title := strings.TrimSpace(codeTitle[1])
	if code == "" || title == "" {
		return CourseEntry{}, false
	}

	courseType := defaultCourseType
	if info.Length() > 1 {
		courseType = htmlutil.StrippedText(info.Eq(1))
	}
	courseType = strings.Trim(courseType, "() ")

	// the credit cell reads "L T P J C", the last column is the credit count
	creditFields := strings.Fields(cells.Eq(courseCreditCell).Text())
	if len(creditFields) == 0 {
		return CourseEntry{}, false
	}
	credits, err := decimal.NewFromString(creditFields[len(creditFields)-1])
	if err != nil {
		return CourseEntry{}, false
	}

	slot := defaultSlotOrVenue
	venue := defaultSlotOrVenue
	slotVenue := cells.Eq(courseSlotCell).Find("p")
	if slotVenue.Length() > 0 {
		slot = strings.ReplaceAll(htmlutil.StrippedText(slotVenue.Eq(0)), " -", "")
	}
	if slotVenue.Length() > 1 {
		venue = htmlutil.StrippedText(slotVenue.Eq(1))
	}

	var faculty []string
	cells.Eq(courseFacultyCell).Find("p").Each(func(_ int, p *goquery.Selection) {
		text := htmlutil.StrippedText(p)
		if text != "" {
			faculty = append(faculty, text)
		}
	})

	return CourseEntry{
		Code:        code,
		Title:       title,
		Type:        courseType,
		Credits:     credits,
		Instructors: strings.ReplaceAll(strings.Join(faculty, " "), " - ", " "),
		Slot:        slot,
		Venue:       venue,
	}, true
}

// findTotalCredits reads the bold value of the summary cell.
func findTotalCredits(table *goquery.Selection) (string, bool) {
	var total string
	found := false
	table.Find("td, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if !strings.Contains(cell.Text(), totalCreditsMarker) {
			return true
		}
		bold := cell.Find("b").First()
		if bold.Length() == 0 {
			return true
		}
		// tolerate "<b>Total Number Of Credits: 21</b>" as well as "<b>21</b>"
		fields := strings.Fields(strings.ReplaceAll(htmlutil.StrippedText(bold), ":", " "))
		if len(fields) == 0 {
			return true
		}
		value := fields[len(fields)-1]
		if _, err := decimal.NewFromString(value); err != nil {
			return true
		}
		total = value
		found = true
		return false
	})
	return total, found
}
