package attendance

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Counts is the number of records per status.
type Counts struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Excused int `json:"excused"`
	Total   int `json:"total"`
}

func (c *Counts) add(s Status, n int) {
	switch s {
	case StatusPresent:
		c.Present += n
	case StatusAbsent:
		c.Absent += n
	case StatusLate:
		c.Late += n
	case StatusExcused:
		c.Excused += n
	}
	c.Total += n
}

// Percentage is (present + late) / total as a percentage rounded to two
// decimals, or 0 for an empty range.
func (c Counts) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return math.Round(float64(c.Present+c.Late)/float64(c.Total)*10000) / 100
}

// DaySummary is one day of a report.
type DaySummary struct {
	Date       string  `json:"date"`
	Counts     Counts  `json:"counts"`
	Percentage float64 `json:"percentage"`
}

// Report aggregates committed records for a class or a student.
type Report struct {
	ClassID    string       `json:"class_id,omitempty"`
	StudentID  string       `json:"student_id,omitempty"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Counts     Counts       `json:"counts"`
	Percentage float64      `json:"percentage"`
	Days       []DaySummary `json:"days"`
}

// Projector builds reports from committed records. It never writes.
type Projector struct {
	repo Repository
}

func NewProjector(repo Repository) *Projector {
	return &Projector{repo: repo}
}

// Project aggregates q. Exactly one of ClassID and StudentID must be set.
func (p *Projector) Project(ctx context.Context, q ReportQuery) (Report, error) {
	if (q.ClassID == "") == (q.StudentID == "") {
		return Report{}, fmt.Errorf("%w: exactly one of class or student required", ErrInvalidRequest)
	}
	q.From, q.To = Day(q.From), Day(q.To)
	if q.To.Before(q.From) {
		return Report{}, fmt.Errorf("%w: range ends before it starts", ErrInvalidRequest)
	}

	tallies, err := p.repo.Tally(ctx, q)
	if err != nil {
		return Report{}, err
	}
	return build(q, tallies), nil
}

func build(q ReportQuery, tallies []Tally) Report {
	r := Report{
		ClassID:   q.ClassID,
		StudentID: q.StudentID,
		From:      DateString(q.From),
		To:        DateString(q.To),
		Days:      []DaySummary{},
	}
	var day time.Time
	var cur *DaySummary
	var counts Counts
	flush := func() {
		if cur != nil {
			cur.Counts = counts
			cur.Percentage = counts.Percentage()
			r.Days = append(r.Days, *cur)
		}
	}
	for _, t := range tallies {
		if cur == nil || !t.Date.Equal(day) {
			flush()
			day = t.Date
			cur = &DaySummary{Date: DateString(t.Date)}
			counts = Counts{}
		}
		counts.add(t.Status, t.Count)
		r.Counts.add(t.Status, t.Count)
	}
	flush()
	r.Percentage = r.Counts.Percentage()
	return r
}
