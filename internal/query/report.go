package query

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"defectra.org/internal/auth"
	"defectra.org/internal/tracker"
)

// Period selects how far back a report looks, by defect creation time.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodAll     Period = "all"
)

// ErrUnknownPeriod is returned for a period outside the known set.
var ErrUnknownPeriod = errors.New("query: unknown report period")

// ParsePeriod defaults a blank value to PeriodAll.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return PeriodAll, nil
	case PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear, PeriodAll:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// Cutoff returns the earliest creation time included in the period.
// Calendar periods start at midnight in now's location.
func (p Period) Cutoff(now time.Time) time.Time {
	y, m, _ := now.Date()
	loc := now.Location()
	switch p {
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case PeriodQuarter:
		q := (int(m) - 1) / 3
		return time.Date(y, time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
	case PeriodYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

// ReportFilter narrows the defects a report covers.
type ReportFilter struct {
	Period    Period
	ProjectID *int64
}

// Rollup counts defects attached to one user or project.
type Rollup struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Open   int    `json:"open"`
	Closed int    `json:"closed"`
}

// Report aggregates the filtered defects.
type Report struct {
	Period            Period                   `json:"period"`
	From              *time.Time               `json:"from,omitempty"`
	TotalDefects      int                      `json:"totalDefects"`
	OpenDefects       int                      `json:"openDefects"`
	ClosedDefects     int                      `json:"closedDefects"`
	OverdueDefects    int                      `json:"overdueDefects"`
	ByStatus          map[tracker.Status]int   `json:"byStatus"`
	ByPriority        map[tracker.Priority]int `json:"byPriority"`
	ByUser            []Rollup                 `json:"byUser"`
	ByProject         []Rollup                 `json:"byProject"`
	AvgResolutionDays float64                  `json:"avgResolutionDays"`
	Defects           []tracker.Defect         `json:"defects"`
}

// BuildReport aggregates the defects created within the period, optionally
// restricted to one project. Every user and project gets a rollup row, even
// when its counts are zero.
func BuildReport(snap tracker.Snapshot, users []auth.User, f ReportFilter, now time.Time) Report {
	if f.Period == "" {
		f.Period = PeriodAll
	}
	defects := snap.Defects
	if f.ProjectID != nil {
		defects = DefectsByProject(defects, *f.ProjectID)
	}
	r := Report{
		Period:     f.Period,
		ByStatus:   make(map[tracker.Status]int, len(tracker.Statuses)),
		ByPriority: make(map[tracker.Priority]int, 3),
	}
	if f.Period != PeriodAll {
		from := f.Period.Cutoff(now)
		r.From = &from
		defects = keep(defects, func(d tracker.Defect) bool { return !d.CreatedAt.Before(from) })
	}
	r.Defects = defects

	for _, s := range tracker.Statuses {
		r.ByStatus[s] = 0
	}
	for _, p := range []tracker.Priority{tracker.PriorityHigh, tracker.PriorityMedium, tracker.PriorityLow} {
		r.ByPriority[p] = 0
	}

	var resolved time.Duration
	var resolvedCount int
	for _, d := range defects {
		r.TotalDefects++
		r.ByStatus[d.Status]++
		r.ByPriority[d.Priority]++
		if d.Status.Open() {
			r.OpenDefects++
		}
		if d.Status == tracker.StatusClosed {
			r.ClosedDefects++
			if !d.CreatedAt.IsZero() && !d.UpdatedAt.IsZero() {
				resolved += d.UpdatedAt.Sub(d.CreatedAt)
				resolvedCount++
			}
		}
		if d.OverdueAt(now) {
			r.OverdueDefects++
		}
	}
	if resolvedCount > 0 {
		days := resolved.Hours() / 24 / float64(resolvedCount)
		r.AvgResolutionDays = math.Round(days*10) / 10
	}

	r.ByUser = make([]Rollup, 0, len(users))
	for _, u := range users {
		r.ByUser = append(r.ByUser, rollup(u.ID, u.Name, DefectsByUser(defects, u.ID)))
	}
	r.ByProject = make([]Rollup, 0, len(snap.Projects))
	for _, p := range snap.Projects {
		r.ByProject = append(r.ByProject, rollup(p.ID, p.Name, DefectsByProject(defects, p.ID)))
	}
	return r
}

func rollup(id int64, name string, defects []tracker.Defect) Rollup {
	r := Rollup{ID: id, Name: name, Total: len(defects)}
	for _, d := range defects {
		if d.Status.Open() {
			r.Open++
		}
		if d.Status == tracker.StatusClosed {
			r.Closed++
		}
	}
	return r
}
