// Package query derives read-only views from a tracker snapshot.
package query

import (
	"strings"

	"defectra.org/internal/tracker"
)

func DefectsByProject(defects []tracker.Defect, projectID int64) []tracker.Defect {
	return keep(defects, func(d tracker.Defect) bool {
		return d.ProjectID != nil && *d.ProjectID == projectID
	})
}

// DefectsByUser returns the defects assigned to userID.
func DefectsByUser(defects []tracker.Defect, userID int64) []tracker.Defect {
	return keep(defects, func(d tracker.Defect) bool {
		id, ok := d.Assignee()
		return ok && id == userID
	})
}

func DefectsByStatus(defects []tracker.Defect, status tracker.Status) []tracker.Defect {
	return keep(defects, func(d tracker.Defect) bool { return d.Status == status })
}

func DefectsByPriority(defects []tracker.Defect, priority tracker.Priority) []tracker.Defect {
	return keep(defects, func(d tracker.Defect) bool { return d.Priority == priority })
}

// SearchDefects matches q against title and description, ignoring case.
// A blank query returns every defect.
func SearchDefects(defects []tracker.Defect, q string) []tracker.Defect {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return keep(defects, func(tracker.Defect) bool { return true })
	}
	return keep(defects, func(d tracker.Defect) bool {
		return strings.Contains(strings.ToLower(d.Title), q) ||
			strings.Contains(strings.ToLower(d.Description), q)
	})
}

// SearchProjects matches q against name and description, ignoring case.
// A blank query returns every project.
func SearchProjects(projects []tracker.Project, q string) []tracker.Project {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return keep(projects, func(tracker.Project) bool { return true })
	}
	return keep(projects, func(p tracker.Project) bool {
		return strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Description), q)
	})
}

// Filter combines the defect filters. Zero fields are ignored.
type Filter struct {
	ProjectID  *int64
	AssigneeID *int64
	Status     tracker.Status
	Priority   tracker.Priority
	Query      string
}

func (f Filter) Apply(defects []tracker.Defect) []tracker.Defect {
	out := SearchDefects(defects, f.Query)
	if f.ProjectID != nil {
		out = DefectsByProject(out, *f.ProjectID)
	}
	if f.AssigneeID != nil {
		out = DefectsByUser(out, *f.AssigneeID)
	}
	if f.Status != "" {
		out = DefectsByStatus(out, f.Status)
	}
	if f.Priority != "" {
		out = DefectsByPriority(out, f.Priority)
	}
	return out
}

func keep[T any](items []T, pred func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}
