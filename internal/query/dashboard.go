package query

import (
	"slices"
	"time"

	"defectra.org/internal/tracker"
)

// DashboardStats are the headline counters shown to a signed-in user.
type DashboardStats struct {
	TotalDefects      int `json:"totalDefects"`
	OpenDefects       int `json:"openDefects"`
	ClosedDefects     int `json:"closedDefects"`
	HighPriority      int `json:"highPriorityDefects"`
	InProgressDefects int `json:"inProgressDefects"`
	OverdueDefects    int `json:"overdueDefects"`
	TotalProjects     int `json:"totalProjects"`
	ActiveProjects    int `json:"activeProjects"`
	UserDefects       int `json:"userDefects"`
	UserOpenDefects   int `json:"userOpenDefects"`
}

// Dashboard computes the counters as of now. High priority only counts defects
// that are not closed; user counters refer to defects assigned to userID.
func Dashboard(snap tracker.Snapshot, userID int64, now time.Time) DashboardStats {
	var st DashboardStats
	st.TotalDefects = len(snap.Defects)
	for _, d := range snap.Defects {
		if d.Status.Open() {
			st.OpenDefects++
		}
		switch d.Status {
		case tracker.StatusClosed:
			st.ClosedDefects++
		case tracker.StatusInProgress:
			st.InProgressDefects++
		}
		if d.Priority == tracker.PriorityHigh && d.Status != tracker.StatusClosed {
			st.HighPriority++
		}
		if d.OverdueAt(now) {
			st.OverdueDefects++
		}
		if id, ok := d.Assignee(); ok && id == userID {
			st.UserDefects++
			if d.Status.Open() {
				st.UserOpenDefects++
			}
		}
	}
	st.TotalProjects = len(snap.Projects)
	for _, p := range snap.Projects {
		if p.ActiveAt(now) {
			st.ActiveProjects++
		}
	}
	return st
}

// RecentDefects returns up to n defects, newest first.
func RecentDefects(snap tracker.Snapshot, n int) []tracker.Defect {
	out := slices.Clone(snap.Defects)
	slices.SortStableFunc(out, func(a, b tracker.Defect) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out[:min(max(n, 0), len(out))]
}

// RecentProjects returns up to n projects, newest first.
func RecentProjects(snap tracker.Snapshot, n int) []tracker.Project {
	out := slices.Clone(snap.Projects)
	slices.SortStableFunc(out, func(a, b tracker.Project) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out[:min(max(n, 0), len(out))]
}
