package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"defectra.org/internal/auth"
	"defectra.org/internal/query"
	"defectra.org/internal/tracker"
)

const recentLimit = 5

type commentRequest struct {
	Content string `json:"content"`
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermViewProjects) {
		return
	}
	projects := query.SearchProjects(a.store.Projects(), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermCreateProjects) {
		return
	}
	var in tracker.ProjectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.store.AddProject(r.Context(), in, currentUser(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/projects/%d", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewProjects) {
		return
	}
	p, found := a.store.Project(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project": p,
		"defects": query.DefectsByProject(a.store.Defects(), id),
	})
}

func (a *API) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensure(w, r, auth.CanEditProject(currentUser(r))) {
		return
	}
	var upd tracker.ProjectUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.store.UpdateProject(r.Context(), id, upd, currentUser(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensure(w, r, auth.CanDeleteProject(currentUser(r))) {
		return
	}
	if err := a.store.DeleteProject(r.Context(), id, currentUser(r).ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProjectHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewProjects) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": a.store.HistoryFor(tracker.EntityProject, id)})
}

func (a *API) handleListDefects(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	f, err := defectFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"defects": f.Apply(a.store.Defects())})
}

func defectFilter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	var f query.Filter
	var err error
	if f.ProjectID, err = queryID(r, "project"); err != nil {
		return f, err
	}
	if f.AssigneeID, err = queryID(r, "assignee"); err != nil {
		return f, err
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := tracker.ParseStatus(raw)
		if !ok {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Status = st
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		p := tracker.Priority(strings.ToLower(raw))
		if !p.Valid() {
			return f, fmt.Errorf("unknown priority %q", raw)
		}
		f.Priority = p
	}
	f.Query = q.Get("q")
	return f, nil
}

func (a *API) handleCreateDefect(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermCreateDefects) {
		return
	}
	var in tracker.DefectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The reporter is always the caller.
	in.ReporterID = currentUser(r).ID
	d, err := a.store.AddDefect(r.Context(), in, currentUser(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/defects/%d", d.ID))
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleGetDefect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	d, found := a.store.Defect(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "defect not found")
		return
	}
	u := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"defect":    d,
		"canEdit":   auth.CanEditDefect(u, d),
		"canDelete": auth.CanDeleteDefect(u, d),
	})
}

func (a *API) handleUpdateDefect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, found := a.store.Defect(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "defect not found")
		return
	}
	if !a.ensure(w, r, auth.CanEditDefect(currentUser(r), d)) {
		return
	}
	var upd tracker.DefectUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.store.UpdateDefect(r.Context(), id, upd, currentUser(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteDefect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, found := a.store.Defect(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "defect not found")
		return
	}
	if !a.ensure(w, r, auth.CanDeleteDefect(currentUser(r), d)) {
		return
	}
	if err := a.store.DeleteDefect(r.Context(), id, currentUser(r).ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": a.store.Comments(id)})
}

func (a *API) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.store.AddComment(r.Context(), id, currentUser(r).ID, req.Content)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleDefectHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": a.store.HistoryFor(tracker.EntityDefect, id)})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := a.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          query.Dashboard(snap, currentUser(r).ID, a.now()),
		"recentDefects":  query.RecentDefects(snap, recentLimit),
		"recentProjects": query.RecentProjects(snap, recentLimit),
	})
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermViewReports) {
		return
	}
	period, err := query.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	projectID, err := queryID(r, "project")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users := a.users.Users()
	for i := range users {
		users[i] = users[i].Public()
	}
	report := query.BuildReport(a.store.Snapshot(), users, query.ReportFilter{Period: period, ProjectID: projectID}, a.now())
	writeJSON(w, http.StatusOK, report)
}
