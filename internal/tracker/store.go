package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"defectra.org/internal/audit"
	"defectra.org/internal/ids"
	"defectra.org/internal/obs"
	"defectra.org/internal/store"
)

// Store holds projects, defects, comments and the history log in memory and
// writes every committed mutation through to a store.KV.
type Store struct {
	mu         sync.RWMutex
	kv         store.KV
	now        func() time.Time
	userExists func(int64) bool

	state

	nextProjectID int64
	nextDefectID  int64
	nextCommentID int64
}

// state is replaced as a whole on commit; slices are never modified in place.
type state struct {
	projects []Project
	defects  []Defect
	comments []Comment
	history  []HistoryEntry
}

// Option configures Store behavior.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUserLookup makes the store reject references to unknown users.
func WithUserLookup(exists func(id int64) bool) Option {
	return func(s *Store) {
		s.userExists = exists
	}
}

// New hydrates a Store from kv. Each collection key that is absent is filled
// from seed and written back; present keys are used verbatim.
func New(ctx context.Context, kv store.KV, seed Seed, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("tracker: kv store is required")
	}
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	var seeded []string
	var err error
	var ok bool
	if s.projects, ok, err = hydrate(ctx, kv, store.KeyProjects, seed.Projects); err != nil {
		return nil, err
	} else if ok {
		seeded = append(seeded, store.KeyProjects)
	}
	if s.defects, ok, err = hydrate(ctx, kv, store.KeyDefects, seed.Defects); err != nil {
		return nil, err
	} else if ok {
		seeded = append(seeded, store.KeyDefects)
	}
	if s.comments, ok, err = hydrate(ctx, kv, store.KeyComments, seed.Comments); err != nil {
		return nil, err
	} else if ok {
		seeded = append(seeded, store.KeyComments)
	}
	if s.history, ok, err = hydrate(ctx, kv, store.KeyHistory, seed.History); err != nil {
		return nil, err
	} else if ok {
		seeded = append(seeded, store.KeyHistory)
	}
	s.state = s.state.clone()

	s.nextProjectID, s.nextDefectID, s.nextCommentID = 1, 1, 1
	for _, p := range s.projects {
		s.nextProjectID = max(s.nextProjectID, p.ID+1)
	}
	for _, d := range s.defects {
		s.nextDefectID = max(s.nextDefectID, d.ID+1)
	}
	for _, c := range s.comments {
		s.nextCommentID = max(s.nextCommentID, c.ID+1)
		s.nextDefectID = max(s.nextDefectID, c.DefectID+1)
	}
	// Deleted entities live on in the log; their ids are never handed out again.
	for _, h := range s.history {
		switch h.EntityType {
		case EntityProject:
			s.nextProjectID = max(s.nextProjectID, h.EntityID+1)
		case EntityDefect:
			s.nextDefectID = max(s.nextDefectID, h.EntityID+1)
		}
	}

	obs.Info("tracker_hydrated", map[string]any{
		"projects": len(s.projects),
		"defects":  len(s.defects),
		"comments": len(s.comments),
		"history":  len(s.history),
		"seeded":   seeded,
	})
	return s, nil
}

func hydrate[T any](ctx context.Context, kv store.KV, key string, seed []T) ([]T, bool, error) {
	var items []T
	ok, err := store.GetJSON(ctx, kv, key, &items)
	if err != nil {
		return nil, false, fmt.Errorf("tracker: load: %w", err)
	}
	if ok {
		return orEmpty(items), false, nil
	}
	items = orEmpty(seed)
	if err := store.SetJSON(ctx, kv, key, items); err != nil {
		return nil, false, fmt.Errorf("tracker: seed: %w", err)
	}
	return items, true, nil
}

// AddDefect validates in and stores it as a new defect reported by in.ReporterID,
// or by actorID when no reporter is given.
func (s *Store) AddDefect(ctx context.Context, in DefectInput, actorID int64) (Defect, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Defect{}, invalid("title", "title is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Defect{}, invalid("priority", "unknown priority "+string(in.Priority))
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	if !in.Status.Valid() {
		return Defect{}, invalid("status", "unknown status "+string(in.Status))
	}
	reporter := in.ReporterID
	if reporter == 0 {
		reporter = actorID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkProjectRef(in.ProjectID); err != nil {
		return Defect{}, err
	}
	if err := s.checkUserRef("assigneeId", in.AssigneeID); err != nil {
		return Defect{}, err
	}

	now := s.now().UTC()
	d := Defect{
		ID:          s.nextDefectID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    in.Priority,
		Status:      in.Status,
		ProjectID:   cloneRef(in.ProjectID),
		AssigneeID:  cloneRef(in.AssigneeID),
		ReporterID:  reporter,
		Deadline:    cloneRef(in.Deadline),
		Attachments: append([]Attachment{}, in.Attachments...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	next := s.state
	next.defects = append(slices.Clip(s.defects), d)
	entry := s.entry(DefectCreated, EntityDefect, d.ID, actorID, now,
		payload(map[string]any{"title": d.Title, "status": d.Status}))
	if err := s.commit(ctx, next, entry, store.KeyDefects); err != nil {
		return Defect{}, err
	}
	s.nextDefectID++
	return d.clone(), nil
}

// UpdateDefect applies the set fields of upd. When no field actually changes,
// the stored defect is returned untouched and no history is written.
func (s *Store) UpdateDefect(ctx context.Context, id int64, upd DefectUpdate, actorID int64) (Defect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.defectIndex(id)
	if i < 0 {
		return Defect{}, notFound(EntityDefect, id)
	}
	cur := s.defects[i]
	d := cur.clone()
	changes := changeSet{}

	if upd.Title.Set {
		title := strings.TrimSpace(upd.Title.Val)
		if title == "" {
			return Defect{}, invalid("title", "title is required")
		}
		d.Title = title
		changes.compare("title", cur.Title, d.Title)
	}
	if upd.Description.Set {
		d.Description = strings.TrimSpace(upd.Description.Val)
		changes.compare("description", cur.Description, d.Description)
	}
	if upd.Priority.Set {
		if !upd.Priority.Val.Valid() {
			return Defect{}, invalid("priority", "unknown priority "+string(upd.Priority.Val))
		}
		d.Priority = upd.Priority.Val
		changes.compare("priority", cur.Priority, d.Priority)
	}
	if upd.Status.Set {
		if !upd.Status.Val.Valid() {
			return Defect{}, invalid("status", "unknown status "+string(upd.Status.Val))
		}
		d.Status = upd.Status.Val
		changes.compare("status", cur.Status, d.Status)
	}
	if upd.ProjectID.Set {
		if !sameRef(cur.ProjectID, upd.ProjectID.Val) {
			if err := s.checkProjectRef(upd.ProjectID.Val); err != nil {
				return Defect{}, err
			}
		}
		d.ProjectID = cloneRef(upd.ProjectID.Val)
		changes.compare("projectId", cur.ProjectID, d.ProjectID)
	}
	if upd.AssigneeID.Set {
		if !sameRef(cur.AssigneeID, upd.AssigneeID.Val) {
			if err := s.checkUserRef("assigneeId", upd.AssigneeID.Val); err != nil {
				return Defect{}, err
			}
		}
		d.AssigneeID = cloneRef(upd.AssigneeID.Val)
		changes.compare("assigneeId", cur.AssigneeID, d.AssigneeID)
	}
	if upd.Deadline.Set {
		d.Deadline = cloneRef(upd.Deadline.Val)
		changes.compare("deadline", cur.Deadline, d.Deadline)
	}
	if upd.Attachments.Set {
		d.Attachments = append([]Attachment{}, upd.Attachments.Val...)
		changes.compare("attachments", orEmpty(cur.Attachments), d.Attachments)
	}
	if changes.empty() {
		return cur.clone(), nil
	}

	now := s.now().UTC()
	d.UpdatedAt = now
	next := s.state
	next.defects = slices.Clone(s.defects)
	next.defects[i] = d
	entry := s.entry(DefectUpdated, EntityDefect, id, actorID, now, changes)
	if err := s.commit(ctx, next, entry, store.KeyDefects); err != nil {
		return Defect{}, err
	}
	return d.clone(), nil
}

// DeleteDefect removes a defect. Its comments are kept.
func (s *Store) DeleteDefect(ctx context.Context, id, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.defectIndex(id)
	if i < 0 {
		return notFound(EntityDefect, id)
	}
	next := s.state
	next.defects = slices.Delete(slices.Clone(s.defects), i, i+1)
	entry := s.entry(DefectDeleted, EntityDefect, id, actorID, s.now().UTC(), map[string]any{})
	return s.commit(ctx, next, entry, store.KeyDefects)
}

// AddProject validates in and stores it as a new project.
func (s *Store) AddProject(ctx context.Context, in ProjectInput, actorID int64) (Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Project{}, invalid("name", "name is required")
	}
	if in.StartDate.IsZero() {
		return Project{}, invalid("startDate", "start date is required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return Project{}, invalid("endDate", "end date is before start date")
	}
	if in.Status == "" {
		in.Status = ProjectActive
	}
	if !in.Status.Valid() {
		return Project{}, invalid("status", "unknown status "+string(in.Status))
	}
	if in.ManagerID <= 0 {
		return Project{}, invalid("managerId", "manager is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUserRef("managerId", &in.ManagerID); err != nil {
		return Project{}, err
	}

	now := s.now().UTC()
	p := Project{
		ID:          s.nextProjectID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		ManagerID:   in.ManagerID,
		StartDate:   in.StartDate,
		EndDate:     cloneRef(in.EndDate),
		Stages:      in.Stages,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	next := s.state
	next.projects = append(slices.Clip(s.projects), p)
	entry := s.entry(ProjectCreated, EntityProject, p.ID, actorID, now, payload(map[string]any{"name": p.Name}))
	if err := s.commit(ctx, next, entry, store.KeyProjects); err != nil {
		return Project{}, err
	}
	s.nextProjectID++
	return p.clone(), nil
}

// UpdateProject applies the set fields of upd, with the same no-op rule as UpdateDefect.
func (s *Store) UpdateProject(ctx context.Context, id int64, upd ProjectUpdate, actorID int64) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.projectIndex(id)
	if i < 0 {
		return Project{}, notFound(EntityProject, id)
	}
	cur := s.projects[i]
	p := cur.clone()
	changes := changeSet{}

	if upd.Name.Set {
		name := strings.TrimSpace(upd.Name.Val)
		if name == "" {
			return Project{}, invalid("name", "name is required")
		}
		p.Name = name
		changes.compare("name", cur.Name, p.Name)
	}
	if upd.Description.Set {
		p.Description = strings.TrimSpace(upd.Description.Val)
		changes.compare("description", cur.Description, p.Description)
	}
	if upd.ManagerID.Set {
		if upd.ManagerID.Val <= 0 {
			return Project{}, invalid("managerId", "manager is required")
		}
		if upd.ManagerID.Val != cur.ManagerID {
			if err := s.checkUserRef("managerId", &upd.ManagerID.Val); err != nil {
				return Project{}, err
			}
		}
		p.ManagerID = upd.ManagerID.Val
		changes.compare("managerId", cur.ManagerID, p.ManagerID)
	}
	if upd.StartDate.Set {
		if upd.StartDate.Val.IsZero() {
			return Project{}, invalid("startDate", "start date is required")
		}
		p.StartDate = upd.StartDate.Val
		changes.compare("startDate", cur.StartDate, p.StartDate)
	}
	if upd.EndDate.Set {
		p.EndDate = cloneRef(upd.EndDate.Val)
		changes.compare("endDate", cur.EndDate, p.EndDate)
	}
	if (upd.StartDate.Set || upd.EndDate.Set) && p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return Project{}, invalid("endDate", "end date is before start date")
	}
	if upd.Stages.Set {
		p.Stages = upd.Stages.Val
		changes.compare("stages", cur.Stages, p.Stages)
	}
	if upd.Status.Set {
		if !upd.Status.Val.Valid() {
			return Project{}, invalid("status", "unknown status "+string(upd.Status.Val))
		}
		p.Status = upd.Status.Val
		changes.compare("status", cur.Status, p.Status)
	}
	if changes.empty() {
		return cur.clone(), nil
	}

	now := s.now().UTC()
	p.UpdatedAt = now
	next := s.state
	next.projects = slices.Clone(s.projects)
	next.projects[i] = p
	entry := s.entry(ProjectUpdated, EntityProject, id, actorID, now, changes)
	if err := s.commit(ctx, next, entry, store.KeyProjects); err != nil {
		return Project{}, err
	}
	return p.clone(), nil
}

// DeleteProject removes a project and clears the project reference of its
// defects in the same transition. Only the project deletion is recorded.
func (s *Store) DeleteProject(ctx context.Context, id, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.projectIndex(id)
	if i < 0 {
		return notFound(EntityProject, id)
	}
	next := s.state
	next.projects = slices.Delete(slices.Clone(s.projects), i, i+1)
	keys := []string{store.KeyProjects}

	orphaned := 0
	for j, d := range s.defects {
		if d.ProjectID == nil || *d.ProjectID != id {
			continue
		}
		if orphaned == 0 {
			next.defects = slices.Clone(s.defects)
			keys = append(keys, store.KeyDefects)
		}
		d = d.clone()
		d.ProjectID = nil
		next.defects[j] = d
		orphaned++
	}

	entry := s.entry(ProjectDeleted, EntityProject, id, actorID, s.now().UTC(), map[string]any{})
	if err := s.commit(ctx, next, entry, keys...); err != nil {
		return err
	}
	if orphaned > 0 {
		obs.Info("project_defects_orphaned", map[string]any{"project_id": id, "defects": orphaned})
	}
	return nil
}

// AddComment attaches a comment by authorID to a defect.
func (s *Store) AddComment(ctx context.Context, defectID, authorID int64, text string) (Comment, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return Comment{}, invalid("content", "comment text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defectIndex(defectID) < 0 {
		return Comment{}, notFound(EntityDefect, defectID)
	}
	now := s.now().UTC()
	c := Comment{
		ID:        s.nextCommentID,
		DefectID:  defectID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
	}
	next := s.state
	next.comments = append(slices.Clip(s.comments), c)
	entry := s.entry(CommentAdded, EntityDefect, defectID, authorID, now, payload(map[string]any{"comment": content}))
	if err := s.commit(ctx, next, entry, store.KeyComments); err != nil {
		return Comment{}, err
	}
	s.nextCommentID++
	return c, nil
}

func (s *Store) entry(typ HistoryType, entity EntityType, entityID, actorID int64, ts time.Time, changes map[string]any) HistoryEntry {
	return HistoryEntry{
		ID:         ids.NewAt(ts),
		Type:       typ,
		EntityID:   entityID,
		EntityType: entity,
		UserID:     actorID,
		Timestamp:  ts,
		Changes:    changes,
	}
}

// commit swaps in next with entry appended and writes keys plus the history
// key through to kv. On a write failure the previous state is restored in
// memory and in every key already written. Must be called with mu held.
func (s *Store) commit(ctx context.Context, next state, entry HistoryEntry, keys ...string) error {
	prev := s.state
	next.history = append(slices.Clip(s.history), entry)
	s.state = next

	keys = append(keys, store.KeyHistory)
	for n, key := range keys {
		if err := store.SetJSON(ctx, s.kv, key, s.value(key)); err != nil {
			s.state = prev
			for _, written := range keys[:n] {
				if rerr := store.SetJSON(ctx, s.kv, written, s.value(written)); rerr != nil {
					obs.Error("tracker_rollback_failed", map[string]any{"key": written, "error": rerr.Error()})
				}
			}
			obs.Warn("tracker_commit_failed", map[string]any{"type": string(entry.Type), "key": key, "error": err.Error()})
			return fmt.Errorf("tracker: persist %s: %w", entry.Type, err)
		}
	}

	obs.RecordHistory(string(entry.Type))
	_ = audit.LogEvent(ctx, "tracker."+string(entry.Type), map[string]any{
		"history_id":  entry.ID,
		"entity_type": string(entry.EntityType),
		"entity_id":   entry.EntityID,
		"actor_id":    entry.UserID,
	})
	return nil
}

func (s *Store) value(key string) any {
	switch key {
	case store.KeyProjects:
		return s.projects
	case store.KeyDefects:
		return s.defects
	case store.KeyComments:
		return s.comments
	case store.KeyHistory:
		return s.history
	}
	return nil
}

func (s *Store) checkProjectRef(id *int64) error {
	if id == nil {
		return nil
	}
	if s.projectIndex(*id) < 0 {
		return invalid("projectId", fmt.Sprintf("project %d does not exist", *id))
	}
	return nil
}

func (s *Store) checkUserRef(field string, id *int64) error {
	if id == nil || s.userExists == nil {
		return nil
	}
	if !s.userExists(*id) {
		return invalid(field, fmt.Sprintf("user %d does not exist", *id))
	}
	return nil
}

func (s *Store) defectIndex(id int64) int {
	return slices.IndexFunc(s.defects, func(d Defect) bool { return d.ID == id })
}

func (s *Store) projectIndex(id int64) int {
	return slices.IndexFunc(s.projects, func(p Project) bool { return p.ID == id })
}

func (st state) clone() state {
	return state{
		projects: cloneProjects(st.projects),
		defects:  cloneDefects(st.defects),
		comments: append([]Comment{}, st.comments...),
		history:  cloneHistory(st.history),
	}
}

func cloneProjects(in []Project) []Project {
	out := make([]Project, len(in))
	for i, p := range in {
		out[i] = p.clone()
	}
	return out
}

func cloneDefects(in []Defect) []Defect {
	out := make([]Defect, len(in))
	for i, d := range in {
		out[i] = d.clone()
	}
	return out
}

func cloneHistory(in []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(in))
	for i, h := range in {
		out[i] = h.clone()
	}
	return out
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
