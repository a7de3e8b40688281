package tracker

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority ranks how urgently a defect must be fixed.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle state of a defect.
type Status string

const (
	StatusNew         Status = "new"
	StatusInProgress  Status = "in_progress"
	StatusUnderReview Status = "under_review"
	StatusClosed      Status = "closed"
	StatusCanceled    Status = "canceled"
)

// Statuses lists the defect statuses in workflow order.
var Statuses = []Status{StatusNew, StatusInProgress, StatusUnderReview, StatusClosed, StatusCanceled}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusUnderReview, StatusClosed, StatusCanceled:
		return true
	}
	return false
}

// Open reports whether work on the defect is still pending.
func (s Status) Open() bool {
	return s != StatusClosed && s != StatusCanceled
}

// ParseStatus accepts "in progress" and "in-progress" spellings as well as the canonical form.
func ParseStatus(s string) (Status, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	st := Status(norm)
	return st, st.Valid()
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCancelled ProjectStatus = "cancelled"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectOnHold, ProjectCancelled:
		return true
	}
	return false
}

// EntityType names the collection a history entry refers to.
type EntityType string

const (
	EntityDefect  EntityType = "defect"
	EntityProject EntityType = "project"
)

// HistoryType enumerates the kinds of history entries.
type HistoryType string

const (
	DefectCreated  HistoryType = "defect_created"
	DefectUpdated  HistoryType = "defect_updated"
	DefectDeleted  HistoryType = "defect_deleted"
	ProjectCreated HistoryType = "project_created"
	ProjectUpdated HistoryType = "project_updated"
	ProjectDeleted HistoryType = "project_deleted"
	CommentAdded   HistoryType = "comment_added"
)

// Project groups defects found on one construction site.
type Project struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ManagerID   int64         `json:"managerId"`
	StartDate   Date          `json:"startDate"`
	EndDate     *Date         `json:"endDate"`
	Stages      string        `json:"stages"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ActiveAt reports whether the project is running on day now.
func (p Project) ActiveAt(now time.Time) bool {
	if p.StartDate.IsZero() || p.StartDate.Time().After(now) {
		return false
	}
	return p.EndDate == nil || !p.EndDate.Time().Before(DateOf(now).Time())
}

// Attachment references a file attached to a defect.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Defect is a single tracked construction defect.
type Defect struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Status      Status       `json:"status"`
	ProjectID   *int64       `json:"projectId"`
	AssigneeID  *int64       `json:"assigneeId"`
	ReporterID  int64        `json:"createdBy"`
	Deadline    *Date        `json:"deadline"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Assignee returns the assigned user id, if any.
func (d Defect) Assignee() (int64, bool) {
	if d.AssigneeID == nil {
		return 0, false
	}
	return *d.AssigneeID, true
}

// OverdueAt reports whether the deadline passed before now while the defect is not closed.
func (d Defect) OverdueAt(now time.Time) bool {
	return d.Deadline != nil && d.Deadline.Time().Before(now) && d.Status != StatusClosed
}

func (d Defect) clone() Defect {
	d.ProjectID = cloneRef(d.ProjectID)
	d.AssigneeID = cloneRef(d.AssigneeID)
	d.Deadline = cloneRef(d.Deadline)
	if d.Attachments != nil {
		d.Attachments = append([]Attachment{}, d.Attachments...)
	}
	return d
}

func (p Project) clone() Project {
	p.EndDate = cloneRef(p.EndDate)
	return p
}

// Comment is an immutable note on a defect.
type Comment struct {
	ID        int64     `json:"id"`
	DefectID  int64     `json:"defectId"`
	AuthorID  int64     `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry records one committed mutation.
type HistoryEntry struct {
	ID         string         `json:"id"`
	Type       HistoryType    `json:"type"`
	EntityID   int64          `json:"entityId"`
	EntityType EntityType     `json:"entityType"`
	UserID     int64          `json:"userId"`
	Timestamp  time.Time      `json:"timestamp"`
	Changes    map[string]any `json:"changes"`
}

// FieldChange returns the from/to pair recorded for field by an update entry.
func (h HistoryEntry) FieldChange(field string) (from, to any, ok bool) {
	c, ok := h.Changes[field].(map[string]any)
	if !ok {
		return nil, nil, false
	}
	from, okFrom := c["from"]
	to, okTo := c["to"]
	return from, to, okFrom && okTo
}

func (h HistoryEntry) clone() HistoryEntry {
	h.Changes, _ = cloneValue(h.Changes).(map[string]any)
	return h
}

// Opt distinguishes an absent field from a present one in partial updates.
// Decoding JSON marks the field as set, including an explicit null.
type Opt[T any] struct {
	Set bool
	Val T
}

// Some returns a set Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Set: true, Val: v}
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	return json.Unmarshal(data, &o.Val)
}

// DefectInput carries the fields of a new defect.
type DefectInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Status      Status       `json:"status"`
	ProjectID   *int64       `json:"projectId"`
	AssigneeID  *int64       `json:"assigneeId"`
	ReporterID  int64        `json:"createdBy"`
	Deadline    *Date        `json:"deadline"`
	Attachments []Attachment `json:"attachments"`
}

// DefectUpdate lists the fields a caller wants to change.
type DefectUpdate struct {
	Title       Opt[string]       `json:"title"`
	Description Opt[string]       `json:"description"`
	Priority    Opt[Priority]     `json:"priority"`
	Status      Opt[Status]       `json:"status"`
	ProjectID   Opt[*int64]       `json:"projectId"`
	AssigneeID  Opt[*int64]       `json:"assigneeId"`
	Deadline    Opt[*Date]        `json:"deadline"`
	Attachments Opt[[]Attachment] `json:"attachments"`
}

// ProjectInput carries the fields of a new project.
type ProjectInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ManagerID   int64         `json:"managerId"`
	StartDate   Date          `json:"startDate"`
	EndDate     *Date         `json:"endDate"`
	Stages      string        `json:"stages"`
	Status      ProjectStatus `json:"status"`
}

// ProjectUpdate lists the project fields a caller wants to change.
type ProjectUpdate struct {
	Name        Opt[string]        `json:"name"`
	Description Opt[string]        `json:"description"`
	ManagerID   Opt[int64]         `json:"managerId"`
	StartDate   Opt[Date]          `json:"startDate"`
	EndDate     Opt[*Date]         `json:"endDate"`
	Stages      Opt[string]        `json:"stages"`
	Status      Opt[ProjectStatus] `json:"status"`
}

// Snapshot is a consistent copy of every collection.
type Snapshot struct {
	Projects []Project      `json:"projects"`
	Defects  []Defect       `json:"defects"`
	Comments []Comment      `json:"comments"`
	History  []HistoryEntry `json:"history"`
}

// Seed is the bootstrap content used for absent keys.
type Seed struct {
	Projects []Project
	Defects  []Defect
	Comments []Comment
	History  []HistoryEntry
}

// Ref returns a pointer to v, for optional reference fields.
func Ref[T any](v T) *T {
	return &v
}

func cloneRef[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
