// Package seed provides the bundled dataset used to bootstrap empty storage.
package seed

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"defectra.org/internal/auth"
	"defectra.org/internal/tracker"
)

//go:embed seed.yaml
var bundled []byte

// legacyStatuses maps spellings found in older fixtures to current statuses.
var legacyStatuses = map[string]tracker.Status{
	"resolved": tracker.StatusClosed,
	"done":     tracker.StatusClosed,
}

// Dataset is the decoded bootstrap content.
type Dataset struct {
	Users    []auth.User
	Projects []tracker.Project
	Defects  []tracker.Defect
}

// Tracker returns the part of the dataset owned by the domain store.
// Comments and history always start empty.
func (d *Dataset) Tracker() tracker.Seed {
	return tracker.Seed{
		Projects: d.Projects,
		Defects:  d.Defects,
		Comments: []tracker.Comment{},
		History:  []tracker.HistoryEntry{},
	}
}

type document struct {
	Users    []userRecord    `yaml:"users"`
	Projects []projectRecord `yaml:"projects"`
	Defects  []defectRecord  `yaml:"defects"`
}

type userRecord struct {
	ID       int64     `yaml:"id"`
	Email    string    `yaml:"email"`
	Password string    `yaml:"password"`
	Name     string    `yaml:"name"`
	Role     string    `yaml:"role"`
	Inactive bool      `yaml:"inactive"`
	Created  time.Time `yaml:"created"`
}

type projectRecord struct {
	ID          int64         `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Manager     int64         `yaml:"manager"`
	Start       tracker.Date  `yaml:"start"`
	End         *tracker.Date `yaml:"end"`
	Stages      string        `yaml:"stages"`
	Status      string        `yaml:"status"`
	Created     time.Time     `yaml:"created"`
}

type defectRecord struct {
	ID          int64         `yaml:"id"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Priority    string        `yaml:"priority"`
	Status      string        `yaml:"status"`
	Project     *int64        `yaml:"project"`
	Assignee    *int64        `yaml:"assignee"`
	Reporter    int64         `yaml:"reporter"`
	Deadline    *tracker.Date `yaml:"deadline"`
	Created     time.Time     `yaml:"created"`
	Updated     time.Time     `yaml:"updated"`
}

// Load decodes the bundled dataset.
func Load() (*Dataset, error) {
	return Parse(bundled)
}

// Parse decodes and checks a dataset in the bundled YAML layout.
func Parse(data []byte) (*Dataset, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	ds := &Dataset{}
	users := make(map[int64]bool, len(doc.Users))
	emails := make(map[string]bool, len(doc.Users))
	for _, r := range doc.Users {
		role, ok := auth.ParseRole(r.Role)
		if !ok {
			return nil, fmt.Errorf("seed: user %d: unknown role %q", r.ID, r.Role)
		}
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if r.ID <= 0 || users[r.ID] || emails[email] {
			return nil, fmt.Errorf("seed: user %d: duplicate or invalid identity", r.ID)
		}
		users[r.ID], emails[email] = true, true
		ds.Users = append(ds.Users, auth.User{
			ID:        r.ID,
			Email:     email,
			Password:  r.Password,
			Name:      r.Name,
			Role:      role,
			IsActive:  !r.Inactive,
			CreatedAt: r.Created.UTC(),
			UpdatedAt: r.Created.UTC(),
		})
	}

	projects := make(map[int64]bool, len(doc.Projects))
	for _, r := range doc.Projects {
		if r.ID <= 0 || projects[r.ID] {
			return nil, fmt.Errorf("seed: project %d: duplicate or invalid id", r.ID)
		}
		if !users[r.Manager] {
			return nil, fmt.Errorf("seed: project %d: unknown manager %d", r.ID, r.Manager)
		}
		status := tracker.ProjectStatus(r.Status)
		if status == "" {
			status = tracker.ProjectActive
		}
		if !status.Valid() {
			return nil, fmt.Errorf("seed: project %d: unknown status %q", r.ID, r.Status)
		}
		projects[r.ID] = true
		ds.Projects = append(ds.Projects, tracker.Project{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			ManagerID:   r.Manager,
			StartDate:   r.Start,
			EndDate:     r.End,
			Stages:      r.Stages,
			Status:      status,
			CreatedAt:   r.Created.UTC(),
			UpdatedAt:   r.Created.UTC(),
		})
	}

	defects := make(map[int64]bool, len(doc.Defects))
	for _, r := range doc.Defects {
		if r.ID <= 0 || defects[r.ID] {
			return nil, fmt.Errorf("seed: defect %d: duplicate or invalid id", r.ID)
		}
		status, err := parseStatus(r.Status)
		if err != nil {
			return nil, fmt.Errorf("seed: defect %d: %w", r.ID, err)
		}
		priority := tracker.Priority(r.Priority)
		if !priority.Valid() {
			return nil, fmt.Errorf("seed: defect %d: unknown priority %q", r.ID, r.Priority)
		}
		if r.Project != nil && !projects[*r.Project] {
			return nil, fmt.Errorf("seed: defect %d: unknown project %d", r.ID, *r.Project)
		}
		if r.Assignee != nil && !users[*r.Assignee] {
			return nil, fmt.Errorf("seed: defect %d: unknown assignee %d", r.ID, *r.Assignee)
		}
		updated := r.Updated
		if updated.IsZero() {
			updated = r.Created
		}
		defects[r.ID] = true
		ds.Defects = append(ds.Defects, tracker.Defect{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			Priority:    priority,
			Status:      status,
			ProjectID:   r.Project,
			AssigneeID:  r.Assignee,
			ReporterID:  r.Reporter,
			Deadline:    r.Deadline,
			Attachments: []tracker.Attachment{},
			CreatedAt:   r.Created.UTC(),
			UpdatedAt:   updated.UTC(),
		})
	}
	return ds, nil
}

func parseStatus(s string) (tracker.Status, error) {
	if s == "" {
		return tracker.StatusNew, nil
	}
	if st, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	st, ok := tracker.ParseStatus(s)
	if !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
