package tracker

// Defect returns a copy of the defect with id.
func (s *Store) Defect(id int64) (Defect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.defectIndex(id); i >= 0 {
		return s.defects[i].clone(), true
	}
	return Defect{}, false
}

// Project returns a copy of the project with id.
func (s *Store) Project(id int64) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.projectIndex(id); i >= 0 {
		return s.projects[i].clone(), true
	}
	return Project{}, false
}

func (s *Store) Defects() []Defect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDefects(s.defects)
}

func (s *Store) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProjects(s.projects)
}

// Comments returns the comments of a defect in creation order.
func (s *Store) Comments(defectID int64) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Comment{}
	for _, c := range s.comments {
		if c.DefectID == defectID {
			out = append(out, c)
		}
	}
	return out
}

// History returns the full log, oldest first.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.history)
}

// HistoryFor returns the entries recorded against one entity.
func (s *Store) HistoryFor(entity EntityType, id int64) []HistoryEntry {
	return s.filterHistory(func(h HistoryEntry) bool {
		return h.EntityType == entity && h.EntityID == id
	})
}

// HistoryForUser returns the entries attributed to userID.
func (s *Store) HistoryForUser(userID int64) []HistoryEntry {
	return s.filterHistory(func(h HistoryEntry) bool { return h.UserID == userID })
}

func (s *Store) filterHistory(keep func(HistoryEntry) bool) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []HistoryEntry{}
	for _, h := range s.history {
		if keep(h) {
			out = append(out, h.clone())
		}
	}
	return out
}

// Snapshot returns a consistent deep copy of every collection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state.clone()
	return Snapshot{
		Projects: st.projects,
		Defects:  st.defects,
		Comments: st.comments,
		History:  st.history,
	}
}
