package tracker

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateJSON(t *testing.T) {
	var v struct {
		A Date  `json:"a"`
		B *Date `json:"b"`
		C *Date `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2025-10-10","b":"2025-03-01T15:04:05Z","c":null}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.A != NewDate(2025, 10, 10) || v.B == nil || *v.B != NewDate(2025, 3, 1) || v.C != nil {
		t.Fatalf("unexpected dates: %+v", v)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"a":"2025-10-10","b":"2025-03-01","c":null}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
	if err := json.Unmarshal([]byte(`{"a":"10/10/2025"}`), &v); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"new":          StatusNew,
		"in progress":  StatusInProgress,
		"In-Progress":  StatusInProgress,
		"under_review": StatusUnderReview,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseStatus("resolved"); ok {
		t.Fatal("resolved is not a status")
	}
}

func TestDefectPredicates(t *testing.T) {
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	d := Defect{Status: StatusInProgress, Deadline: Ref(NewDate(2025, 8, 30))}
	if !d.OverdueAt(now) {
		t.Fatal("expected overdue")
	}
	d.Status = StatusClosed
	if d.OverdueAt(now) {
		t.Fatal("closed defects are never overdue")
	}
	d.Status = StatusCanceled
	if !d.OverdueAt(now) {
		t.Fatal("canceled defects past deadline still count as overdue")
	}
	if (Defect{Status: StatusNew}).OverdueAt(now) {
		t.Fatal("no deadline means not overdue")
	}
	if _, ok := (Defect{}).Assignee(); ok {
		t.Fatal("expected no assignee")
	}
}

func TestProjectActiveAt(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 0, 0, 0, time.UTC)
	p := Project{StartDate: NewDate(2025, 1, 1), EndDate: Ref(NewDate(2025, 12, 31))}
	if !p.ActiveAt(now) {
		t.Fatal("the end date is inclusive")
	}
	if p.ActiveAt(now.Add(24 * time.Hour)) {
		t.Fatal("expected inactive after end date")
	}
	future := Project{StartDate: NewDate(2026, 1, 1)}
	if future.ActiveAt(now) {
		t.Fatal("expected inactive before start date")
	}
	open := Project{StartDate: NewDate(2024, 1, 1)}
	if !open.ActiveAt(now) {
		t.Fatal("open-ended project should be active")
	}
}
