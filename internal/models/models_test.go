package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "Request", "not null")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "ExpectedTaskCount", "not null")
	assertGormTag(t, typ, "TaskIDs", "type:json")
	assertGormTag(t, typ, "Deadline", "index")

	assertFieldType(t, typ, "CompletedCount", "int")
	assertFieldType(t, typ, "FailedCount", "int")
	assertFieldType(t, typ, "Deadline", "time.Time")
	assertFieldType(t, typ, "FinalizedAt", "*time.Time")
	assertFieldType(t, typ, "IntegratedAt", "*time.Time")
	assertFieldType(t, typ, "ArchivedAt", "*time.Time")
}

func TestTask_Fields(t *testing.T) {
	typ := reflect.TypeOf(Task{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "SessionID", "index")
	assertGormTag(t, typ, "Role", "size:64")
	assertGormTag(t, typ, "Status", "default:dispatched")
	assertGormTag(t, typ, "RenderedPrompt", "type:text")
	assertFieldType(t, typ, "CompletedAt", "*time.Time")
}

func TestResult_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(Result{})

	assertGormTag(t, typ, "SessionID", "primaryKey")
	assertGormTag(t, typ, "TaskID", "primaryKey")
	assertGormTag(t, typ, "Late", "default:false")
	assertFieldType(t, typ, "ExecutionTimeMs", "int64")
}

func TestIntegrationReport_Fields(t *testing.T) {
	typ := reflect.TypeOf(IntegrationReport{})

	assertGormTag(t, typ, "SessionID", "uniqueIndex")
	for _, f := range []string{"Summaries", "Similarities", "Conflicts", "MissingRoles"} {
		assertGormTag(t, typ, f, "type:json")
	}
	assertFieldType(t, typ, "MeanSimilarity", "float64")
}

func TestArchived_EmbedActiveRows(t *testing.T) {
	task := ArchivedTask{Task: Task{ID: "t1", SessionID: "s1"}, ArchivedAt: time.Now()}
	if task.ID != "t1" || task.SessionID != "s1" {
		t.Errorf("embedded task fields not promoted: %+v", task)
	}
	assertGormTag(t, reflect.TypeOf(ArchivedTask{}), "Task", "embedded")
	assertGormTag(t, reflect.TypeOf(ArchivedResult{}), "Result", "embedded")
}

func TestSession_TaskIDList(t *testing.T) {
	s := Session{TaskIDs: `["a","b","c"]`}
	ids, err := s.TaskIDList()
	if err != nil {
		t.Fatalf("TaskIDList: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("TaskIDList = %v", ids)
	}

	empty, err := (&Session{}).TaskIDList()
	if err != nil || empty != nil {
		t.Errorf("empty TaskIDList = %v, %v; want nil, nil", empty, err)
	}

	if _, err := (&Session{TaskIDs: "{"}).TaskIDList(); err == nil {
		t.Error("expected error for malformed task ID list")
	}
}

func TestSession_SettledAndFinalized(t *testing.T) {
	s := Session{CompletedCount: 2, FailedCount: 1}
	if s.Settled() != 3 {
		t.Errorf("Settled = %d, want 3", s.Settled())
	}

	tests := []struct {
		status string
		want   bool
	}{
		{SessionPending, false},
		{SessionCollecting, false},
		{SessionComplete, true},
		{SessionTimedOut, true},
		{SessionIntegrated, true},
		{SessionArchived, true},
	}
	for _, tt := range tests {
		s.Status = tt.status
		if got := s.Finalized(); got != tt.want {
			t.Errorf("Finalized(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
