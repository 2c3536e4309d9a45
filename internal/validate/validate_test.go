package validate

import (
	"fmt"
	"reflect"
	"testing"

	"tidyplan/internal/domain"
)

func testValidator() *Validator {
	v := New(DefaultLimits())
	n := 0
	v.NewID = func() string {
		n++
		return fmt.Sprintf("f-%04d", n)
	}
	return v
}

func goodClient() domain.Client {
	return domain.Client{
		ClientID:         "C1",
		ClientName:       "Acme",
		PriorityLevel:    3,
		RequestedTaskIDs: []string{"T1"},
	}
}

func goodWorker() domain.Worker {
	return domain.Worker{
		WorkerID:           "W1",
		WorkerName:         "Dana",
		Skills:             []string{"welding"},
		AvailableSlots:     []int{1, 2, 3},
		MaxLoadPerPhase:    2,
		QualificationLevel: 3,
	}
}

func goodTask() domain.Task {
	return domain.Task{
		TaskID:          "T1",
		TaskName:        "Frame assembly",
		Duration:        2,
		RequiredSkills:  []string{"welding"},
		PreferredPhases: []int{1},
		MaxConcurrent:   1,
	}
}

func cleanSnapshot() Snapshot {
	return Snapshot{
		Clients: []domain.Client{goodClient()},
		Workers: []domain.Worker{goodWorker()},
		Tasks:   []domain.Task{goodTask()},
	}
}

func severities(fs []domain.Finding, sev domain.Severity) []domain.Finding {
	var out []domain.Finding
	for _, f := range fs {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

func fieldsOf(fs []domain.Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Field
	}
	return out
}

func TestRunCleanSnapshotHasNoFindings(t *testing.T) {
	res := testValidator().Run(cleanSnapshot())
	if len(res.Findings) != 0 {
		t.Fatalf("expected no findings, got %d: %v", len(res.Findings), fieldsOf(res.Findings))
	}
	if res.Summary.Score != 100 {
		t.Fatalf("score = %d, want 100", res.Summary.Score)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	snap := cleanSnapshot()
	snap.Clients[0].RequestedTaskIDs = []string{"T1", "T999"}
	snap.Tasks = append(snap.Tasks, domain.Task{
		TaskID: "T2", TaskName: "Paint", Duration: 1,
		RequiredSkills: []string{"painting"}, MaxConcurrent: 2,
	})
	a := testValidator().Run(snap)
	b := testValidator().Run(snap)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two runs over the same snapshot disagree:\n%v\n%v", a.Findings, b.Findings)
	}
}

func TestFindingPanicsOnUnknownEntityKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown entity kind")
		}
	}()
	v := testValidator()
	v.finding(ref{kind: "vendor", id: "X", field: "F"}, domain.SeverityError, "boom")
}

func TestFixableNeverAutoAppliesErrors(t *testing.T) {
	v := testValidator()
	f := v.fixable(ref{kind: domain.EntityTask, id: "T1", field: "Duration"},
		domain.SeverityError, "bad", "set Duration to 1")
	if f.AutoFixable {
		t.Fatal("error findings must not be auto-fixable")
	}
	f = v.fixable(ref{kind: domain.EntityTask, id: "T1", field: "Duration"},
		domain.SeverityWarning, "odd", "set Duration to 1")
	if !f.AutoFixable {
		t.Fatal("warning with a suggested fix should be auto-fixable")
	}
}
