package validate

import (
	"strings"
	"testing"

	"tidyplan/internal/domain"
)

func findingsFor(fs []domain.Finding, field string) []domain.Finding {
	var out []domain.Finding
	for _, f := range fs {
		if f.Field == field {
			out = append(out, f)
		}
	}
	return out
}

func TestCrossTaskReference(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Clients[0].RequestedTaskIDs = []string{"T1", "T999"}

	fs := findingsFor(v.Cross(snap), "RequestedTaskIDs")
	if len(fs) != 1 {
		t.Fatalf("got %d reference findings, want 1: %v", len(fs), fs)
	}
	f := fs[0]
	if f.Severity != domain.SeverityError || f.EntityID != "C1" || f.Row != 0 {
		t.Fatalf("unexpected attribution: %+v", f)
	}
	if !strings.Contains(f.Message, "T999") {
		t.Fatalf("message should name the missing task: %q", f.Message)
	}
	if f.SuggestedFix == "" || f.AutoFixable {
		t.Fatalf("reference errors carry a suggestion but never auto-apply: %+v", f)
	}
}

func TestCrossSkillCoverage(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Tasks = append(snap.Tasks, domain.Task{
		TaskID: "T2", TaskName: "Legacy migration", Duration: 1,
		RequiredSkills: []string{"COBOL"}, MaxConcurrent: 1,
	})

	fs := findingsFor(v.Cross(snap), "RequiredSkills")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
		t.Fatalf("uncovered skill should yield exactly one error, got %v", fs)
	}

	// One cobol worker satisfies coverage; raising MaxConcurrent above the
	// holder count downgrades the finding to a warning.
	cobol := goodWorker()
	cobol.WorkerID = "W2"
	cobol.Skills = []string{"cobol"}
	snap.Workers = append(snap.Workers, cobol)
	snap.Tasks[1].MaxConcurrent = 2

	fs = findingsFor(v.Cross(snap), "RequiredSkills")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityWarning {
		t.Fatalf("thin coverage should yield exactly one warning, got %v", fs)
	}
}

func TestCrossOrphanedSkills(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Workers[0].Skills = []string{"welding", "juggling", "unicycling"}

	fs := findingsFor(v.Cross(snap), "Skills")
	if len(fs) != 1 {
		t.Fatalf("want one info per worker, got %v", fs)
	}
	f := fs[0]
	if f.Severity != domain.SeverityInfo || f.EntityID != "W1" {
		t.Fatalf("unexpected orphan-skill finding: %+v", f)
	}
	if !strings.Contains(f.Message, "juggling") || !strings.Contains(f.Message, "unicycling") {
		t.Fatalf("message should list the orphaned skills: %q", f.Message)
	}
	if strings.Contains(f.Message, "welding") {
		t.Fatalf("required skill reported as orphaned: %q", f.Message)
	}
}

func TestCrossPhaseOversaturation(t *testing.T) {
	v := testValidator()
	workers := make([]domain.Worker, 2)
	for i := range workers {
		w := goodWorker()
		w.WorkerID = "W" + string(rune('1'+i))
		w.AvailableSlots = []int{1}
		w.MaxLoadPerPhase = 2
		w.Skills = []string{"ops"}
		workers[i] = w
	}
	tasks := make([]domain.Task, 3)
	for i := range tasks {
		tk := goodTask()
		tk.TaskID = "T" + string(rune('1'+i))
		tk.RequiredSkills = []string{"ops"}
		tk.PreferredPhases = []int{1}
		tk.Duration = 1
		tk.MaxConcurrent = 2
		tasks[i] = tk
	}
	snap := Snapshot{Workers: workers, Tasks: tasks}

	// Capacity 4 at phase 1, demand 6: exactly one oversaturation error.
	fs := findingsFor(v.Cross(snap), "PhaseCapacity")
	if len(fs) != 1 {
		t.Fatalf("got %d capacity findings, want 1: %v", len(fs), fs)
	}
	f := fs[0]
	if f.Severity != domain.SeverityError {
		t.Fatalf("6 > 4 must be an error: %+v", f)
	}
	if f.EntityID != domain.GlobalEntityID || f.Row != domain.CrossRow {
		t.Fatalf("capacity findings are dataset-global: %+v", f)
	}
}

func TestCrossPhaseNearCapacity(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	// Capacity 2 at phase 1; one task demanding 2 sits at utilization 1.0.
	snap.Workers[0].AvailableSlots = []int{1}
	snap.Tasks[0].Duration = 1
	snap.Tasks[0].MaxConcurrent = 2

	fs := findingsFor(v.Cross(snap), "PhaseCapacity")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityWarning {
		t.Fatalf("full utilization should warn, got %v", fs)
	}
}

func TestCrossDurationWindowClampsAtMaxPhase(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPhase = 3
	v := New(limits)

	tk := goodTask()
	tk.PreferredPhases = []int{2}
	tk.Duration = 3 // window 2,3,4 but 4 is past the last phase
	tk.MaxConcurrent = 1
	snap := Snapshot{Tasks: []domain.Task{tk}}

	fs := findingsFor(v.Cross(snap), "PhaseCapacity")
	oversaturated := severities(fs, domain.SeverityError)
	// No workers at all: phases 2 and 3 oversaturate, phantom phase 4 does not.
	if len(oversaturated) != 2 {
		t.Fatalf("got %d oversaturation errors, want 2: %v", len(oversaturated), fs)
	}
	for _, f := range oversaturated {
		if strings.Contains(f.Message, "phase 4") {
			t.Fatalf("window must clamp at the last phase: %q", f.Message)
		}
	}
}

func TestCrossConcurrencyFeasibility(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Tasks[0].MaxConcurrent = 2

	fs := findingsFor(v.Cross(snap), "MaxConcurrent")
	if len(fs) == 0 {
		t.Fatal("one qualified worker for MaxConcurrent 2 should be flagged")
	}
	if fs[0].Severity != domain.SeverityError {
		t.Fatalf("qualified-pool shortfall is an error: %+v", fs[0])
	}

	// A second qualified worker clears the error, but one of them missing
	// the preferred phase leaves a per-phase warning.
	w2 := goodWorker()
	w2.WorkerID = "W2"
	w2.AvailableSlots = []int{2, 3}
	snap.Workers = append(snap.Workers, w2)

	fs = findingsFor(v.Cross(snap), "MaxConcurrent")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityWarning {
		t.Fatalf("want one phase-availability warning, got %v", fs)
	}
	if !strings.Contains(fs[0].Message, "phase 1") {
		t.Fatalf("warning should name the phase: %q", fs[0].Message)
	}
}

func TestCrossSkillMatchIsExactCaseInsensitive(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Workers[0].Skills = []string{"WELDING"}
	snap.Tasks[0].RequiredSkills = []string{"welding"}
	if fs := v.Cross(snap); len(findingsFor(fs, "MaxConcurrent")) != 0 {
		t.Fatalf("case difference must not break qualification: %v", fs)
	}

	// "weld" is not "welding": substring overlap does not qualify.
	snap.Workers[0].Skills = []string{"weld"}
	fs := findingsFor(v.Cross(snap), "MaxConcurrent")
	if len(severities(fs, domain.SeverityError)) != 1 {
		t.Fatalf("partial skill name must not qualify a worker: %v", fs)
	}
}

func TestCrossWorkerOverload(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	// Capacity 3x2=6; assigned load is 3 tasks of duration 3 = 9.
	snap.Workers[0].AvailableSlots = []int{1, 2, 3}
	snap.Workers[0].MaxLoadPerPhase = 2
	for _, id := range []string{"T2", "T3"} {
		tk := goodTask()
		tk.TaskID = id
		tk.Duration = 3
		snap.Tasks = append(snap.Tasks, tk)
	}
	snap.Tasks[0].Duration = 3
	snap.Assignments = []domain.Assignment{{WorkerID: "W1", TaskIDs: []string{"T1", "T2", "T3"}}}

	fs := findingsFor(v.Cross(snap), "MaxLoadPerPhase")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
		t.Fatalf("9 > 6 must be one overload error, got %v", fs)
	}

	// Load 5 of 6 crosses the 80% line: warning.
	snap.Assignments[0].TaskIDs = []string{"T1", "T2"}
	snap.Tasks[1].Duration = 2
	fs = findingsFor(v.Cross(snap), "MaxLoadPerPhase")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityWarning {
		t.Fatalf("5 of 6 should be one near-capacity warning, got %v", fs)
	}
}

func TestCrossOverloadNoAssignmentsIsNoOp(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	if fs := findingsFor(v.Cross(snap), "MaxLoadPerPhase"); len(fs) != 0 {
		t.Fatalf("no assignments must mean no overload findings: %v", fs)
	}
}

func TestCrossOverloadUnknownWorker(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.Assignments = []domain.Assignment{{WorkerID: "W404", TaskIDs: []string{"T1"}}}
	fs := findingsFor(v.Cross(snap), "WorkerID")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
		t.Fatalf("unknown assigned worker should be one error, got %v", fs)
	}
}

func TestCrossCoRunCycleOneErrorPerGroup(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	t2 := goodTask()
	t2.TaskID = "T2"
	snap.Tasks = append(snap.Tasks, t2)
	snap.CoRunGroups = []domain.CoRunGroup{{ID: "g1", TaskIDs: []string{"T1", "T2"}}}

	fs := findingsFor(v.Cross(snap), "CoRunGroups")
	if len(fs) != 1 {
		t.Fatalf("mutual co-run dependency is one error per group, got %v", fs)
	}
	f := fs[0]
	if f.Severity != domain.SeverityError || f.EntityID != "g1" || f.Row != domain.CrossRow {
		t.Fatalf("cycle error should be attributed to the group: %+v", f)
	}
}

func TestCrossCoRunSingletonGroupIsFine(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.CoRunGroups = []domain.CoRunGroup{{ID: "g1", TaskIDs: []string{"T1"}}}
	if fs := findingsFor(v.Cross(snap), "CoRunGroups"); len(fs) != 0 {
		t.Fatalf("a single-member group has no cycle: %v", fs)
	}
}

func TestCrossCoRunUnknownMember(t *testing.T) {
	v := testValidator()
	snap := cleanSnapshot()
	snap.CoRunGroups = []domain.CoRunGroup{{ID: "g1", TaskIDs: []string{"T1", "T404"}}}
	fs := findingsFor(v.Cross(snap), "CoRunGroups")
	if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
		t.Fatalf("unknown group member should be one error, got %v", fs)
	}
	if !strings.Contains(fs[0].Message, "T404") {
		t.Fatalf("message should name the unknown task: %q", fs[0].Message)
	}
}
