package validate

import (
	"testing"

	"tidyplan/internal/domain"
)

func TestDuplicateIDsReportSecondOccurrence(t *testing.T) {
	v := testValidator()
	clients := []domain.Client{goodClient(), goodClient(), goodClient()}
	fs := v.ClientBatch(clients)

	var dups []domain.Finding
	for _, f := range fs {
		if f.Field == "ClientID" && f.Severity == domain.SeverityError {
			dups = append(dups, f)
		}
	}
	// Three records sharing one id: two duplicates.
	if len(dups) != 2 {
		t.Fatalf("got %d duplicate errors, want 2: %v", len(dups), dups)
	}
	if dups[0].Row != 1 || dups[1].Row != 2 {
		t.Fatalf("duplicates at rows %d,%d, want 1,2", dups[0].Row, dups[1].Row)
	}
}

func TestDuplicateIDsSkipBlankIDs(t *testing.T) {
	v := testValidator()
	a := goodWorker()
	a.WorkerID = ""
	b := goodWorker()
	b.WorkerID = " "
	fs := v.WorkerBatch([]domain.Worker{a, b})
	for _, f := range fs {
		if f.Field == "WorkerID" && f.Message == `duplicate WorkerID ""` {
			t.Fatal("blank ids must not count as duplicates")
		}
	}
	// Each blank id still fails the required-field check.
	if got := len(severities(fs, domain.SeverityError)); got != 2 {
		t.Fatalf("got %d errors, want 2 required-field errors: %v", got, fs)
	}
}

func TestTaskBatchOrderIsStable(t *testing.T) {
	v := testValidator()
	t1 := goodTask()
	t2 := goodTask()
	t2.TaskID = "T2"
	t2.Duration = 0
	fs := v.TaskBatch([]domain.Task{t1, t2})
	if len(fs) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(fs), fs)
	}
	if fs[0].EntityID != "T2" || fs[0].Row != 1 {
		t.Fatalf("finding attributed to %q row %d, want T2 row 1", fs[0].EntityID, fs[0].Row)
	}
}
