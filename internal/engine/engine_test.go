package engine_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tidyplan/internal/config"
	"tidyplan/internal/db"
	"tidyplan/internal/domain"
	"tidyplan/internal/engine"
	"tidyplan/internal/migrate"
	"tidyplan/internal/repo"
	"tidyplan/internal/rules"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ds-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitDataset(ctx, "ds-1", "test dataset", "tester"); err != nil {
		t.Fatalf("init dataset: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func cleanImport() engine.ImportOptions {
	return engine.ImportOptions{
		DatasetID: "ds-1",
		ActorID:   "tester",
		Clients: []domain.Client{{
			ClientID: "C1", ClientName: "Acme", PriorityLevel: 3,
			RequestedTaskIDs: []string{"T1"},
		}},
		Workers: []domain.Worker{{
			WorkerID: "W1", WorkerName: "Dana", Skills: []string{"welding"},
			AvailableSlots: []int{1, 2, 3}, MaxLoadPerPhase: 2, QualificationLevel: 3,
		}},
		Tasks: []domain.Task{{
			TaskID: "T1", TaskName: "Frame assembly", Duration: 2,
			RequiredSkills: []string{"welding"}, PreferredPhases: []int{1}, MaxConcurrent: 1,
		}},
	}
}

func TestImportValidatesAndPersistsRun(t *testing.T) {
	env := newTestEnv(t)
	run, err := env.Engine.Import(env.Ctx, cleanImport())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if run.Summary.Errors != 0 || run.Summary.Score != 100 {
		t.Fatalf("clean dataset should score 100: %+v", run.Summary)
	}
	ds, err := env.Engine.Repo.GetDataset(env.Ctx, "ds-1")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Status != "validated" {
		t.Fatalf("status = %q, want validated", ds.Status)
	}
	if ds.Clients != 1 || ds.Workers != 1 || ds.Tasks != 1 {
		t.Fatalf("counts wrong: %+v", ds)
	}
	latest, err := env.Engine.Repo.LatestValidationRun(env.Ctx, "ds-1")
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != run.ID {
		t.Fatalf("latest run is %s, want %s", latest.ID, run.ID)
	}
}

func TestEditTriggersFullRevalidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Import(env.Ctx, cleanImport()); err != nil {
		t.Fatal(err)
	}
	// Point the client at a task that does not exist.
	run, err := env.Engine.UpdateClient(env.Ctx, "ds-1", 0, domain.Client{
		ClientID: "C1", ClientName: "Acme", PriorityLevel: 3,
		RequestedTaskIDs: []string{"T999"},
	}, "tester")
	if err != nil {
		t.Fatalf("update client: %v", err)
	}
	if run.Summary.Errors == 0 {
		t.Fatalf("dangling reference should produce an error: %+v", run.Summary)
	}
	ds, _ := env.Engine.Repo.GetDataset(env.Ctx, "ds-1")
	if ds.Status != "draft" {
		t.Fatalf("errored dataset should fall back to draft, got %q", ds.Status)
	}
	findings, err := env.Engine.Repo.ListFindings(env.Ctx, repo.FindingFilters{RunID: run.ID, Severity: "error"})
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(findings) != 1 || findings[0].EntityID != "C1" || findings[0].Field != "RequestedTaskIDs" {
		t.Fatalf("persisted findings wrong: %v", findings)
	}
}

func TestCoRunRuleFeedsValidation(t *testing.T) {
	env := newTestEnv(t)
	opts := cleanImport()
	opts.Tasks = append(opts.Tasks, domain.Task{
		TaskID: "T2", TaskName: "Paint", Duration: 1,
		RequiredSkills: []string{"welding"}, MaxConcurrent: 1,
	})
	if _, err := env.Engine.Import(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}
	params, _ := json.Marshal(rules.CoRunParams{TaskIDs: []string{"T1", "T2"}})
	if _, err := env.Engine.AddRule(env.Ctx, "ds-1", rules.Rule{Type: rules.TypeCoRun, Params: params}, "tester"); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	run, err := env.Engine.Repo.LatestValidationRun(env.Ctx, "ds-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Summary.Errors == 0 {
		t.Fatalf("mutual co-run should produce a cycle error: %+v", run.Summary)
	}
}

func TestExportGatedOnErrors(t *testing.T) {
	env := newTestEnv(t)
	opts := cleanImport()
	opts.Clients[0].RequestedTaskIDs = []string{"T999"}
	if _, err := env.Engine.Import(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Export(env.Ctx, "ds-1", t.TempDir(), "tester"); err == nil {
		t.Fatal("export must be blocked while errors remain")
	}

	// Fix the reference and export.
	if _, err := env.Engine.UpdateClient(env.Ctx, "ds-1", 0, cleanImport().Clients[0], "tester"); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "pkg")
	res, err := env.Engine.Export(env.Ctx, "ds-1", dir, "tester")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Files) != 5 {
		t.Fatalf("got %d files, want 5: %v", len(res.Files), res.Files)
	}
	data, err := os.ReadFile(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("read rules.json: %v", err)
	}
	var pkg struct {
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		t.Fatal(err)
	}
	if len(pkg.Weights) == 0 {
		t.Fatal("export should fall back to configured default weights")
	}
	ds, _ := env.Engine.Repo.GetDataset(env.Ctx, "ds-1")
	if ds.Status != "exported" {
		t.Fatalf("status = %q, want exported", ds.Status)
	}
}

func TestAssignmentDrivesOverloadCheck(t *testing.T) {
	env := newTestEnv(t)
	opts := cleanImport()
	// Capacity 1x1=1 against an assigned duration of 2.
	opts.Workers[0].AvailableSlots = []int{1}
	opts.Workers[0].MaxLoadPerPhase = 1
	opts.Tasks[0].PreferredPhases = nil
	if _, err := env.Engine.Import(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetAssignment(env.Ctx, "ds-1", domain.Assignment{WorkerID: "W1", TaskIDs: []string{"T1"}}, "tester"); err != nil {
		t.Fatalf("set assignment: %v", err)
	}
	run, err := env.Engine.Repo.LatestValidationRun(env.Ctx, "ds-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Summary.Errors == 0 {
		t.Fatalf("overloaded worker should produce an error: %+v", run.Summary)
	}
}
