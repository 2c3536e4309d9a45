package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tidyplan/internal/config"
	"tidyplan/internal/domain"
	"tidyplan/internal/events"
	"tidyplan/internal/repo"
	"tidyplan/internal/rules"
	"tidyplan/internal/validate"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) validator() *validate.Validator {
	limits := validate.DefaultLimits()
	if e.Config != nil {
		limits = e.Config.Validation.Limits
	}
	return validate.New(limits)
}

// InitDataset initializes a new dataset with migrations already run.
func (e Engine) InitDataset(ctx context.Context, datasetID, name, actorID string) (domain.Dataset, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if name == "" {
		name = datasetID
	}
	d := domain.Dataset{
		ID:        datasetID,
		Name:      name,
		Status:    "draft",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertDataset(ctx, tx, d); err != nil {
		return domain.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	if err := e.Repo.UpsertDatasetConfig(ctx, tx, d.ID, now, config.Default(d.ID)); err != nil {
		return domain.Dataset{}, fmt.Errorf("insert dataset config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "dataset.init", d.ID, "dataset", d.ID, actorID, events.EventPayload{"status": d.Status}); err != nil {
		return domain.Dataset{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dataset{}, err
	}
	return d, nil
}

// ImportOptions carries the collections to replace. Nil collections are left
// untouched; an empty non-nil collection clears its table.
type ImportOptions struct {
	DatasetID string
	Clients   []domain.Client
	Workers   []domain.Worker
	Tasks     []domain.Task
	ActorID   string
}

// Import replaces collections wholesale and re-validates the dataset.
func (e Engine) Import(ctx context.Context, opts ImportOptions) (domain.ValidationRun, error) {
	if opts.DatasetID == "" {
		return domain.ValidationRun{}, errors.New("dataset is required")
	}
	if _, err := e.Repo.GetDataset(ctx, opts.DatasetID); err != nil {
		return domain.ValidationRun{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	defer tx.Rollback()

	counts := events.EventPayload{}
	if opts.Clients != nil {
		if err := e.Repo.ReplaceClients(ctx, tx, opts.DatasetID, opts.Clients); err != nil {
			return domain.ValidationRun{}, fmt.Errorf("replace clients: %w", err)
		}
		counts["clients"] = len(opts.Clients)
	}
	if opts.Workers != nil {
		if err := e.Repo.ReplaceWorkers(ctx, tx, opts.DatasetID, opts.Workers); err != nil {
			return domain.ValidationRun{}, fmt.Errorf("replace workers: %w", err)
		}
		counts["workers"] = len(opts.Workers)
	}
	if opts.Tasks != nil {
		if err := e.Repo.ReplaceTasks(ctx, tx, opts.DatasetID, opts.Tasks); err != nil {
			return domain.ValidationRun{}, fmt.Errorf("replace tasks: %w", err)
		}
		counts["tasks"] = len(opts.Tasks)
	}
	if len(counts) == 0 {
		return domain.ValidationRun{}, errors.New("nothing to import")
	}
	if err := e.Events.Append(ctx, tx, "dataset.imported", opts.DatasetID, "dataset", opts.DatasetID, opts.ActorID, counts); err != nil {
		return domain.ValidationRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRun{}, err
	}
	run, _, err := e.RunValidation(ctx, opts.DatasetID, opts.ActorID)
	return run, err
}

// UpdateClient replaces one client row and re-validates the whole dataset,
// since a single edit can invalidate cross-entity findings.
func (e Engine) UpdateClient(ctx context.Context, datasetID string, row int, c domain.Client, actorID string) (domain.ValidationRun, error) {
	return e.updateEntity(ctx, datasetID, domain.EntityClient, c.ClientID, actorID, func(tx *sql.Tx) error {
		return e.Repo.UpdateClient(ctx, tx, datasetID, row, c)
	})
}

// UpdateWorker replaces one worker row and re-validates the dataset.
func (e Engine) UpdateWorker(ctx context.Context, datasetID string, row int, w domain.Worker, actorID string) (domain.ValidationRun, error) {
	return e.updateEntity(ctx, datasetID, domain.EntityWorker, w.WorkerID, actorID, func(tx *sql.Tx) error {
		return e.Repo.UpdateWorker(ctx, tx, datasetID, row, w)
	})
}

// UpdateTask replaces one task row and re-validates the dataset.
func (e Engine) UpdateTask(ctx context.Context, datasetID string, row int, t domain.Task, actorID string) (domain.ValidationRun, error) {
	return e.updateEntity(ctx, datasetID, domain.EntityTask, t.TaskID, actorID, func(tx *sql.Tx) error {
		return e.Repo.UpdateTask(ctx, tx, datasetID, row, t)
	})
}

func (e Engine) updateEntity(ctx context.Context, datasetID string, kind domain.EntityKind, entityID, actorID string, apply func(*sql.Tx) error) (domain.ValidationRun, error) {
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return domain.ValidationRun{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	defer tx.Rollback()
	if err := apply(tx); err != nil {
		return domain.ValidationRun{}, err
	}
	if err := e.Events.Append(ctx, tx, "entity.updated", datasetID, string(kind), entityID, actorID, events.EventPayload{}); err != nil {
		return domain.ValidationRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRun{}, err
	}
	run, _, err := e.RunValidation(ctx, datasetID, actorID)
	return run, err
}

// Snapshot loads everything one validation pass observes: the three
// collections plus co-run groups (stored directly and implied by co_run
// rules) and assignments.
func (e Engine) Snapshot(ctx context.Context, datasetID string) (validate.Snapshot, error) {
	var snap validate.Snapshot
	var err error
	if snap.Clients, err = e.Repo.ListClients(ctx, datasetID); err != nil {
		return snap, err
	}
	if snap.Workers, err = e.Repo.ListWorkers(ctx, datasetID); err != nil {
		return snap, err
	}
	if snap.Tasks, err = e.Repo.ListTasks(ctx, datasetID); err != nil {
		return snap, err
	}
	if snap.CoRunGroups, err = e.Repo.ListCoRunGroups(ctx, datasetID); err != nil {
		return snap, err
	}
	ruleList, err := e.Repo.ListRules(ctx, datasetID)
	if err != nil {
		return snap, err
	}
	ruleGroups, err := rules.CoRunGroups(ruleList, datasetID)
	if err != nil {
		return snap, err
	}
	snap.CoRunGroups = append(snap.CoRunGroups, ruleGroups...)
	if snap.Assignments, err = e.Repo.ListAssignments(ctx, datasetID); err != nil {
		return snap, err
	}
	return snap, nil
}

// RunValidation validates the dataset and persists the run, its findings and
// the resulting status. Findings never fail the call; only infrastructure
// errors do.
func (e Engine) RunValidation(ctx context.Context, datasetID, actorID string) (domain.ValidationRun, []domain.Finding, error) {
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return domain.ValidationRun{}, nil, err
	}
	snap, err := e.Snapshot(ctx, datasetID)
	if err != nil {
		return domain.ValidationRun{}, nil, err
	}
	res := e.validator().Run(snap)

	now := e.now().UTC().Format(time.RFC3339)
	run := domain.ValidationRun{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Summary:   res.Summary,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertValidationRun(ctx, tx, run); err != nil {
		return run, nil, err
	}
	if err := e.Repo.InsertFindings(ctx, tx, run.ID, datasetID, res.Findings); err != nil {
		return run, nil, err
	}
	status := "draft"
	if res.Summary.Errors == 0 {
		status = "validated"
	}
	if err := e.Repo.UpdateDatasetStatus(ctx, tx, datasetID, status, now); err != nil {
		return run, nil, err
	}
	if err := e.Events.Append(ctx, tx, "validation.run", datasetID, "dataset", datasetID, actorID, events.EventPayload{
		"run_id":   run.ID,
		"errors":   res.Summary.Errors,
		"warnings": res.Summary.Warnings,
		"info":     res.Summary.Info,
		"score":    res.Summary.Score,
	}); err != nil {
		return run, nil, err
	}
	if err := tx.Commit(); err != nil {
		return run, nil, err
	}
	return run, res.Findings, nil
}

// AddRule validates and stores a business rule, then re-validates: co_run
// rules feed the circular-dependency check.
func (e Engine) AddRule(ctx context.Context, datasetID string, rule rules.Rule, actorID string) (rules.Rule, error) {
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return rule, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.DatasetID = datasetID
	if err := rules.Validate(rule); err != nil {
		return rule, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rule, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule, now); err != nil {
		return rule, err
	}
	if err := e.Events.Append(ctx, tx, "rule.added", datasetID, "rule", rule.ID, actorID, events.EventPayload{"type": string(rule.Type)}); err != nil {
		return rule, err
	}
	if err := tx.Commit(); err != nil {
		return rule, err
	}
	if _, _, err := e.RunValidation(ctx, datasetID, actorID); err != nil {
		return rule, err
	}
	return rule, nil
}

// DeleteRule removes a rule and re-validates.
func (e Engine) DeleteRule(ctx context.Context, datasetID, ruleID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, datasetID, ruleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rule.deleted", datasetID, "rule", ruleID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, _, err = e.RunValidation(ctx, datasetID, actorID)
	return err
}

// ImportRules loads a YAML rules document, assigns ids and stores every rule.
func (e Engine) ImportRules(ctx context.Context, datasetID string, data []byte, actorID string) ([]rules.Rule, error) {
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	list, err := rules.FromYAML(data)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for i := range list {
		list[i].ID = uuid.NewString()
		list[i].DatasetID = datasetID
		if err := e.Repo.InsertRule(ctx, tx, list[i], now); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "rules.imported", datasetID, "dataset", datasetID, actorID, events.EventPayload{"count": len(list)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if _, _, err := e.RunValidation(ctx, datasetID, actorID); err != nil {
		return nil, err
	}
	return list, nil
}

// SetAssignment stores a worker's planned task list and re-validates, which
// drives the overload check.
func (e Engine) SetAssignment(ctx context.Context, datasetID string, a domain.Assignment, actorID string) error {
	if a.WorkerID == "" {
		return errors.New("worker is required")
	}
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertAssignment(ctx, tx, datasetID, a); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "assignment.set", datasetID, "worker", a.WorkerID, actorID, events.EventPayload{"tasks": len(a.TaskIDs)}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, _, err = e.RunValidation(ctx, datasetID, actorID)
	return err
}

// SetWeight stores one priority weight.
func (e Engine) SetWeight(ctx context.Context, datasetID, criterion string, weight float64, actorID string) error {
	if criterion == "" {
		return errors.New("criterion is required")
	}
	if weight < 0 {
		return errors.New("weight must not be negative")
	}
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertWeight(ctx, tx, datasetID, criterion, weight); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "weight.set", datasetID, "dataset", datasetID, actorID, events.EventPayload{"criterion": criterion, "weight": weight}); err != nil {
		return err
	}
	return tx.Commit()
}

// ExportResult describes a written export package.
type ExportResult struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
	RunID string   `json:"run_id"`
	Score int      `json:"score"`
}

// Export writes the cleaned collections, rules and weights as a package for
// the downstream allocator. It is gated on the latest validation run: more
// errors than config.export.max_errors refuses the export.
func (e Engine) Export(ctx context.Context, datasetID, dir, actorID string) (ExportResult, error) {
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return ExportResult{}, err
	}
	run, err := e.Repo.LatestValidationRun(ctx, datasetID)
	if errors.Is(err, repo.ErrNotFound) {
		return ExportResult{}, errors.New("dataset has never been validated; run tp validate first")
	}
	if err != nil {
		return ExportResult{}, err
	}
	maxErrors := 0
	if e.Config != nil {
		maxErrors = e.Config.Export.MaxErrors
	}
	if run.Summary.Errors > maxErrors {
		return ExportResult{}, fmt.Errorf("export blocked: %d validation errors exceed the allowed %d", run.Summary.Errors, maxErrors)
	}
	if dir == "" {
		dir = "export"
		if e.Config != nil && e.Config.Export.Dir != "" {
			dir = e.Config.Export.Dir
		}
	}
	snap, err := e.Snapshot(ctx, datasetID)
	if err != nil {
		return ExportResult{}, err
	}
	ruleList, err := e.Repo.ListRules(ctx, datasetID)
	if err != nil {
		return ExportResult{}, err
	}
	weights, err := e.Repo.ListWeights(ctx, datasetID)
	if err != nil {
		return ExportResult{}, err
	}
	if len(weights) == 0 && e.Config != nil {
		weights = e.Config.Weights
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{Dir: dir, RunID: run.ID, Score: run.Summary.Score}
	files := map[string]any{
		"clients.json": snap.Clients,
		"workers.json": snap.Workers,
		"tasks.json":   snap.Tasks,
		"rules.json": map[string]any{
			"rules":   ruleList,
			"weights": weights,
		},
		"summary.json": run.Summary,
	}
	for name, payload := range files {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return ExportResult{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644); err != nil {
			return ExportResult{}, err
		}
		res.Files = append(res.Files, name)
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ExportResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDatasetStatus(ctx, tx, datasetID, "exported", now); err != nil {
		return ExportResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "dataset.exported", datasetID, "dataset", datasetID, actorID, events.EventPayload{
		"dir":    dir,
		"run_id": run.ID,
	}); err != nil {
		return ExportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ExportResult{}, err
	}
	return res, nil
}

// AddCoRunGroup stores a first-class co-run group and re-validates.
func (e Engine) AddCoRunGroup(ctx context.Context, datasetID string, taskIDs []string, actorID string) (domain.CoRunGroup, error) {
	if len(taskIDs) < 2 {
		return domain.CoRunGroup{}, errors.New("a co-run group needs at least two tasks")
	}
	if _, err := e.Repo.GetDataset(ctx, datasetID); err != nil {
		return domain.CoRunGroup{}, err
	}
	g := domain.CoRunGroup{ID: uuid.NewString(), DatasetID: datasetID, TaskIDs: taskIDs}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCoRunGroup(ctx, tx, g, now); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "corun.added", datasetID, "corun_group", g.ID, actorID, events.EventPayload{"tasks": len(taskIDs)}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	if _, _, err := e.RunValidation(ctx, datasetID, actorID); err != nil {
		return g, err
	}
	return g, nil
}
