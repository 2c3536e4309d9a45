package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tidyplan/internal/config"
	"tidyplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertDataset(ctx context.Context, tx *sql.Tx, d domain.Dataset) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO datasets(id,name,status,created_at,updated_at) VALUES (?,?,?,?,?)`,
		d.ID, d.Name, d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	var d domain.Dataset
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at,updated_at FROM datasets WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	return r.fillCounts(ctx, d)
}

func (r Repo) fillCounts(ctx context.Context, d domain.Dataset) (domain.Dataset, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM clients WHERE dataset_id=?),
		(SELECT count(*) FROM workers WHERE dataset_id=?),
		(SELECT count(*) FROM tasks WHERE dataset_id=?)`, d.ID, d.ID, d.ID)
	if err := row.Scan(&d.Clients, &d.Workers, &d.Tasks); err != nil {
		return d, err
	}
	return d, nil
}

// SingleDataset returns the only dataset in the workspace, erroring when the
// choice is ambiguous.
func (r Repo) SingleDataset(ctx context.Context) (domain.Dataset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at,updated_at FROM datasets`)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer rows.Close()
	var datasets []domain.Dataset
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return domain.Dataset{}, err
		}
		datasets = append(datasets, d)
	}
	if len(datasets) == 0 {
		return domain.Dataset{}, ErrNotFound
	}
	if len(datasets) > 1 {
		return domain.Dataset{}, fmt.Errorf("multiple datasets exist; specify --dataset")
	}
	return r.fillCounts(ctx, datasets[0])
}

func (r Repo) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at,updated_at FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dataset
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r Repo) UpdateDatasetStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE datasets SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDataset(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM datasets WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertDatasetConfig(ctx context.Context, tx *sql.Tx, datasetID, now string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Dataset.ID = datasetID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO dataset_configs(dataset_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(dataset_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, datasetID, string(payload), now, now)
	return err
}

func (r Repo) GetDatasetConfig(ctx context.Context, datasetID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM dataset_configs WHERE dataset_id=?`, datasetID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Dataset.ID == "" {
		cfg.Dataset.ID = datasetID
	}
	return &cfg, cfg.Validate()
}

// Collections are replaced wholesale on import and edited row-by-row after.
// List fields are stored as JSON arrays in their row.

func (r Repo) ReplaceClients(ctx context.Context, tx *sql.Tx, datasetID string, clients []domain.Client) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE dataset_id=?`, datasetID); err != nil {
		return err
	}
	for i, c := range clients {
		if err := upsertClient(ctx, tx, datasetID, i, c); err != nil {
			return err
		}
	}
	return nil
}

func upsertClient(ctx context.Context, tx *sql.Tx, datasetID string, row int, c domain.Client) error {
	requested, err := json.Marshal(c.RequestedTaskIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO clients(dataset_id,row_idx,client_id,client_name,priority_level,requested_task_ids_json,group_tag,attributes_json)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(dataset_id,row_idx) DO UPDATE SET client_id=excluded.client_id, client_name=excluded.client_name,
priority_level=excluded.priority_level, requested_task_ids_json=excluded.requested_task_ids_json,
group_tag=excluded.group_tag, attributes_json=excluded.attributes_json`,
		datasetID, row, c.ClientID, c.ClientName, c.PriorityLevel, string(requested), nullable(c.GroupTag), nullable(c.AttributesJSON))
	return err
}

func (r Repo) UpdateClient(ctx context.Context, tx *sql.Tx, datasetID string, row int, c domain.Client) error {
	return upsertClient(ctx, tx, datasetID, row, c)
}

func (r Repo) ListClients(ctx context.Context, datasetID string) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT client_id,client_name,priority_level,requested_task_ids_json,COALESCE(group_tag,''),COALESCE(attributes_json,'')
FROM clients WHERE dataset_id=? ORDER BY row_idx`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		var requested string
		if err := rows.Scan(&c.ClientID, &c.ClientName, &c.PriorityLevel, &requested, &c.GroupTag, &c.AttributesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(requested), &c.RequestedTaskIDs); err != nil {
			return nil, fmt.Errorf("client %s requested_task_ids: %w", c.ClientID, err)
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) ReplaceWorkers(ctx context.Context, tx *sql.Tx, datasetID string, workers []domain.Worker) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM workers WHERE dataset_id=?`, datasetID); err != nil {
		return err
	}
	for i, w := range workers {
		if err := upsertWorker(ctx, tx, datasetID, i, w); err != nil {
			return err
		}
	}
	return nil
}

func upsertWorker(ctx context.Context, tx *sql.Tx, datasetID string, row int, w domain.Worker) error {
	skills, err := json.Marshal(w.Skills)
	if err != nil {
		return err
	}
	slots, err := json.Marshal(w.AvailableSlots)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workers(dataset_id,row_idx,worker_id,worker_name,skills_json,available_slots_json,max_load_per_phase,worker_group,qualification_level)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(dataset_id,row_idx) DO UPDATE SET worker_id=excluded.worker_id, worker_name=excluded.worker_name,
skills_json=excluded.skills_json, available_slots_json=excluded.available_slots_json,
max_load_per_phase=excluded.max_load_per_phase, worker_group=excluded.worker_group, qualification_level=excluded.qualification_level`,
		datasetID, row, w.WorkerID, w.WorkerName, string(skills), string(slots), w.MaxLoadPerPhase, nullable(w.WorkerGroup), w.QualificationLevel)
	return err
}

func (r Repo) UpdateWorker(ctx context.Context, tx *sql.Tx, datasetID string, row int, w domain.Worker) error {
	return upsertWorker(ctx, tx, datasetID, row, w)
}

func (r Repo) ListWorkers(ctx context.Context, datasetID string) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT worker_id,worker_name,skills_json,available_slots_json,max_load_per_phase,COALESCE(worker_group,''),qualification_level
FROM workers WHERE dataset_id=? ORDER BY row_idx`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		var w domain.Worker
		var skills, slots string
		if err := rows.Scan(&w.WorkerID, &w.WorkerName, &skills, &slots, &w.MaxLoadPerPhase, &w.WorkerGroup, &w.QualificationLevel); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skills), &w.Skills); err != nil {
			return nil, fmt.Errorf("worker %s skills: %w", w.WorkerID, err)
		}
		if err := json.Unmarshal([]byte(slots), &w.AvailableSlots); err != nil {
			return nil, fmt.Errorf("worker %s available_slots: %w", w.WorkerID, err)
		}
		res = append(res, w)
	}
	return res, nil
}

func (r Repo) ReplaceTasks(ctx context.Context, tx *sql.Tx, datasetID string, tasks []domain.Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE dataset_id=?`, datasetID); err != nil {
		return err
	}
	for i, t := range tasks {
		if err := upsertTask(ctx, tx, datasetID, i, t); err != nil {
			return err
		}
	}
	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, datasetID string, row int, t domain.Task) error {
	skills, err := json.Marshal(t.RequiredSkills)
	if err != nil {
		return err
	}
	phases, err := json.Marshal(t.PreferredPhases)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(dataset_id,row_idx,task_id,task_name,category,duration,required_skills_json,preferred_phases_json,max_concurrent)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(dataset_id,row_idx) DO UPDATE SET task_id=excluded.task_id, task_name=excluded.task_name,
category=excluded.category, duration=excluded.duration, required_skills_json=excluded.required_skills_json,
preferred_phases_json=excluded.preferred_phases_json, max_concurrent=excluded.max_concurrent`,
		datasetID, row, t.TaskID, t.TaskName, nullable(t.Category), t.Duration, string(skills), string(phases), t.MaxConcurrent)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, datasetID string, row int, t domain.Task) error {
	return upsertTask(ctx, tx, datasetID, row, t)
}

func (r Repo) ListTasks(ctx context.Context, datasetID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,task_name,COALESCE(category,''),duration,required_skills_json,preferred_phases_json,max_concurrent
FROM tasks WHERE dataset_id=? ORDER BY row_idx`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var skills, phases string
		if err := rows.Scan(&t.TaskID, &t.TaskName, &t.Category, &t.Duration, &skills, &phases, &t.MaxConcurrent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skills), &t.RequiredSkills); err != nil {
			return nil, fmt.Errorf("task %s required_skills: %w", t.TaskID, err)
		}
		if err := json.Unmarshal([]byte(phases), &t.PreferredPhases); err != nil {
			return nil, fmt.Errorf("task %s preferred_phases: %w", t.TaskID, err)
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, datasetID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if datasetID != "" {
		clauses = append(clauses, "dataset_id=?")
		args = append(args, datasetID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(dataset_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DatasetID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
