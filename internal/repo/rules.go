package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tidyplan/internal/domain"
	"tidyplan/internal/rules"
)

func (r Repo) InsertCoRunGroup(ctx context.Context, tx *sql.Tx, g domain.CoRunGroup, createdAt string) error {
	ids, err := json.Marshal(g.TaskIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO corun_groups(id,dataset_id,task_ids_json,created_at) VALUES (?,?,?,?)`,
		g.ID, g.DatasetID, string(ids), createdAt)
	return err
}

func (r Repo) DeleteCoRunGroup(ctx context.Context, tx *sql.Tx, datasetID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM corun_groups WHERE dataset_id=? AND id=?`, datasetID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCoRunGroups(ctx context.Context, datasetID string) ([]domain.CoRunGroup, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,dataset_id,task_ids_json FROM corun_groups WHERE dataset_id=? ORDER BY created_at ASC, id ASC`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CoRunGroup
	for rows.Next() {
		var g domain.CoRunGroup
		var ids string
		if err := rows.Scan(&g.ID, &g.DatasetID, &ids); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &g.TaskIDs); err != nil {
			return nil, fmt.Errorf("corun group %s task_ids: %w", g.ID, err)
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpsertAssignment(ctx context.Context, tx *sql.Tx, datasetID string, a domain.Assignment) error {
	ids, err := json.Marshal(a.TaskIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assignments(dataset_id,worker_id,task_ids_json) VALUES (?,?,?)
ON CONFLICT(dataset_id,worker_id) DO UPDATE SET task_ids_json=excluded.task_ids_json`,
		datasetID, a.WorkerID, string(ids))
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, datasetID, workerID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE dataset_id=? AND worker_id=?`, datasetID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAssignments(ctx context.Context, datasetID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT worker_id,task_ids_json FROM assignments WHERE dataset_id=? ORDER BY worker_id ASC`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var ids string
		if err := rows.Scan(&a.WorkerID, &ids); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &a.TaskIDs); err != nil {
			return nil, fmt.Errorf("assignment %s task_ids: %w", a.WorkerID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule rules.Rule, createdAt string) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rules(id,dataset_id,type,params_json,created_at) VALUES (?,?,?,?,?)`,
		rule.ID, rule.DatasetID, string(rule.Type), string(params), createdAt)
	return err
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, datasetID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE dataset_id=? AND id=?`, datasetID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRules(ctx context.Context, datasetID string) ([]rules.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,dataset_id,type,params_json FROM rules WHERE dataset_id=? ORDER BY created_at ASC, id ASC`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []rules.Rule
	for rows.Next() {
		var rule rules.Rule
		var ruleType, params string
		if err := rows.Scan(&rule.ID, &rule.DatasetID, &ruleType, &params); err != nil {
			return nil, err
		}
		rule.Type = rules.Type(ruleType)
		if err := json.Unmarshal([]byte(params), &rule.Params); err != nil {
			return nil, fmt.Errorf("rule %s params: %w", rule.ID, err)
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func (r Repo) UpsertWeight(ctx context.Context, tx *sql.Tx, datasetID, criterion string, weight float64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO weights(dataset_id,criterion,weight) VALUES (?,?,?)
ON CONFLICT(dataset_id,criterion) DO UPDATE SET weight=excluded.weight`,
		datasetID, criterion, weight)
	return err
}

func (r Repo) ListWeights(ctx context.Context, datasetID string) (map[string]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT criterion,weight FROM weights WHERE dataset_id=?`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]float64{}
	for rows.Next() {
		var criterion string
		var weight float64
		if err := rows.Scan(&criterion, &weight); err != nil {
			return nil, err
		}
		res[criterion] = weight
	}
	return res, rows.Err()
}
