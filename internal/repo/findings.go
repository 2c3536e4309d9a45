package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"tidyplan/internal/domain"
)

func (r Repo) InsertValidationRun(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_runs(id,dataset_id,summary_json,created_at) VALUES (?,?,?,?)`,
		run.ID, run.DatasetID, string(summary), run.CreatedAt)
	return err
}

// InsertFindings stores findings in request order; iteration index is the
// stable tiebreaker for later reads.
func (r Repo) InsertFindings(ctx context.Context, tx *sql.Tx, runID, datasetID string, findings []domain.Finding) error {
	for _, f := range findings {
		_, err := tx.ExecContext(ctx, `INSERT INTO findings(id,run_id,dataset_id,entity_kind,entity_id,row_idx,field,severity,message,suggested_fix,auto_fixable)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			f.ID, runID, datasetID, string(f.EntityKind), f.EntityID, f.Row, f.Field, string(f.Severity), f.Message, nullable(f.SuggestedFix), boolInt(f.AutoFixable))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	var run domain.ValidationRun
	var summary string
	err := r.DB.QueryRowContext(ctx, `SELECT id,dataset_id,summary_json,created_at FROM validation_runs WHERE id=?`, id).
		Scan(&run.ID, &run.DatasetID, &summary, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	return run, json.Unmarshal([]byte(summary), &run.Summary)
}

// LatestValidationRun returns the newest run for a dataset.
func (r Repo) LatestValidationRun(ctx context.Context, datasetID string) (domain.ValidationRun, error) {
	var run domain.ValidationRun
	var summary string
	err := r.DB.QueryRowContext(ctx, `SELECT id,dataset_id,summary_json,created_at FROM validation_runs WHERE dataset_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, datasetID).
		Scan(&run.ID, &run.DatasetID, &summary, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	return run, json.Unmarshal([]byte(summary), &run.Summary)
}

func (r Repo) ListValidationRuns(ctx context.Context, datasetID string, limit int) ([]domain.ValidationRun, error) {
	query := `SELECT id,dataset_id,summary_json,created_at FROM validation_runs WHERE dataset_id=? ORDER BY created_at DESC, id DESC`
	args := []any{datasetID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRun
	for rows.Next() {
		var run domain.ValidationRun
		var summary string
		if err := rows.Scan(&run.ID, &run.DatasetID, &summary, &run.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

type FindingFilters struct {
	RunID      string
	EntityKind string
	EntityID   string
	Severity   string
	Field      string
	Limit      int
}

// ListFindings returns findings for a run in insertion order.
func (r Repo) ListFindings(ctx context.Context, f FindingFilters) ([]domain.Finding, error) {
	clauses := []string{"run_id=?"}
	args := []any{f.RunID}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.Field != "" {
		clauses = append(clauses, "field=?")
		args = append(args, f.Field)
	}
	query := `SELECT id,entity_kind,entity_id,row_idx,field,severity,message,COALESCE(suggested_fix,''),auto_fixable FROM findings WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY rowid ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		var fd domain.Finding
		var kind, severity string
		var autoFixable int
		if err := rows.Scan(&fd.ID, &kind, &fd.EntityID, &fd.Row, &fd.Field, &severity, &fd.Message, &fd.SuggestedFix, &autoFixable); err != nil {
			return nil, err
		}
		fd.EntityKind = domain.EntityKind(kind)
		fd.Severity = domain.Severity(severity)
		fd.AutoFixable = autoFixable != 0
		res = append(res, fd)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
