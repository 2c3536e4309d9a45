package server

import (
	"encoding/json"

	"tidyplan/internal/config"
	"tidyplan/internal/domain"
	"tidyplan/internal/validate"
)

// Request payloads

type CreateDatasetRequest struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

type ImportRequest struct {
	Clients []domain.Client `json:"clients,omitempty"`
	Workers []domain.Worker `json:"workers,omitempty"`
	Tasks   []domain.Task   `json:"tasks,omitempty"`
}

type AddRuleRequest struct {
	Type   string          `json:"type" enum:"co_run,slot_restriction,load_limit,phase_window,precedence"`
	Params json.RawMessage `json:"params"`
}

type AddCoRunGroupRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type SetWeightRequest struct {
	Weight float64 `json:"weight" minimum:"0"`
}

type SetAssignmentRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type ExportRequest struct {
	Dir string `json:"dir,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type DatasetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"draft,validated,exported"`
	Clients   int    `json:"clients"`
	Workers   int    `json:"workers"`
	Tasks     int    `json:"tasks"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type ValidationRunResponse struct {
	ID        string         `json:"id"`
	DatasetID string         `json:"dataset_id"`
	Summary   domain.Summary `json:"summary"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type RuleResponse struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	DatasetID  string         `json:"dataset_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DatasetConfigResponse struct {
	Dataset struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"dataset"`
	Limits    validate.Limits    `json:"limits"`
	Weights   map[string]float64 `json:"weights"`
	MaxErrors int                `json:"max_errors"`
}

// APIKeyResponse never carries the hash; Key is set only on create.
type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CollectionsResponse struct {
	Clients []domain.Client `json:"clients"`
	Workers []domain.Worker `json:"workers"`
	Tasks   []domain.Task   `json:"tasks"`
}

// Conversion helpers

func datasetResponse(d domain.Dataset) DatasetResponse {
	return DatasetResponse(d)
}

func mapDatasets(in []domain.Dataset) []DatasetResponse {
	res := make([]DatasetResponse, 0, len(in))
	for _, d := range in {
		res = append(res, datasetResponse(d))
	}
	return res
}

func runResponse(run domain.ValidationRun) ValidationRunResponse {
	return ValidationRunResponse(run)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		DatasetID:  e.DatasetID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) DatasetConfigResponse {
	var res DatasetConfigResponse
	res.Dataset.ID = cfg.Dataset.ID
	res.Dataset.Kind = cfg.Dataset.Kind
	res.Limits = cfg.Validation.Limits
	res.Weights = cfg.Weights
	res.MaxErrors = cfg.Export.MaxErrors
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilFindings(in []domain.Finding) []domain.Finding {
	if in == nil {
		return []domain.Finding{}
	}
	return in
}
