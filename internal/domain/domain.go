package domain

// EntityKind identifies one of the three linked collections.
type EntityKind string

const (
	EntityClient EntityKind = "client"
	EntityWorker EntityKind = "worker"
	EntityTask   EntityKind = "task"
)

// Valid reports whether k is one of the closed set of entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityClient, EntityWorker, EntityTask:
		return true
	}
	return false
}

// Severity grades a finding. Ordering for scoring: error > warning > info.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CrossRow is the sentinel row index for findings that are not attributable
// to a single collection row (cross-entity and dataset-global checks).
const CrossRow = -1

// GlobalEntityID is the sentinel entity id for dataset-global findings.
const GlobalEntityID = "GLOBAL"

type Client struct {
	ClientID         string   `json:"client_id"`
	ClientName       string   `json:"client_name"`
	PriorityLevel    int      `json:"priority_level"`
	RequestedTaskIDs []string `json:"requested_task_ids"`
	GroupTag         string   `json:"group_tag,omitempty"`
	AttributesJSON   string   `json:"attributes_json,omitempty"`
}

type Worker struct {
	WorkerID           string   `json:"worker_id"`
	WorkerName         string   `json:"worker_name"`
	Skills             []string `json:"skills"`
	AvailableSlots     []int    `json:"available_slots"`
	MaxLoadPerPhase    int      `json:"max_load_per_phase"`
	WorkerGroup        string   `json:"worker_group,omitempty"`
	QualificationLevel int      `json:"qualification_level"`
}

type Task struct {
	TaskID          string   `json:"task_id"`
	TaskName        string   `json:"task_name"`
	Category        string   `json:"category,omitempty"`
	Duration        int      `json:"duration"`
	RequiredSkills  []string `json:"required_skills"`
	PreferredPhases []int    `json:"preferred_phases"`
	MaxConcurrent   int      `json:"max_concurrent"`
}

// Finding is one validation result. Row is the collection index the finding
// refers to, or CrossRow for cross-entity findings. AutoFixable is set only
// when a SuggestedFix exists and the severity is below error.
type Finding struct {
	ID           string     `json:"id"`
	EntityKind   EntityKind `json:"entity_kind" enum:"client,worker,task"`
	EntityID     string     `json:"entity_id"`
	Row          int        `json:"row"`
	Field        string     `json:"field"`
	Severity     Severity   `json:"severity" enum:"error,warning,info"`
	Message      string     `json:"message"`
	SuggestedFix string     `json:"suggested_fix,omitempty"`
	AutoFixable  bool       `json:"auto_fixable"`
}

// Summary aggregates a finding list. Score is 0-100 where
// score = max(0, 100 - 10*errors - 5*warnings - 1*info).
type Summary struct {
	Total    int            `json:"total"`
	Errors   int            `json:"errors"`
	Warnings int            `json:"warnings"`
	Info     int            `json:"info"`
	Score    int            `json:"score"`
	ByEntity map[string]int `json:"by_entity"`
	ByField  map[string]int `json:"by_field"`
}

// Dataset is one uploaded snapshot of the three collections.
type Dataset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"draft,validated,exported"`
	Clients   int    `json:"clients"`
	Workers   int    `json:"workers"`
	Tasks     int    `json:"tasks"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ValidationRun records one full validation pass over a dataset.
type ValidationRun struct {
	ID        string  `json:"id"`
	DatasetID string  `json:"dataset_id"`
	Summary   Summary `json:"summary"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// CoRunGroup asserts that a set of tasks must execute together.
type CoRunGroup struct {
	ID        string   `json:"id"`
	DatasetID string   `json:"dataset_id"`
	TaskIDs   []string `json:"task_ids"`
}

// Assignment maps a worker to the tasks currently planned for it; supplied
// externally and optional, used only by the overload check.
type Assignment struct {
	WorkerID string   `json:"worker_id"`
	TaskIDs  []string `json:"task_ids"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DatasetID  string `json:"dataset_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
