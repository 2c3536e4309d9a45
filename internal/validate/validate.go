// Package validate implements the validation and cross-reference
// consistency engine: it inspects the three entity collections, individually
// and jointly, and produces a deterministic list of findings plus a summary.
//
// The engine is pure. A Validator holds only its configured limits; every
// lookup index is built per Run call and discarded, so independent calls can
// proceed in parallel. Bad data never produces an error return - it produces
// findings. The only panics are programming contract violations (an entity
// kind outside the closed set).
package validate

import (
	"fmt"

	"github.com/google/uuid"

	"tidyplan/internal/domain"
)

// Limits are the tunable soft thresholds for heuristic warnings and the
// phase-number bounds. Scoring weights are a fixed contract and are not
// part of Limits.
type Limits struct {
	MinPhase               int     `json:"min_phase" yaml:"min_phase"`
	MaxPhase               int     `json:"max_phase" yaml:"max_phase"`
	MaxAttributesJSONBytes int     `json:"max_attributes_json_bytes" yaml:"max_attributes_json_bytes"`
	RequestedTasksWarn     int     `json:"requested_tasks_warn" yaml:"requested_tasks_warn"`
	SkillsWarn             int     `json:"skills_warn" yaml:"skills_warn"`
	AvailablePhasesWarn    int     `json:"available_phases_warn" yaml:"available_phases_warn"`
	RequiredSkillsWarn     int     `json:"required_skills_warn" yaml:"required_skills_warn"`
	NearCapacityRatio      float64 `json:"near_capacity_ratio" yaml:"near_capacity_ratio"`
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		MinPhase:               1,
		MaxPhase:               50,
		MaxAttributesJSONBytes: 5000,
		RequestedTasksWarn:     20,
		SkillsWarn:             10,
		AvailablePhasesWarn:    30,
		RequiredSkillsWarn:     5,
		NearCapacityRatio:      0.8,
	}
}

// Snapshot is an immutable copy of everything one validation pass observes.
// CoRunGroups and Assignments are optional; absent means empty.
type Snapshot struct {
	Clients     []domain.Client
	Workers     []domain.Worker
	Tasks       []domain.Task
	CoRunGroups []domain.CoRunGroup
	Assignments []domain.Assignment
}

// Result bundles the full finding list with its aggregate summary.
type Result struct {
	Findings []domain.Finding `json:"findings"`
	Summary  domain.Summary   `json:"summary"`
}

// Validator is an explicitly-constructed validation service. NewID exists so
// tests can produce stable finding ids; everything else about a run is
// already deterministic for identical input.
type Validator struct {
	Limits Limits
	NewID  func() string
}

// New returns a Validator with the given limits.
func New(limits Limits) *Validator {
	return &Validator{
		Limits: limits,
		NewID:  uuid.NewString,
	}
}

// Run validates the snapshot: per-collection batch validation followed by
// the cross-entity checks, then aggregation. All checks always run; findings
// are additive and never suppress each other.
func (v *Validator) Run(snap Snapshot) Result {
	var findings []domain.Finding
	findings = append(findings, v.ClientBatch(snap.Clients)...)
	findings = append(findings, v.WorkerBatch(snap.Workers)...)
	findings = append(findings, v.TaskBatch(snap.Tasks)...)
	findings = append(findings, v.Cross(snap)...)
	return Result{Findings: findings, Summary: Summarize(findings)}
}

// ref locates a finding: which entity kind, which entity, which collection
// row and which field.
type ref struct {
	kind  domain.EntityKind
	id    string
	row   int
	field string
}

func (r ref) at(field string) ref {
	r.field = field
	return r
}

func (v *Validator) newID() string {
	if v.NewID != nil {
		return v.NewID()
	}
	return uuid.NewString()
}

// finding builds a Finding for r. Panics on an entity kind outside the
// closed set: that is a caller bug, not a data problem.
func (v *Validator) finding(r ref, sev domain.Severity, msg string) domain.Finding {
	if !r.kind.Valid() {
		panic(fmt.Sprintf("validate: unknown entity kind %q", r.kind))
	}
	return domain.Finding{
		ID:         v.newID(),
		EntityKind: r.kind,
		EntityID:   r.id,
		Row:        r.row,
		Field:      r.field,
		Severity:   sev,
		Message:    msg,
	}
}

// fixable builds a Finding carrying a suggested fix. AutoFixable is set only
// below error severity: errors may suggest a fix but are never auto-applied.
func (v *Validator) fixable(r ref, sev domain.Severity, msg, fix string) domain.Finding {
	f := v.finding(r, sev, msg)
	f.SuggestedFix = fix
	f.AutoFixable = fix != "" && sev != domain.SeverityError
	return f
}

// displayID derives the entity id a finding reports, falling back to a
// row-based placeholder when the id field itself is missing.
func displayID(id string, row int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("row-%d", row)
}
