// Package rules models the allocation business rules a user defines on top
// of a dataset: co-run constraints, slot restrictions, load limits, phase
// windows and precedence. Rules are stored with their parameters as JSON and
// decoded into typed structs on use.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tidyplan/internal/domain"
)

type Type string

const (
	TypeCoRun           Type = "co_run"
	TypeSlotRestriction Type = "slot_restriction"
	TypeLoadLimit       Type = "load_limit"
	TypePhaseWindow     Type = "phase_window"
	TypePrecedence      Type = "precedence"
)

// Valid reports whether t is one of the closed set of rule types.
func (t Type) Valid() bool {
	switch t {
	case TypeCoRun, TypeSlotRestriction, TypeLoadLimit, TypePhaseWindow, TypePrecedence:
		return true
	}
	return false
}

// Rule is one stored business rule. Params holds the type-specific
// parameters; Decode returns them as the matching typed struct.
type Rule struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	Type      Type            `json:"type" enum:"co_run,slot_restriction,load_limit,phase_window,precedence"`
	Params    json.RawMessage `json:"params"`
}

type CoRunParams struct {
	TaskIDs []string `json:"task_ids" yaml:"task_ids" validate:"required,min=2,dive,required"`
}

type SlotRestrictionParams struct {
	Group          string `json:"group" yaml:"group" validate:"required"`
	MinCommonSlots int    `json:"min_common_slots" yaml:"min_common_slots" validate:"required,min=1"`
}

type LoadLimitParams struct {
	WorkerGroup      string `json:"worker_group" yaml:"worker_group" validate:"required"`
	MaxSlotsPerPhase int    `json:"max_slots_per_phase" yaml:"max_slots_per_phase" validate:"required,min=1"`
}

type PhaseWindowParams struct {
	TaskID string `json:"task_id" yaml:"task_id" validate:"required"`
	Phases []int  `json:"phases" yaml:"phases" validate:"required,min=1,dive,min=1"`
}

type PrecedenceParams struct {
	Before string `json:"before" yaml:"before" validate:"required"`
	After  string `json:"after" yaml:"after" validate:"required,nefield=Before"`
}

var check = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates a rule's parameters into the typed struct for
// its type.
func Decode(r Rule) (any, error) {
	var params any
	switch r.Type {
	case TypeCoRun:
		params = &CoRunParams{}
	case TypeSlotRestriction:
		params = &SlotRestrictionParams{}
	case TypeLoadLimit:
		params = &LoadLimitParams{}
	case TypePhaseWindow:
		params = &PhaseWindowParams{}
	case TypePrecedence:
		params = &PrecedenceParams{}
	default:
		return nil, fmt.Errorf("unknown rule type %q", r.Type)
	}
	if err := json.Unmarshal(r.Params, params); err != nil {
		return nil, fmt.Errorf("rule %s params: %w", r.ID, err)
	}
	if err := check.Struct(params); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return params, nil
}

// Validate checks a rule without returning its decoded parameters.
func Validate(r Rule) error {
	_, err := Decode(r)
	return err
}

// CoRunGroups extracts the co-run groups a rule list implies, in rule order,
// for the cross-entity validator.
func CoRunGroups(list []Rule, datasetID string) ([]domain.CoRunGroup, error) {
	var out []domain.CoRunGroup
	for _, r := range list {
		if r.Type != TypeCoRun {
			continue
		}
		decoded, err := Decode(r)
		if err != nil {
			return nil, err
		}
		p := decoded.(*CoRunParams)
		out = append(out, domain.CoRunGroup{ID: r.ID, DatasetID: datasetID, TaskIDs: p.TaskIDs})
	}
	return out, nil
}

// File is the YAML shape of an importable rules document.
type File struct {
	Rules []FileRule `yaml:"rules" json:"rules"`
}

type FileRule struct {
	Type   Type           `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params" json:"params"`
}

// FromYAML parses a rules document and validates every rule in it. Rule ids
// are assigned by the caller on insert.
func FromYAML(data []byte) ([]Rule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid rules yaml: %w", err)
	}
	var out []Rule
	for i, fr := range f.Rules {
		if !fr.Type.Valid() {
			return nil, fmt.Errorf("rule %d: unknown type %q", i, fr.Type)
		}
		params, err := json.Marshal(fr.Params)
		if err != nil {
			return nil, fmt.Errorf("rule %d params: %w", i, err)
		}
		r := Rule{Type: fr.Type, Params: params}
		if err := Validate(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
