package validate

import (
	"fmt"

	"tidyplan/internal/domain"
)

// Hard bounds from the data model. These are contract, not configuration.
const (
	priorityMin      = 1
	priorityMax      = 5
	durationMin      = 1
	durationMax      = 10
	loadMin          = 1
	loadMax          = 10
	concurrentMin    = 1
	concurrentMax    = 5
	qualificationMin = 1
	qualificationMax = 5
)

// Client validates a single client record at the given collection row.
// Checks are independent and additive; there is no early exit.
func (v *Validator) Client(c domain.Client, row int) []domain.Finding {
	r := ref{kind: domain.EntityClient, id: displayID(c.ClientID, row), row: row}
	var out []domain.Finding
	out = append(out, v.requireField(r.at("ClientID"), c.ClientID)...)
	out = append(out, v.requireField(r.at("ClientName"), c.ClientName)...)
	out = append(out, v.intRange(r.at("PriorityLevel"), c.PriorityLevel, priorityMin, priorityMax)...)
	out = append(out, v.stringList(r.at("RequestedTaskIDs"), c.RequestedTaskIDs, listOpts{AllowEmpty: true})...)
	if n := len(c.RequestedTaskIDs); n > v.Limits.RequestedTasksWarn {
		out = append(out, v.finding(r.at("RequestedTaskIDs"), domain.SeverityWarning,
			fmt.Sprintf("client requests %d tasks, more than the recommended maximum of %d", n, v.Limits.RequestedTasksWarn)))
	}
	if c.AttributesJSON != "" {
		out = append(out, v.jsonField(r.at("AttributesJSON"), c.AttributesJSON, v.Limits.MaxAttributesJSONBytes)...)
	}
	return out
}

// Worker validates a single worker record at the given collection row.
func (v *Validator) Worker(w domain.Worker, row int) []domain.Finding {
	r := ref{kind: domain.EntityWorker, id: displayID(w.WorkerID, row), row: row}
	var out []domain.Finding
	out = append(out, v.requireField(r.at("WorkerID"), w.WorkerID)...)
	out = append(out, v.requireField(r.at("WorkerName"), w.WorkerName)...)
	out = append(out, v.stringList(r.at("Skills"), w.Skills, listOpts{AllowEmpty: false})...)
	if n := len(w.Skills); n > v.Limits.SkillsWarn {
		out = append(out, v.finding(r.at("Skills"), domain.SeverityWarning,
			fmt.Sprintf("worker lists %d skills, more than the recommended maximum of %d", n, v.Limits.SkillsWarn)))
	}
	out = append(out, v.intList(r.at("AvailableSlots"), w.AvailableSlots, listOpts{
		AllowEmpty: true,
		Min:        v.Limits.MinPhase,
		Max:        v.Limits.MaxPhase,
	})...)
	if n := len(w.AvailableSlots); n > v.Limits.AvailablePhasesWarn {
		out = append(out, v.finding(r.at("AvailableSlots"), domain.SeverityWarning,
			fmt.Sprintf("worker is available in %d phases, more than the recommended maximum of %d", n, v.Limits.AvailablePhasesWarn)))
	}
	out = append(out, v.intRange(r.at("MaxLoadPerPhase"), w.MaxLoadPerPhase, loadMin, loadMax)...)
	if w.MaxLoadPerPhase > len(w.AvailableSlots) {
		out = append(out, v.fixable(r.at("MaxLoadPerPhase"), domain.SeverityWarning,
			fmt.Sprintf("MaxLoadPerPhase %d exceeds the worker's %d available slots", w.MaxLoadPerPhase, len(w.AvailableSlots)),
			fmt.Sprintf("reduce MaxLoadPerPhase to %d", maxInt(len(w.AvailableSlots), loadMin))))
	}
	out = append(out, v.intRange(r.at("QualificationLevel"), w.QualificationLevel, qualificationMin, qualificationMax)...)
	return out
}

// Task validates a single task record at the given collection row.
func (v *Validator) Task(t domain.Task, row int) []domain.Finding {
	r := ref{kind: domain.EntityTask, id: displayID(t.TaskID, row), row: row}
	var out []domain.Finding
	out = append(out, v.requireField(r.at("TaskID"), t.TaskID)...)
	out = append(out, v.requireField(r.at("TaskName"), t.TaskName)...)
	out = append(out, v.intRange(r.at("Duration"), t.Duration, durationMin, durationMax)...)
	out = append(out, v.stringList(r.at("RequiredSkills"), t.RequiredSkills, listOpts{AllowEmpty: false})...)
	if n := len(t.RequiredSkills); n > v.Limits.RequiredSkillsWarn {
		out = append(out, v.finding(r.at("RequiredSkills"), domain.SeverityWarning,
			fmt.Sprintf("task requires %d skills, more than the recommended maximum of %d", n, v.Limits.RequiredSkillsWarn)))
	}
	out = append(out, v.intList(r.at("PreferredPhases"), t.PreferredPhases, listOpts{
		AllowEmpty: true,
		Min:        v.Limits.MinPhase,
		Max:        v.Limits.MaxPhase,
	})...)
	out = append(out, v.intRange(r.at("MaxConcurrent"), t.MaxConcurrent, concurrentMin, concurrentMax)...)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
