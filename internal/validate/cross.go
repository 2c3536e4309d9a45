package validate

import (
	"fmt"
	"sort"
	"strings"

	"tidyplan/internal/domain"
)

// crossIndex is the per-invocation lookup cache shared by the cross-entity
// checks. It is built once per Run and never outlives the call.
type crossIndex struct {
	taskRow      map[string]int      // TaskID -> row in snapshot.Tasks
	workerRow    map[string]int      // WorkerID -> row in snapshot.Workers
	skillHolders map[string][]int    // normalized skill -> worker rows, in collection order
	requiredSet  map[string]struct{} // normalized skills required by any task
	workerSkills []map[string]struct{}
	workerPhases []map[int]struct{}
}

func buildIndex(snap Snapshot) *crossIndex {
	idx := &crossIndex{
		taskRow:      make(map[string]int, len(snap.Tasks)),
		workerRow:    make(map[string]int, len(snap.Workers)),
		skillHolders: make(map[string][]int),
		requiredSet:  make(map[string]struct{}),
		workerSkills: make([]map[string]struct{}, len(snap.Workers)),
		workerPhases: make([]map[int]struct{}, len(snap.Workers)),
	}
	for i, t := range snap.Tasks {
		if t.TaskID != "" {
			if _, dup := idx.taskRow[t.TaskID]; !dup {
				idx.taskRow[t.TaskID] = i
			}
		}
		for _, s := range t.RequiredSkills {
			if key := normSkill(s); key != "" {
				idx.requiredSet[key] = struct{}{}
			}
		}
	}
	for i, w := range snap.Workers {
		if w.WorkerID != "" {
			if _, dup := idx.workerRow[w.WorkerID]; !dup {
				idx.workerRow[w.WorkerID] = i
			}
		}
		skills := make(map[string]struct{}, len(w.Skills))
		for _, s := range w.Skills {
			key := normSkill(s)
			if key == "" {
				continue
			}
			if _, ok := skills[key]; !ok {
				skills[key] = struct{}{}
				idx.skillHolders[key] = append(idx.skillHolders[key], i)
			}
		}
		idx.workerSkills[i] = skills
		phases := make(map[int]struct{}, len(w.AvailableSlots))
		for _, p := range w.AvailableSlots {
			phases[p] = struct{}{}
		}
		idx.workerPhases[i] = phases
	}
	return idx
}

// normSkill is the single skill-matching policy: skills compare equal after
// trimming and case folding, in every check.
func normSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Cross runs the seven cross-entity checks. The checks are independent and
// all of them always run; within each check, findings follow collection
// iteration order.
func (v *Validator) Cross(snap Snapshot) []domain.Finding {
	idx := buildIndex(snap)
	var out []domain.Finding
	out = append(out, v.checkTaskReferences(snap, idx)...)
	out = append(out, v.checkSkillCoverage(snap, idx)...)
	out = append(out, v.checkOrphanedSkills(snap, idx)...)
	out = append(out, v.checkPhaseCapacity(snap, idx)...)
	out = append(out, v.checkConcurrencyFeasibility(snap, idx)...)
	out = append(out, v.checkWorkerOverload(snap, idx)...)
	out = append(out, v.checkCoRunCycles(snap, idx)...)
	return out
}

// checkTaskReferences verifies every RequestedTaskIDs entry names an
// existing task.
func (v *Validator) checkTaskReferences(snap Snapshot, idx *crossIndex) []domain.Finding {
	var out []domain.Finding
	for i, c := range snap.Clients {
		r := ref{kind: domain.EntityClient, id: displayID(c.ClientID, i), row: i, field: "RequestedTaskIDs"}
		for _, taskID := range c.RequestedTaskIDs {
			if taskID == "" {
				continue
			}
			if _, ok := idx.taskRow[taskID]; !ok {
				f := v.finding(r, domain.SeverityError,
					fmt.Sprintf("requested task %q does not exist", taskID))
				f.SuggestedFix = fmt.Sprintf("remove %q from RequestedTaskIDs or add the task", taskID)
				out = append(out, f)
			}
		}
	}
	return out
}

// checkSkillCoverage verifies each required skill is held by at least one
// worker (error) and by enough workers to satisfy MaxConcurrent (warning).
func (v *Validator) checkSkillCoverage(snap Snapshot, idx *crossIndex) []domain.Finding {
	var out []domain.Finding
	for i, t := range snap.Tasks {
		r := ref{kind: domain.EntityTask, id: displayID(t.TaskID, i), row: i, field: "RequiredSkills"}
		for _, s := range t.RequiredSkills {
			key := normSkill(s)
			if key == "" {
				continue
			}
			holders := len(idx.skillHolders[key])
			switch {
			case holders == 0:
				out = append(out, v.finding(r, domain.SeverityError,
					fmt.Sprintf("no worker has the required skill %q", s)))
			case holders < t.MaxConcurrent:
				out = append(out, v.finding(r, domain.SeverityWarning,
					fmt.Sprintf("only %d workers have skill %q but MaxConcurrent is %d", holders, s, t.MaxConcurrent)))
			}
		}
	}
	return out
}

// checkOrphanedSkills reports worker skills no task requires. Informational
// only; one finding per worker.
func (v *Validator) checkOrphanedSkills(snap Snapshot, idx *crossIndex) []domain.Finding {
	var out []domain.Finding
	for i, w := range snap.Workers {
		var orphans []string
		seen := make(map[string]bool, len(w.Skills))
		for _, s := range w.Skills {
			key := normSkill(s)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := idx.requiredSet[key]; !ok {
				orphans = append(orphans, s)
			}
		}
		if len(orphans) > 0 {
			r := ref{kind: domain.EntityWorker, id: displayID(w.WorkerID, i), row: i, field: "Skills"}
			out = append(out, v.finding(r, domain.SeverityInfo,
				fmt.Sprintf("skills not required by any task: %s", strings.Join(orphans, ", "))))
		}
	}
	return out
}

// checkPhaseCapacity compares, per phase, the total worker capacity against
// the demand implied by task preferences. A task's duration window expands
// consecutively from each preferred phase and is clamped at the maximum
// phase; phases past the clamp are not invented.
func (v *Validator) checkPhaseCapacity(snap Snapshot, idx *crossIndex) []domain.Finding {
	capacity := make(map[int]int)
	for i, w := range snap.Workers {
		for p := range idx.workerPhases[i] {
			capacity[p] += w.MaxLoadPerPhase
		}
	}
	demand := make(map[int]int)
	for _, t := range snap.Tasks {
		for _, start := range t.PreferredPhases {
			for p := start; p < start+t.Duration; p++ {
				if p > v.Limits.MaxPhase {
					break
				}
				demand[p] += t.MaxConcurrent
			}
		}
	}
	phases := make([]int, 0, len(demand))
	for p := range demand {
		phases = append(phases, p)
	}
	sort.Ints(phases)

	r := ref{kind: domain.EntityTask, id: domain.GlobalEntityID, row: domain.CrossRow, field: "PhaseCapacity"}
	var out []domain.Finding
	for _, p := range phases {
		req := demand[p]
		cap := capacity[p]
		if req > cap {
			out = append(out, v.finding(r, domain.SeverityError,
				fmt.Sprintf("phase %d is oversaturated: demand %d exceeds capacity %d", p, req, cap)))
			continue
		}
		util := float64(req) / float64(maxInt(cap, 1))
		if util > v.Limits.NearCapacityRatio {
			out = append(out, v.finding(r, domain.SeverityWarning,
				fmt.Sprintf("phase %d is near capacity: demand %d of %d", p, req, cap)))
		}
	}
	return out
}

// checkConcurrencyFeasibility verifies enough fully-qualified workers exist
// for each task's MaxConcurrent (error), and enough of them are available in
// each preferred phase (warning).
func (v *Validator) checkConcurrencyFeasibility(snap Snapshot, idx *crossIndex) []domain.Finding {
	var out []domain.Finding
	for i, t := range snap.Tasks {
		if len(t.RequiredSkills) == 0 {
			continue
		}
		qualified := make([]int, 0, len(snap.Workers))
		for wi := range snap.Workers {
			if workerQualifies(idx.workerSkills[wi], t.RequiredSkills) {
				qualified = append(qualified, wi)
			}
		}
		r := ref{kind: domain.EntityTask, id: displayID(t.TaskID, i), row: i, field: "MaxConcurrent"}
		if len(qualified) < t.MaxConcurrent {
			out = append(out, v.finding(r, domain.SeverityError,
				fmt.Sprintf("only %d qualified workers exist but MaxConcurrent is %d", len(qualified), t.MaxConcurrent)))
		}
		for _, p := range t.PreferredPhases {
			avail := 0
			for _, wi := range qualified {
				if _, ok := idx.workerPhases[wi][p]; ok {
					avail++
				}
			}
			if avail < t.MaxConcurrent {
				out = append(out, v.finding(r, domain.SeverityWarning,
					fmt.Sprintf("phase %d has %d qualified workers available but MaxConcurrent is %d", p, avail, t.MaxConcurrent)))
			}
		}
	}
	return out
}

func workerQualifies(skills map[string]struct{}, required []string) bool {
	for _, s := range required {
		key := normSkill(s)
		if key == "" {
			continue
		}
		if _, ok := skills[key]; !ok {
			return false
		}
	}
	return true
}

// checkWorkerOverload compares each assigned worker's total phase-load
// against its declared capacity. Without an assignment map this is a no-op.
func (v *Validator) checkWorkerOverload(snap Snapshot, idx *crossIndex) []domain.Finding {
	var out []domain.Finding
	for _, a := range snap.Assignments {
		wi, ok := idx.workerRow[a.WorkerID]
		if !ok {
			out = append(out, v.finding(
				ref{kind: domain.EntityWorker, id: a.WorkerID, row: domain.CrossRow, field: "WorkerID"},
				domain.SeverityError,
				fmt.Sprintf("assignment references unknown worker %q", a.WorkerID)))
			continue
		}
		w := snap.Workers[wi]
		load := 0
		for _, taskID := range a.TaskIDs {
			if ti, ok := idx.taskRow[taskID]; ok {
				load += snap.Tasks[ti].Duration
			}
		}
		capacity := len(w.AvailableSlots) * w.MaxLoadPerPhase
		r := ref{kind: domain.EntityWorker, id: displayID(w.WorkerID, wi), row: wi, field: "MaxLoadPerPhase"}
		switch {
		case load > capacity:
			out = append(out, v.finding(r, domain.SeverityError,
				fmt.Sprintf("assigned load %d exceeds capacity %d", load, capacity)))
		case capacity > 0 && float64(load) > v.Limits.NearCapacityRatio*float64(capacity):
			out = append(out, v.finding(r, domain.SeverityWarning,
				fmt.Sprintf("assigned load %d is above %.0f%% of capacity %d", load, v.Limits.NearCapacityRatio*100, capacity)))
		}
	}
	return out
}

// checkCoRunCycles treats every other member of a co-run group as a
// dependency of each member, across all groups, and reports one error per
// group whose members sit on a cycle.
func (v *Validator) checkCoRunCycles(snap Snapshot, idx *crossIndex) []domain.Finding {
	if len(snap.CoRunGroups) == 0 {
		return nil
	}
	adj := make(map[string][]string)
	edge := make(map[string]bool)
	for _, g := range snap.CoRunGroups {
		members := existingMembers(g.TaskIDs, idx)
		for _, a := range members {
			for _, b := range members {
				if a == b {
					continue
				}
				key := a + "\x00" + b
				if !edge[key] {
					edge[key] = true
					adj[a] = append(adj[a], b)
				}
			}
		}
	}
	cyclic := cycleNodes(adj)

	var out []domain.Finding
	for _, g := range snap.CoRunGroups {
		var unknown []string
		for _, id := range g.TaskIDs {
			if _, ok := idx.taskRow[id]; !ok {
				unknown = append(unknown, id)
			}
		}
		r := ref{kind: domain.EntityTask, id: g.ID, row: domain.CrossRow, field: "CoRunGroups"}
		if len(unknown) > 0 {
			out = append(out, v.finding(r, domain.SeverityError,
				fmt.Sprintf("co-run group references unknown tasks: %s", strings.Join(unknown, ", "))))
		}
		for _, id := range existingMembers(g.TaskIDs, idx) {
			if cyclic[id] {
				out = append(out, v.finding(r, domain.SeverityError,
					fmt.Sprintf("co-run group %q forms a circular dependency", g.ID)))
				break // one finding per offending group
			}
		}
	}
	return out
}

func existingMembers(ids []string, idx *crossIndex) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := idx.taskRow[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// cycleNodes returns the set of nodes that sit on some cycle, found by a
// depth-first walk that marks every node on the recursion stack between a
// back edge's target and source.
func cycleNodes(adj map[string][]string) map[string]bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(adj))
	onCycle := make(map[string]bool)
	var stack []string

	var walk func(n string)
	walk = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, m := range adj[n] {
			switch color[m] {
			case white:
				walk(m)
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == m {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white {
			walk(n)
		}
	}
	return onCycle
}
