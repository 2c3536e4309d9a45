package validate

import (
	"fmt"
	"strings"

	"tidyplan/internal/domain"
)

// Batch validators scan a whole collection: duplicate identifiers first
// (the second and later occurrence of an id is the duplicate), then the
// per-record checks in collection order. Finding order is insertion order
// and therefore stable for identical input.

// ClientBatch validates the client collection.
func (v *Validator) ClientBatch(clients []domain.Client) []domain.Finding {
	out := v.duplicateIDs(domain.EntityClient, "ClientID", len(clients), func(i int) string { return clients[i].ClientID })
	for i, c := range clients {
		out = append(out, v.Client(c, i)...)
	}
	return out
}

// WorkerBatch validates the worker collection.
func (v *Validator) WorkerBatch(workers []domain.Worker) []domain.Finding {
	out := v.duplicateIDs(domain.EntityWorker, "WorkerID", len(workers), func(i int) string { return workers[i].WorkerID })
	for i, w := range workers {
		out = append(out, v.Worker(w, i)...)
	}
	return out
}

// TaskBatch validates the task collection.
func (v *Validator) TaskBatch(tasks []domain.Task) []domain.Finding {
	out := v.duplicateIDs(domain.EntityTask, "TaskID", len(tasks), func(i int) string { return tasks[i].TaskID })
	for i, t := range tasks {
		out = append(out, v.Task(t, i)...)
	}
	return out
}

func (v *Validator) duplicateIDs(kind domain.EntityKind, field string, n int, idAt func(int) string) []domain.Finding {
	var out []domain.Finding
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := strings.TrimSpace(idAt(i))
		if id == "" {
			// Missing ids are the required-field check's problem.
			continue
		}
		if seen[id] {
			out = append(out, v.finding(ref{kind: kind, id: id, row: i, field: field},
				domain.SeverityError, fmt.Sprintf("duplicate %s %q", field, id)))
			continue
		}
		seen[id] = true
	}
	return out
}
