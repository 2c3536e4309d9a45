// Package ingest turns spreadsheet rows into typed entity records. Cells
// arrive as loosely-typed strings; header names are matched leniently,
// identifiers are case-normalized and prefixed, and list fields go through
// the primitive parsers. Malformed values become zero values here and
// findings in the validator, never ingest errors.
package ingest

import (
	"strconv"
	"strings"

	"tidyplan/internal/domain"
	"tidyplan/internal/parse"
)

// RawRecord is one spreadsheet row keyed by normalized header name.
type RawRecord map[string]string

// normHeader folds case and strips separators so "Client ID", "client_id"
// and "ClientID" all match.
func normHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, "-", "")
	return h
}

func record(headers, cells []string) RawRecord {
	rec := make(RawRecord, len(headers))
	for i, h := range headers {
		key := normHeader(h)
		if key == "" {
			continue
		}
		if i < len(cells) {
			rec[key] = strings.TrimSpace(cells[i])
		} else {
			rec[key] = ""
		}
	}
	return rec
}

// cleanID uppercases an identifier and ensures the entity prefix, so "c1"
// and "1" both become "C1". Empty stays empty for the required-field check.
func cleanID(prefix, raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, prefix) {
		id = prefix + id
	}
	return id
}

func intCell(rec RawRecord, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(rec[key]))
	if err != nil {
		return 0
	}
	return v
}

// DecodeClients maps raw records to client entities in row order.
func DecodeClients(records []RawRecord) []domain.Client {
	out := make([]domain.Client, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.Client{
			ClientID:         cleanID("C", rec["clientid"]),
			ClientName:       rec["clientname"],
			PriorityLevel:    intCell(rec, "prioritylevel"),
			RequestedTaskIDs: cleanIDs("T", parse.StringList(rec["requestedtaskids"])),
			GroupTag:         rec["grouptag"],
			AttributesJSON:   rec["attributesjson"],
		})
	}
	return out
}

// DecodeWorkers maps raw records to worker entities in row order.
func DecodeWorkers(records []RawRecord) []domain.Worker {
	out := make([]domain.Worker, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.Worker{
			WorkerID:           cleanID("W", rec["workerid"]),
			WorkerName:         rec["workername"],
			Skills:             parse.StringList(rec["skills"]),
			AvailableSlots:     parse.IntList(rec["availableslots"]),
			MaxLoadPerPhase:    intCell(rec, "maxloadperphase"),
			WorkerGroup:        rec["workergroup"],
			QualificationLevel: intCell(rec, "qualificationlevel"),
		})
	}
	return out
}

// DecodeTasks maps raw records to task entities in row order.
func DecodeTasks(records []RawRecord) []domain.Task {
	out := make([]domain.Task, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.Task{
			TaskID:          cleanID("T", rec["taskid"]),
			TaskName:        rec["taskname"],
			Category:        rec["category"],
			Duration:        intCell(rec, "duration"),
			RequiredSkills:  parse.StringList(rec["requiredskills"]),
			PreferredPhases: parse.IntList(rec["preferredphases"]),
			MaxConcurrent:   intCell(rec, "maxconcurrent"),
		})
	}
	return out
}

func cleanIDs(prefix string, raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		out = append(out, cleanID(prefix, id))
	}
	return out
}
