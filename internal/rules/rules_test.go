package rules

import (
	"encoding/json"
	"testing"
)

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDecodeCoRun(t *testing.T) {
	r := Rule{ID: "r1", Type: TypeCoRun, Params: mustParams(t, CoRunParams{TaskIDs: []string{"T1", "T2"}})}
	decoded, err := Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	p := decoded.(*CoRunParams)
	if len(p.TaskIDs) != 2 {
		t.Fatalf("got %v", p.TaskIDs)
	}
}

func TestDecodeRejectsSingleMemberCoRun(t *testing.T) {
	r := Rule{ID: "r1", Type: TypeCoRun, Params: mustParams(t, CoRunParams{TaskIDs: []string{"T1"}})}
	if _, err := Decode(r); err == nil {
		t.Fatal("a co-run rule needs at least two tasks")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	r := Rule{ID: "r1", Type: "teleport", Params: json.RawMessage(`{}`)}
	if _, err := Decode(r); err == nil {
		t.Fatal("unknown rule type must fail")
	}
}

func TestDecodePrecedenceSelfReference(t *testing.T) {
	r := Rule{ID: "r1", Type: TypePrecedence, Params: mustParams(t, PrecedenceParams{Before: "T1", After: "T1"})}
	if _, err := Decode(r); err == nil {
		t.Fatal("a task cannot precede itself")
	}
}

func TestCoRunGroups(t *testing.T) {
	list := []Rule{
		{ID: "r1", Type: TypeCoRun, Params: mustParams(t, CoRunParams{TaskIDs: []string{"T1", "T2"}})},
		{ID: "r2", Type: TypeLoadLimit, Params: mustParams(t, LoadLimitParams{WorkerGroup: "ops", MaxSlotsPerPhase: 2})},
		{ID: "r3", Type: TypeCoRun, Params: mustParams(t, CoRunParams{TaskIDs: []string{"T3", "T4"}})},
	}
	groups, err := CoRunGroups(list, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].ID != "r1" || groups[1].ID != "r3" {
		t.Fatalf("groups out of rule order: %v", groups)
	}
	if groups[0].DatasetID != "d1" {
		t.Fatalf("dataset id not threaded: %+v", groups[0])
	}
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`rules:
  - type: co_run
    params:
      task_ids: [T1, T2]
  - type: phase_window
    params:
      task_id: T3
      phases: [1, 2, 3]
`)
	list, err := FromYAML(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rules, want 2", len(list))
	}
	if list[0].Type != TypeCoRun || list[1].Type != TypePhaseWindow {
		t.Fatalf("types wrong: %v", list)
	}
}

func TestFromYAMLRejectsInvalidParams(t *testing.T) {
	doc := []byte(`rules:
  - type: load_limit
    params:
      worker_group: ops
      max_slots_per_phase: 0
`)
	if _, err := FromYAML(doc); err == nil {
		t.Fatal("zero load limit must fail validation")
	}
}
