package ingest

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadCSVLenientHeaders(t *testing.T) {
	in := `Client ID,client_name,PriorityLevel,RequestedTaskIDs
c1,Acme,3,"T1,T2"
2,Globex,5,
`
	records, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["clientid"] != "c1" || records[0]["clientname"] != "Acme" {
		t.Fatalf("header mapping wrong: %v", records[0])
	}

	clients := DecodeClients(records)
	if clients[0].ClientID != "C1" {
		t.Fatalf("id not normalized: %q", clients[0].ClientID)
	}
	if clients[1].ClientID != "C2" {
		t.Fatalf("bare number should gain the prefix: %q", clients[1].ClientID)
	}
	if !reflect.DeepEqual(clients[0].RequestedTaskIDs, []string{"T1", "T2"}) {
		t.Fatalf("requested tasks wrong: %v", clients[0].RequestedTaskIDs)
	}
	if len(clients[1].RequestedTaskIDs) != 0 {
		t.Fatalf("empty cell should decode to empty list: %v", clients[1].RequestedTaskIDs)
	}
}

func TestReadCSVRaggedRows(t *testing.T) {
	in := "TaskID,TaskName,Duration\nt1,Frame assembly\n"
	records, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	tasks := DecodeTasks(records)
	if tasks[0].TaskID != "T1" || tasks[0].Duration != 0 {
		t.Fatalf("missing trailing cell should read empty: %+v", tasks[0])
	}
}

func TestReadCSVMissingHeader(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("empty input must fail")
	}
}

func TestDecodeWorkers(t *testing.T) {
	rec := RawRecord{
		"workerid":           "w7",
		"workername":         "Dana",
		"skills":             "[welding, painting]",
		"availableslots":     "[1,2,3]",
		"maxloadperphase":    "2",
		"qualificationlevel": "4",
	}
	workers := DecodeWorkers([]RawRecord{rec})
	w := workers[0]
	if w.WorkerID != "W7" {
		t.Fatalf("id not normalized: %q", w.WorkerID)
	}
	if !reflect.DeepEqual(w.Skills, []string{"welding", "painting"}) {
		t.Fatalf("skills wrong: %v", w.Skills)
	}
	if !reflect.DeepEqual(w.AvailableSlots, []int{1, 2, 3}) {
		t.Fatalf("slots wrong: %v", w.AvailableSlots)
	}
	if w.MaxLoadPerPhase != 2 || w.QualificationLevel != 4 {
		t.Fatalf("numeric cells wrong: %+v", w)
	}
}

func TestDecodeBadNumbersBecomeZero(t *testing.T) {
	rec := RawRecord{"taskid": "T1", "taskname": "x", "duration": "soon", "maxconcurrent": "2.5"}
	tk := DecodeTasks([]RawRecord{rec})[0]
	// Unparseable numbers decode to zero and fail range validation later.
	if tk.Duration != 0 || tk.MaxConcurrent != 0 {
		t.Fatalf("bad numbers should decode to zero: %+v", tk)
	}
}
