package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"tidyplan/internal/config"
	"tidyplan/internal/db"
	"tidyplan/internal/domain"
	"tidyplan/internal/engine"
	"tidyplan/internal/migrate"
	"tidyplan/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("ds-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitDataset(context.Background(), "ds-1", "test dataset", "tester"); err != nil {
		t.Fatalf("init dataset: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func importBody() map[string]any {
	return map[string]any{
		"clients": []map[string]any{{
			"client_id": "C1", "client_name": "Acme", "priority_level": 3,
			"requested_task_ids": []string{"T1"},
		}},
		"workers": []map[string]any{{
			"worker_id": "W1", "worker_name": "Dana", "skills": []string{"welding"},
			"available_slots": []int{1, 2, 3}, "max_load_per_phase": 2, "qualification_level": 3,
		}},
		"tasks": []map[string]any{{
			"task_id": "T1", "task_name": "Frame assembly", "duration": 2,
			"required_skills": []string{"welding"}, "preferred_phases": []int{1}, "max_concurrent": 1,
		}},
	}
}

func TestImportValidateExportFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/import", importBody(), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var run domain.ValidationRun
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Summary.Errors != 0 || run.Summary.Score != 100 {
		t.Fatalf("clean import should score 100: %+v", run.Summary)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/datasets/ds-1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get dataset status %d: %s", res.StatusCode, string(data))
	}
	var ds domain.Dataset
	_ = json.Unmarshal(data, &ds)
	if ds.Status != "validated" || ds.Clients != 1 {
		t.Fatalf("dataset after import: %+v", ds)
	}

	dir := filepath.Join(t.TempDir(), "out")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/export", map[string]any{"dir": dir}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	var exported engine.ExportResult
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if len(exported.Files) != 5 {
		t.Fatalf("export files = %v, want 5 entries", exported.Files)
	}
}

func TestDanglingReferenceBlocksExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	body := importBody()
	body["clients"] = []map[string]any{{
		"client_id": "C1", "client_name": "Acme", "priority_level": 3,
		"requested_task_ids": []string{"T999"},
	}}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/import", body, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var run domain.ValidationRun
	_ = json.Unmarshal(data, &run)
	if run.Summary.Errors == 0 {
		t.Fatalf("dangling reference should error: %+v", run.Summary)
	}

	res, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/v0/datasets/ds-1/validations/"+run.ID+"/findings?severity=error", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("findings status %d: %s", res.StatusCode, string(data))
	}
	var findings []domain.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		t.Fatalf("unmarshal findings: %v", err)
	}
	if len(findings) != 1 || findings[0].EntityID != "C1" {
		t.Fatalf("findings = %+v", findings)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/export", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected export conflict, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRuleEndpointsFeedValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	body := importBody()
	body["tasks"] = append(body["tasks"].([]map[string]any), map[string]any{
		"task_id": "T2", "task_name": "Paint", "duration": 1,
		"required_skills": []string{"welding"}, "max_concurrent": 1,
	})
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/import", body, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/rules", map[string]any{
		"type":   "co_run",
		"params": map[string]any{"task_ids": []string{"T1", "T2"}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add rule status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/datasets/ds-1/validations/latest", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latest run status %d: %s", res.StatusCode, string(data))
	}
	var run domain.ValidationRun
	_ = json.Unmarshal(data, &run)
	if run.Summary.Errors == 0 {
		t.Fatalf("mutual co-run should surface a cycle error: %+v", run.Summary)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/datasets/ds-1/rules", map[string]any{
		"type":   "co_run",
		"params": map[string]any{"task_ids": []string{"T1"}},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("single-member co-run must be rejected, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/datasets", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// Health stays open.
	res2, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res2.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	key := "tp_testkey_123"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "robot",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(key),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/datasets", nil)
	req.Header.Set("X-Api-Key", key)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth failed: %d", res.StatusCode)
	}
}
