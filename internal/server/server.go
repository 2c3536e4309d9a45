package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tidyplan/internal/domain"
	"tidyplan/internal/engine"
	"tidyplan/internal/repo"
	"tidyplan/internal/rules"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"export_blocked"`
	Message string         `json:"message" example:"export blocked: 3 validation errors exceed the allowed 0"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"run_id\":\"abc\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Tidyplan API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newRequestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Tidyplan API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDatasets(group, cfg.Engine)
	registerCollections(group, cfg.Engine)
	registerValidations(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerWeights(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerExport(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "invalid_rule", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "export blocked"),
		strings.Contains(lowered, "never been validated"):
		return newAPIError(http.StatusConflict, "export_blocked", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must ") || strings.Contains(lowered, "needs ") ||
		strings.Contains(lowered, "nothing to") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Tidyplan API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDatasets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dataset",
		Method:        http.MethodPost,
		Path:          "/datasets",
		Summary:       "Create dataset",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDatasetRequest `json:"body"`
	}) (*struct {
		Body DatasetResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		name := ""
		if input.Body.Name != nil {
			name = *input.Body.Name
		}
		d, err := e.InitDataset(ctx, input.Body.ID, name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatasetResponse `json:"body"`
		}{Body: datasetResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-datasets",
		Method:      http.MethodGet,
		Path:        "/datasets",
		Summary:     "List datasets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DatasetResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDatasets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DatasetResponse `json:"body"`
		}{Body: mapDatasets(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dataset",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}",
		Summary:     "Get dataset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body DatasetResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDataset(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatasetResponse `json:"body"`
		}{Body: datasetResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-dataset",
		Method:      http.MethodDelete,
		Path:        "/datasets/{dataset_id}",
		Summary:     "Delete dataset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dataset-config",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/config",
		Summary:     "Get dataset config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body DatasetConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetDatasetConfig(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatasetConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerCollections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-collections",
		Method:      http.MethodPost,
		Path:        "/datasets/{dataset_id}/import",
		Summary:     "Replace collections and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string        `path:"dataset_id"`
		Body      ImportRequest `json:"body"`
	}) (*struct {
		Body ValidationRunResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.Import(ctx, engine.ImportOptions{
			DatasetID: input.DatasetID,
			Clients:   input.Body.Clients,
			Workers:   input.Body.Workers,
			Tasks:     input.Body.Tasks,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationRunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-collections",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/collections",
		Summary:     "Get the three collections",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body CollectionsResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		var res CollectionsResponse
		var err error
		if res.Clients, err = e.Repo.ListClients(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		if res.Workers, err = e.Repo.ListWorkers(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		if res.Tasks, err = e.Repo.ListTasks(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollectionsResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPut,
		Path:        "/datasets/{dataset_id}/clients/{row}",
		Summary:     "Replace one client row and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string        `path:"dataset_id"`
		Row       int           `path:"row" minimum:"0"`
		Body      domain.Client `json:"body"`
	}) (*struct {
		Body ValidationRunResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.UpdateClient(ctx, input.DatasetID, input.Row, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationRunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPut,
		Path:        "/datasets/{dataset_id}/workers/{row}",
		Summary:     "Replace one worker row and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string        `path:"dataset_id"`
		Row       int           `path:"row" minimum:"0"`
		Body      domain.Worker `json:"body"`
	}) (*struct {
		Body ValidationRunResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.UpdateWorker(ctx, input.DatasetID, input.Row, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationRunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/datasets/{dataset_id}/tasks/{row}",
		Summary:     "Replace one task row and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string      `path:"dataset_id"`
		Row       int         `path:"row" minimum:"0"`
		Body      domain.Task `json:"body"`
	}) (*struct {
		Body ValidationRunResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.UpdateTask(ctx, input.DatasetID, input.Row, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationRunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})
}

func registerValidations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-dataset",
		Method:      http.MethodPost,
		Path:        "/datasets/{dataset_id}/validate",
		Summary:     "Run a full validation pass",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body struct {
			Run      ValidationRunResponse `json:"run"`
			Findings []domain.Finding      `json:"findings"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, findings, err := e.RunValidation(ctx, input.DatasetID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := &struct {
			Body struct {
				Run      ValidationRunResponse `json:"run"`
				Findings []domain.Finding      `json:"findings"`
			} `json:"body"`
		}{}
		res.Body.Run = runResponse(run)
		res.Body.Findings = nonNilFindings(findings)
		return res, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validation-runs",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/validations",
		Summary:     "List validation runs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
		Limit     int    `query:"limit" default:"20"`
	}) (*struct {
		Body []ValidationRunResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		runs, err := e.Repo.ListValidationRuns(ctx, input.DatasetID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ValidationRunResponse, 0, len(runs))
		for _, run := range runs {
			res = append(res, runResponse(run))
		}
		return &struct {
			Body []ValidationRunResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-validation-run",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/validations/latest",
		Summary:     "Latest validation run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body ValidationRunResponse `json:"body"`
	}, error) {
		run, err := e.Repo.LatestValidationRun(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationRunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-findings",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/validations/{run_id}/findings",
		Summary:     "List findings of a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID  string `path:"dataset_id"`
		RunID      string `path:"run_id"`
		EntityKind string `query:"entity_kind" enum:"client,worker,task,"`
		EntityID   string `query:"entity_id"`
		Severity   string `query:"severity" enum:"error,warning,info,"`
		Field      string `query:"field"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Finding `json:"body"`
	}, error) {
		run, err := e.Repo.GetValidationRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		if run.DatasetID != input.DatasetID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "run not found in dataset", nil)
		}
		findings, err := e.Repo.ListFindings(ctx, repo.FindingFilters{
			RunID:      input.RunID,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Severity:   input.Severity,
			Field:      input.Field,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Finding `json:"body"`
		}{Body: nonNilFindings(findings)}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-rule",
		Method:        http.MethodPost,
		Path:          "/datasets/{dataset_id}/rules",
		Summary:       "Add a business rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string         `path:"dataset_id"`
		Body      AddRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := e.AddRule(ctx, input.DatasetID, rules.Rule{
			Type:   rules.Type(input.Body.Type),
			Params: input.Body.Params,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: RuleResponse{ID: rule.ID, Type: string(rule.Type), Params: rule.Params}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/rules",
		Summary:     "List business rules",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body []RuleResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		list, err := e.Repo.ListRules(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]RuleResponse, 0, len(list))
		for _, rule := range list {
			res = append(res, RuleResponse{ID: rule.ID, Type: string(rule.Type), Params: rule.Params})
		}
		return &struct {
			Body []RuleResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/datasets/{dataset_id}/rules/{rule_id}",
		Summary:     "Delete a business rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
		RuleID    string `path:"rule_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, input.DatasetID, input.RuleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-corun-group",
		Method:        http.MethodPost,
		Path:          "/datasets/{dataset_id}/corun-groups",
		Summary:       "Add a co-run group",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string               `path:"dataset_id"`
		Body      AddCoRunGroupRequest `json:"body"`
	}) (*struct {
		Body domain.CoRunGroup `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.AddCoRunGroup(ctx, input.DatasetID, input.Body.TaskIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CoRunGroup `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-corun-groups",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/corun-groups",
		Summary:     "List co-run groups",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body []domain.CoRunGroup `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		groups, err := e.Repo.ListCoRunGroups(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		if groups == nil {
			groups = []domain.CoRunGroup{}
		}
		return &struct {
			Body []domain.CoRunGroup `json:"body"`
		}{Body: groups}, nil
	})
}

func registerWeights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-weight",
		Method:      http.MethodPut,
		Path:        "/datasets/{dataset_id}/weights/{criterion}",
		Summary:     "Set a prioritization weight",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string           `path:"dataset_id"`
		Criterion string           `path:"criterion"`
		Body      SetWeightRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetWeight(ctx, input.DatasetID, input.Criterion, input.Body.Weight, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-weights",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/weights",
		Summary:     "List prioritization weights",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body map[string]float64 `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		weights, err := e.Repo.ListWeights(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]float64 `json:"body"`
		}{Body: weights}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-assignment",
		Method:      http.MethodPut,
		Path:        "/datasets/{dataset_id}/assignments/{worker_id}",
		Summary:     "Set a worker's planned tasks and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string               `path:"dataset_id"`
		WorkerID  string               `path:"worker_id"`
		Body      SetAssignmentRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a := domain.Assignment{WorkerID: input.WorkerID, TaskIDs: input.Body.TaskIDs}
		if err := e.SetAssignment(ctx, input.DatasetID, a, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/assignments",
		Summary:     "List assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID string `path:"dataset_id"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignments(ctx, input.DatasetID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Assignment{}
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})
}

func registerExport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-dataset",
		Method:      http.MethodPost,
		Path:        "/datasets/{dataset_id}/export",
		Summary:     "Export the cleaned dataset package",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DatasetID string        `path:"dataset_id"`
		Body      ExportRequest `json:"body"`
	}) (*struct {
		Body engine.ExportResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Export(ctx, input.DatasetID, input.Body.Dir, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExportResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key; the raw key is returned once",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := "tp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/datasets/{dataset_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DatasetID  string `path:"dataset_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDataset(ctx, input.DatasetID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.DatasetID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			res = append(res, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
