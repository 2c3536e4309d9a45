package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tidyplan/internal/app"
	"tidyplan/internal/config"
	"tidyplan/internal/db"
	"tidyplan/internal/domain"
	"tidyplan/internal/engine"
	"tidyplan/internal/ingest"
	"tidyplan/internal/migrate"
	"tidyplan/internal/repo"
	"tidyplan/internal/rules"
	"tidyplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tp",
	Short: "Tidyplan CLI",
	Long: `Tidyplan checks allocation datasets before they reach the allocator.
Core concepts:
- Workspace: your .tidyplan directory holding only the database; configs live in the DB and are imported explicitly.
- Dataset: one snapshot of the three linked collections (clients, workers, tasks).
- Validation: every import, edit, rule or assignment change re-validates the whole dataset and records a run with findings.
- Findings: per-row and cross-entity problems graded error/warning/info; the score is 100 minus weighted counts.
- Rules: business constraints (co-run, slot restriction, load limit, phase window, precedence) layered on top of the data.
- Export: writes the cleaned package (collections + rules + weights + summary) once the error count is within the configured gate.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TIDYPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("dataset", "", "dataset id (overrides single-dataset default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("dataset", rootCmd.PersistentFlags().Lookup("dataset"))
}

func registerCommands() {
	rootCmd.AddCommand(datasetCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(findingsCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(corunCmd())
	rootCmd.AddCommand(weightsCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func datasetCmd() *cobra.Command {
	ds := &cobra.Command{Use: "dataset", Short: "Manage datasets"}
	ds.AddCommand(datasetCreateCmd())
	ds.AddCommand(datasetListCmd())
	ds.AddCommand(datasetShowCmd())
	ds.AddCommand(datasetDeleteCmd())
	ds.AddCommand(datasetConfigCmd())
	return ds
}

func datasetCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			d, err := e.InitDataset(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(d)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "dataset id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func datasetListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDatasets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Status, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func datasetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDataset(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func datasetDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the active dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteDataset(ctx, e.Config.Dataset.ID)
			})
		},
	}
	return cmd
}

func datasetConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage dataset config",
	}
	cfg.AddCommand(datasetConfigShowCmd())
	cfg.AddCommand(datasetConfigImportCmd())
	cfg.AddCommand(datasetConfigInitCmd())
	return cfg
}

func datasetConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show dataset config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func datasetConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import dataset config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			datasetID := cfg.Dataset.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if datasetID == "" {
					datasetID = e.Config.Dataset.ID
				}
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.UpsertDatasetConfig(ctx, tx, datasetID, now, cfg); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func datasetConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tidyplan.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "dataset-1", "dataset id to seed")
	return cmd
}

func importCmd() *cobra.Command {
	var clientsPath, workersPath, tasksPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import collections from CSV or XLSX and validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientsPath == "" && workersPath == "" && tasksPath == "" {
				return fmt.Errorf("at least one of --clients, --workers, --tasks is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ImportOptions{
					DatasetID: e.Config.Dataset.ID,
					ActorID:   viper.GetString("actor-id"),
				}
				if clientsPath != "" {
					records, err := readRecords(clientsPath)
					if err != nil {
						return err
					}
					opts.Clients = ingest.DecodeClients(records)
				}
				if workersPath != "" {
					records, err := readRecords(workersPath)
					if err != nil {
						return err
					}
					opts.Workers = ingest.DecodeWorkers(records)
				}
				if tasksPath != "" {
					records, err := readRecords(tasksPath)
					if err != nil {
						return err
					}
					opts.Tasks = ingest.DecodeTasks(records)
				}
				run, err := e.Import(ctx, opts)
				if err != nil {
					return err
				}
				return printRunSummary(run)
			})
		},
	}
	cmd.Flags().StringVar(&clientsPath, "clients", "", "clients file (.csv or .xlsx)")
	cmd.Flags().StringVar(&workersPath, "workers", "", "workers file (.csv or .xlsx)")
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "tasks file (.csv or .xlsx)")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run a full validation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, _, err := e.RunValidation(ctx, e.Config.Dataset.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRunSummary(run)
			})
		},
	}
	return cmd
}

func findingsCmd() *cobra.Command {
	var runID, entityKind, entityID, severity, field string
	var limit int
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "List findings of a validation run (latest by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if runID == "" {
					run, err := e.Repo.LatestValidationRun(ctx, e.Config.Dataset.ID)
					if err != nil {
						return err
					}
					runID = run.ID
				}
				findings, err := e.Repo.ListFindings(ctx, repo.FindingFilters{
					RunID:      runID,
					EntityKind: entityKind,
					EntityID:   entityID,
					Severity:   severity,
					Field:      field,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(findings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Severity", "Entity", "ID", "Row", "Field", "Message", "Fix"})
				for _, f := range findings {
					row := ""
					if f.Row != domain.CrossRow {
						row = strconv.Itoa(f.Row)
					}
					tw.AppendRow(table.Row{f.Severity, f.EntityKind, f.EntityID, row, f.Field, f.Message, f.SuggestedFix})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "validation run id (defaults to latest)")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter (client, worker, task)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&severity, "severity", "", "severity filter (error, warning, info)")
	cmd.Flags().StringVar(&field, "field", "", "field filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max findings")
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the latest validation summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Repo.LatestValidationRun(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				return printRunSummary(run)
			})
		},
	}
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage business rules",
		Long:  "Rules layer allocation constraints on top of the data. co_run rules feed the circular-dependency check; every change re-validates the dataset.",
	}
	rule.AddCommand(ruleAddCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleDeleteCmd())
	rule.AddCommand(ruleImportCmd())
	return rule
}

func ruleAddCmd() *cobra.Command {
	var ruleType, paramsJSON string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := rules.Rule{Type: rules.Type(ruleType), Params: json.RawMessage(paramsJSON)}
				res, err := e.AddRule(ctx, e.Config.Dataset.ID, r, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", "", "rule type (co_run, slot_restriction, load_limit, phase_window, precedence)")
	cmd.Flags().StringVar(&paramsJSON, "params-json", "", "rule parameters as JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("params-json")
	return cmd
}

func ruleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.Repo.ListRules(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Params"})
				for _, r := range list {
					tw.AppendRow(table.Row{r.ID, r.Type, string(r.Params)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, e.Config.Dataset.ID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func ruleImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import rules from a YAML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ImportRules(ctx, e.Config.Dataset.ID, data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(list)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML rules document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func corunCmd() *cobra.Command {
	corun := &cobra.Command{Use: "corun", Short: "Manage co-run groups"}
	var taskIDs []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a co-run group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.AddCoRunGroup(ctx, e.Config.Dataset.ID, taskIDs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	add.Flags().StringArrayVar(&taskIDs, "task", []string{}, "task id (repeatable, at least two)")
	corun.AddCommand(add)

	list := &cobra.Command{
		Use:   "list",
		Short: "List co-run groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				groups, err := e.Repo.ListCoRunGroups(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(groups)
			})
		},
	}
	corun.AddCommand(list)
	return corun
}

func weightsCmd() *cobra.Command {
	weights := &cobra.Command{Use: "weights", Short: "Manage prioritization weights"}
	set := &cobra.Command{
		Use:   "set <criterion> <weight>",
		Short: "Set one weight",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid weight %q: %w", args[1], err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetWeight(ctx, e.Config.Dataset.ID, args[0], w, viper.GetString("actor-id"))
			})
		},
	}
	weights.AddCommand(set)

	list := &cobra.Command{
		Use:   "list",
		Short: "List weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWeights(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					items = e.Config.Weights
				}
				return printJSONOrTable(items)
			})
		},
	}
	weights.AddCommand(list)
	return weights
}

func assignCmd() *cobra.Command {
	assign := &cobra.Command{Use: "assign", Short: "Manage planned assignments"}
	var workerID string
	var taskIDs []string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set a worker's planned tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a := domain.Assignment{WorkerID: workerID, TaskIDs: taskIDs}
				return e.SetAssignment(ctx, e.Config.Dataset.ID, a, viper.GetString("actor-id"))
			})
		},
	}
	set.Flags().StringVar(&workerID, "worker", "", "worker id")
	set.Flags().StringArrayVar(&taskIDs, "task", []string{}, "task id (repeatable)")
	_ = set.MarkFlagRequired("worker")
	assign.AddCommand(set)

	list := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssignments(ctx, e.Config.Dataset.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	assign.AddCommand(list)
	return assign
}

func exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the cleaned dataset package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Export(ctx, e.Config.Dataset.ID, dir, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Exported run %s (score %d) to %s:\n", res.RunID, res.Score, res.Dir)
				for _, f := range res.Files {
					fmt.Println("  " + filepath.Join(res.Dir, f))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default from config)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Dataset.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := "tp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actor,
				Name:      name,
				KeyHash:   repo.HashAPIKey(raw),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Println(raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates")
	create.Flags().StringVar(&name, "name", "", "key name")
	apikey.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	apikey.AddCommand(list)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	apikey.AddCommand(del)
	return apikey
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveDatasetAndConfig(cmd.Context(), workspace, viper.GetString("dataset"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("TIDYPLAN_JWT_SECRET"),
				Logger:    logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TIDYPLAN_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving tidyplan api", zap.String("addr", addr), zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveDatasetAndConfig(ctx, workspace, viper.GetString("dataset"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func readRecords(path string) ([]ingest.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadXLSX(f)
	case ".csv":
		return ingest.ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func printRunSummary(run domain.ValidationRun) error {
	if viper.GetBool("json") {
		return printJSON(run)
	}
	s := run.Summary
	fmt.Printf("Run %s: score %d (%d errors, %d warnings, %d info)\n", run.ID, s.Score, s.Errors, s.Warnings, s.Info)
	if len(s.ByField) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Field", "Findings"})
		for field, count := range s.ByField {
			tw.AppendRow(table.Row{field, count})
		}
		tw.Render()
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
