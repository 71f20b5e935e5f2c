package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiptrack/internal/app"
	"shiptrack/internal/config"
	"shiptrack/internal/db"
	"shiptrack/internal/domain"
	"shiptrack/internal/migrate"
	"shiptrack/internal/repo"
	"shiptrack/internal/server"
	"shiptrack/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "st",
	Short: "Shiptrack CLI",
	Long: `Shiptrack follows product work from idea to production.
Core concepts:
- Workspace: the .shiptrack directory holding the database; config lives in the DB and is imported explicitly.
- Product: owns all features, bugs, tasks, sprints, and releases.
- Features: move through a one-way funnel idea -> review -> approved -> development -> testing -> release -> live, with votes and approvals along the way.
- Bugs: reports that flow open -> in_progress -> fixed -> retest -> closed; severity is fixed at triage.
- Tasks: plain work items with subtasks and dependencies.
- Sprints: timeboxed batches of features, bugs, and tasks; burndown and velocity come from their point totals.
- Releases: versioned ships with a build/test/staging/production pipeline, sign-offs, and rollbacks.
- Event log: diary of changes, view with 'st log tail'.`,
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
	viper.SetEnvPrefix("SHIPTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("workspace-id", "", "workspace id (overrides the single stored workspace)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("workspace-id", rootCmd.PersistentFlags().Lookup("workspace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(featureCmd())
	rootCmd.AddCommand(bugCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := workflow.New(conn, config.Default(id))
			w, err := e.InitWorkspace(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(w)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id")
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func workspaceCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workspace", Short: "Manage workspaces"}
	ws.AddCommand(workspaceShowCmd())
	ws.AddCommand(workspaceListCmd())
	ws.AddCommand(workspaceUseCmd())
	ws.AddCommand(workspaceConfigCmd())
	return ws
}

func workspaceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				w, err := e.Repo.GetWorkspace(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workspaceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkspaces(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func workspaceUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current workspace id for this directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID := strings.TrimSpace(args[0])
			if workspaceID == "" {
				return fmt.Errorf("workspace id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SHIPTRACK_WORKSPACE_ID", workspaceID); err != nil {
				return err
			}
			fmt.Printf("Set SHIPTRACK_WORKSPACE_ID=%s in %s/.env\n", workspaceID, workspace)
			return nil
		},
	}
	return cmd
}

func workspaceConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config is the rulebook (stored in DB): approval policies, rejection rules, sprint defaults, release approvers, and webhooks. Import from shiptrack.yml if desired.",
	}
	cfg.AddCommand(workspaceConfigShowCmd())
	cfg.AddCommand(workspaceConfigImportCmd())
	cfg.AddCommand(workspaceConfigInitCmd())
	cfg.AddCommand(workspaceConfigValidateCmd())
	return cfg
}

func workspaceConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workspace config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func workspaceConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workspace config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			workspaceID := cfg.Workspace.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if workspaceID == "" {
					workspaceID = e.Config.Workspace.ID
				}
				if err := e.Repo.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
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

func workspaceConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default shiptrack.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if id == "" {
				id = "default"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id to seed in the file")
	return cmd
}

func workspaceConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		Long:  "See the scoreboard: products in the workspace and any sprint currently running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				workspaceID := e.Config.Workspace.ID
				w, err := e.Repo.GetWorkspace(ctx, workspaceID)
				if err != nil {
					return err
				}
				products, err := e.Repo.ListProducts(ctx, workspaceID)
				if err != nil {
					return err
				}
				active, err := e.Repo.ListSprints(ctx, repo.SprintFilters{WorkspaceID: workspaceID, Status: "active"})
				if err != nil {
					return err
				}
				out := map[string]any{
					"workspace_id":   w.ID,
					"status":         w.Status,
					"products":       products,
					"active_sprints": active,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s (%s)\n", w.ID, w.Status)
				fmt.Println("Products:")
				for _, p := range products {
					fmt.Printf("  %s  %s [%s]\n", p.ID, p.Name, p.Status)
				}
				if len(active) == 0 {
					fmt.Println("Active sprint: none")
				}
				for _, s := range active {
					fmt.Printf("Active sprint: %s - %s\n", s.ID, s.Name)
				}
				return nil
			})
		},
	}
	return cmd
}

func productCmd() *cobra.Command {
	prd := &cobra.Command{Use: "product", Short: "Manage products"}
	prd.AddCommand(productCreateCmd())
	prd.AddCommand(productListCmd())
	prd.AddCommand(productShowCmd())
	prd.AddCommand(productUpdateCmd())
	prd.AddCommand(productDeleteCmd())
	return prd
}

func productCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create product",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.CreateProduct(ctx, e.Config.Workspace.ID, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func productListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListProducts(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func productShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.Repo.GetProduct(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func productUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProduct(ctx, id, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProduct(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func productDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteProduct(ctx, args[0])
			})
		},
	}
	return cmd
}

func featureCmd() *cobra.Command {
	feat := &cobra.Command{
		Use:   "feature",
		Short: "Manage features",
		Long:  "Features move through a one-way funnel: idea -> review -> approved -> development -> testing -> release -> live. Votes gauge demand, approval or rejection happens in review, and a rejected feature keeps its stage.",
	}
	feat.AddCommand(featureCreateCmd())
	feat.AddCommand(featureListCmd())
	feat.AddCommand(featureGetCmd())
	feat.AddCommand(featureUpdateCmd())
	feat.AddCommand(featureAdvanceCmd())
	feat.AddCommand(featureVoteCmd())
	feat.AddCommand(featureUnvoteCmd())
	feat.AddCommand(featureApproveCmd())
	feat.AddCommand(featureRejectCmd())
	return feat
}

func featureCreateCmd() *cobra.Command {
	var opts workflow.FeatureCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.CreateFeature(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "feature id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "story points")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func featureListCmd() *cobra.Command {
	var f repo.FeatureFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.ProductID == "" {
					f.WorkspaceID = e.Config.Workspace.ID
				}
				items, err := e.Repo.ListFeatures(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Priority", "Points", "Votes", "Assignee"})
				for _, ft := range items {
					assignee := ""
					if ft.AssigneeID != nil {
						assignee = *ft.AssigneeID
					}
					tw.AppendRow(table.Row{ft.ID, ft.Title, ft.Stage, ft.Priority, ft.Points, ft.Votes, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	return cmd
}

func featureGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.Repo.GetFeature(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func featureUpdateCmd() *cobra.Command {
	var title, description, priority, assign string
	var points int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := workflow.FeatureUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("points") {
				opts.Points = &points
			}
			if cmd.Flags().Changed("assign") {
				opts.Assign = &assign
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.UpdateFeature(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().IntVar(&points, "points", 0, "story points")
	cmd.Flags().StringVar(&assign, "assign", "", "set assignee id (empty clears)")
	return cmd
}

func featureAdvanceCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance feature stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.AdvanceFeatureStage(ctx, args[0], stage, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "to", "", "target stage")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func featureVoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote <id>",
		Short: "Vote for a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.VoteFeature(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func featureUnvoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unvote <id>",
		Short: "Withdraw a vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.UnvoteFeature(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func featureApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a feature in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.ApproveFeature(ctx, args[0], viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "approval comment")
	return cmd
}

func featureRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a feature in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				f, err := e.RejectFeature(ctx, args[0], viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func bugCmd() *cobra.Command {
	bug := &cobra.Command{
		Use:   "bug",
		Short: "Manage bugs",
		Long:  "Bugs flow open -> investigating -> in_progress -> fixed -> retest -> closed (wontfix is an exit). Severity is set at triage and never changes; retests are an append-only record.",
	}
	bug.AddCommand(bugCreateCmd())
	bug.AddCommand(bugListCmd())
	bug.AddCommand(bugGetCmd())
	bug.AddCommand(bugUpdateCmd())
	bug.AddCommand(bugStatusCmd())
	bug.AddCommand(bugRetestCmd())
	bug.AddCommand(bugRetestsCmd())
	return bug
}

func bugCreateCmd() *cobra.Command {
	var opts workflow.BugCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report a bug",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.CreateBug(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "bug id (optional)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.StepsToReproduce, "steps", "", "steps to reproduce")
	cmd.Flags().StringVar(&opts.Expected, "expected", "", "expected behavior")
	cmd.Flags().StringVar(&opts.Actual, "actual", "", "actual behavior")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "severity (minor, major, critical, blocker)")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "points")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.FeatureID, "feature", "", "related feature id")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bugListCmd() *cobra.Command {
	var f repo.BugFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.ProductID == "" {
					f.WorkspaceID = e.Config.Workspace.ID
				}
				items, err := e.Repo.ListBugs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Severity", "Assignee"})
				for _, b := range items {
					assignee := ""
					if b.AssigneeID != nil {
						assignee = *b.AssigneeID
					}
					tw.AppendRow(table.Row{b.ID, b.Title, b.Status, b.Severity, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	return cmd
}

func bugGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.Repo.GetBug(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func bugUpdateCmd() *cobra.Command {
	var title, description, assign string
	var points int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := workflow.BugUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("points") {
				opts.Points = &points
			}
			if cmd.Flags().Changed("assign") {
				opts.Assign = &assign
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.UpdateBug(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().IntVar(&points, "points", 0, "points")
	cmd.Flags().StringVar(&assign, "assign", "", "set assignee id (empty clears)")
	return cmd
}

func bugStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update bug status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.SetBugStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func bugRetestCmd() *cobra.Command {
	var passed bool
	var notes string
	cmd := &cobra.Command{
		Use:   "retest <id>",
		Short: "Record a retest result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.RecordRetest(ctx, args[0], passed, viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().BoolVar(&passed, "passed", false, "retest passed")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func bugRetestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retests <id>",
		Short: "List retests for a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if _, err := e.Repo.GetBug(ctx, args[0]); err != nil {
					return err
				}
				items, err := e.Repo.ListRetests(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are plain work items: todo -> in_progress -> done (canceled is an exit). They can carry subtasks, which must all be complete before the task is done, and blocking dependencies on other tasks.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskSubtaskCmd())
	task.AddCommand(taskDepCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts workflow.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "points")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.ProductID == "" {
					f.WorkspaceID = e.Config.Workspace.ID
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Points", "Assignee", "Sprint"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					sprint := ""
					if t.SprintID != nil {
						sprint = *t.SprintID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Points, assignee, sprint})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.SetTaskStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskSubtaskCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	sub.AddCommand(taskSubtaskAddCmd())
	sub.AddCommand(taskSubtaskDoneCmd())
	return sub
}

func taskSubtaskAddCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Add subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.AddSubtask(ctx, args[0], title, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "subtask title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskSubtaskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <task-id> <subtask-id>",
		Short: "Complete subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.CompleteSubtask(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskDepCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	dep.AddCommand(taskDepAddCmd())
	dep.AddCommand(taskDepRemoveCmd())
	return dep
}

func taskDepAddCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <task-id> <depends-on-id>",
		Short: "Add dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.AddTaskDependency(ctx, args[0], args[1], kind, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "blocks", "dependency kind (blocks, relates)")
	return cmd
}

func taskDepRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <task-id> <depends-on-id>",
		Short: "Remove dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.RemoveTaskDependency(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func sprintCmd() *cobra.Command {
	spr := &cobra.Command{
		Use:   "sprint",
		Short: "Manage sprints",
		Long:  "Sprints are timeboxes: planning -> active -> completed/cancelled. Items join during planning or while active; velocity freezes at completion.",
	}
	spr.AddCommand(sprintCreateCmd())
	spr.AddCommand(sprintListCmd())
	spr.AddCommand(sprintGetCmd())
	spr.AddCommand(sprintStartCmd())
	spr.AddCommand(sprintCompleteCmd())
	spr.AddCommand(sprintCancelCmd())
	spr.AddCommand(sprintDeleteCmd())
	spr.AddCommand(sprintAddCmd())
	spr.AddCommand(sprintRemoveCmd())
	spr.AddCommand(sprintItemsCmd())
	spr.AddCommand(sprintBurndownCmd())
	spr.AddCommand(sprintVelocityCmd())
	return spr
}

func sprintCreateCmd() *cobra.Command {
	var opts workflow.SprintCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.CreateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "sprint id (optional)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "sprint name")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "sprint goal")
	cmd.Flags().IntVar(&opts.DurationWeeks, "weeks", 0, "duration in weeks (1-4, config default if omitted)")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sprintListCmd() *cobra.Command {
	var f repo.SprintFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.ProductID == "" {
					f.WorkspaceID = e.Config.Workspace.ID
				}
				items, err := e.Repo.ListSprints(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func sprintGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.Repo.GetSprint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sprintStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.StartSprint(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sprintCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete sprint and freeze velocity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.CompleteSprint(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sprintCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.CancelSprint(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sprintDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.DeleteSprint(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func sprintAddCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <sprint-id> <item-id>",
		Short: "Add item to sprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.AssignToSprint(ctx, args[0], kind, args[1], viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "item kind (feature, bug, task)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func sprintRemoveCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "remove <sprint-id> <item-id>",
		Short: "Remove item from sprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.RemoveFromSprint(ctx, args[0], kind, args[1], viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "item kind (feature, bug, task)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func sprintItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items <id>",
		Short: "List sprint items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.ListSprintItems(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func sprintBurndownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "burndown <id>",
		Short: "Show sprint burndown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				seq, err := e.SprintBurndown(ctx, args[0])
				if err != nil {
					return err
				}
				days := slices.Collect(seq)
				if viper.GetBool("json") {
					return printJSON(days)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Date", "Ideal", "Actual", "Completed"})
				for _, d := range days {
					tw.AppendRow(table.Row{d.Day, d.Date.Format("2006-01-02"), fmt.Sprintf("%.1f", d.IdealRemaining), d.ActualRemaining, d.CompletedToday})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sprintVelocityCmd() *cobra.Command {
	var product string
	var limit int
	cmd := &cobra.Command{
		Use:   "velocity",
		Short: "Show velocity history for a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				history, err := e.VelocityHistory(ctx, product, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(history)
			})
		},
	}
	cmd.Flags().StringVar(&product, "product", "", "product id")
	cmd.Flags().IntVar(&limit, "n", 10, "number of sprints")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func releaseCmd() *cobra.Command {
	rel := &cobra.Command{
		Use:   "release",
		Short: "Manage releases",
		Long:  "Releases carry a version through planning -> development -> testing -> staging -> production. Each has a build/test/staging/production pipeline, optional sign-offs before production, and an append-only rollback ledger.",
	}
	rel.AddCommand(releaseCreateCmd())
	rel.AddCommand(releaseListCmd())
	rel.AddCommand(releaseGetCmd())
	rel.AddCommand(releaseDeleteCmd())
	rel.AddCommand(releaseStatusCmd())
	rel.AddCommand(releaseStageCmd())
	rel.AddCommand(releaseDeployCmd())
	rel.AddCommand(releaseRollbackCmd())
	rel.AddCommand(releaseApprovalsCmd())
	rel.AddCommand(releaseLinkCmd())
	rel.AddCommand(releaseUnlinkCmd())
	return rel
}

func releaseCreateCmd() *cobra.Command {
	var opts workflow.ReleaseCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create release",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rel, err := e.CreateRelease(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "release id (optional)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Version, "version", "", "release version")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func releaseListCmd() *cobra.Command {
	var f repo.ReleaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.ProductID == "" {
					f.WorkspaceID = e.Config.Workspace.ID
				}
				items, err := e.Repo.ListReleases(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func releaseGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get release with stages, approvals, and rollbacks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rel, err := e.Repo.GetRelease(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	return cmd
}

func releaseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.DeleteRelease(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func releaseStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update release status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rel, err := e.SetReleaseStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func releaseStageCmd() *cobra.Command {
	stage := &cobra.Command{Use: "stage", Short: "Manage pipeline stages"}
	stage.AddCommand(releaseStageStartCmd())
	stage.AddCommand(releaseStageCompleteCmd())
	stage.AddCommand(releaseStageRetryCmd())
	stage.AddCommand(releaseStageListCmd())
	return stage
}

func releaseStageStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <release-id> <stage>",
		Short: "Start a pipeline stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.StartStage(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func releaseStageCompleteCmd() *cobra.Command {
	var failed bool
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <release-id> <stage>",
		Short: "Complete a running pipeline stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.CompleteStage(ctx, args[0], args[1], !failed, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the stage as failed")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func releaseStageRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <release-id> <stage>",
		Short: "Retry a failed pipeline stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.RetryStage(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func releaseStageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <release-id>",
		Short: "List pipeline stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if _, err := e.Repo.GetRelease(ctx, args[0]); err != nil {
					return err
				}
				stages, err := e.Repo.ListReleaseStages(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stages)
			})
		},
	}
	return cmd
}

func releaseDeployCmd() *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "deploy <id>",
		Short: "Deploy release to an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rel, err := e.Deploy(ctx, args[0], environment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&environment, "env", "production", "target environment")
	return cmd
}

func releaseRollbackCmd() *cobra.Command {
	var toVersion, reason string
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back a production release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rel, err := e.Rollback(ctx, args[0], toVersion, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&toVersion, "to", "", "version to roll back to")
	cmd.Flags().StringVar(&reason, "reason", "", "rollback reason")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func releaseApprovalsCmd() *cobra.Command {
	appr := &cobra.Command{Use: "approvals", Short: "Manage release sign-offs"}
	appr.AddCommand(releaseApprovalsRequestCmd())
	appr.AddCommand(releaseApprovalsDecideCmd())
	appr.AddCommand(releaseApprovalsStatusCmd())
	return appr
}

func releaseApprovalsRequestCmd() *cobra.Command {
	var approvers []string
	cmd := &cobra.Command{
		Use:   "request <release-id>",
		Short: "Request sign-offs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.RequestApproval(ctx, args[0], approvers, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringArrayVar(&approvers, "approver", []string{}, "approver id (repeatable, config default if omitted)")
	return cmd
}

func releaseApprovalsDecideCmd() *cobra.Command {
	var reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "decide <release-id>",
		Short: "Record your sign-off decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.DecideApproval(ctx, args[0], viper.GetString("actor-id"), !reject, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func releaseApprovalsStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <release-id>",
		Short: "Show sign-off tally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.ReleaseApprovalStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func releaseLinkCmd() *cobra.Command {
	var feature, bugfix string
	cmd := &cobra.Command{
		Use:   "link <release-id>",
		Short: "Link a feature or bugfix to a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (feature == "") == (bugfix == "") {
				return fmt.Errorf("exactly one of --feature or --bugfix required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if feature != "" {
					return e.LinkReleaseFeature(ctx, args[0], feature, viper.GetString("actor-id"))
				}
				return e.LinkReleaseBugfix(ctx, args[0], bugfix, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&feature, "feature", "", "feature id")
	cmd.Flags().StringVar(&bugfix, "bugfix", "", "bug id")
	return cmd
}

func releaseUnlinkCmd() *cobra.Command {
	var feature, bugfix string
	cmd := &cobra.Command{
		Use:   "unlink <release-id>",
		Short: "Unlink a feature or bugfix from a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (feature == "") == (bugfix == "") {
				return fmt.Errorf("exactly one of --feature or --bugfix required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if feature != "" {
					return e.UnlinkReleaseFeature(ctx, args[0], feature, viper.GetString("actor-id"))
				}
				return e.UnlinkReleaseBugfix(ctx, args[0], bugfix, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&feature, "feature", "", "feature id")
	cmd.Flags().StringVar(&bugfix, "bugfix", "", "bug id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: stage changes, votes, deployments, rollbacks, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Workspace.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysRevokeCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := "stk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The plaintext is shown once and never stored.
				out := map[string]any{
					"id":         key.ID,
					"actor_id":   key.ActorID,
					"name":       key.Name,
					"key":        plaintext,
					"created_at": key.CreatedAt,
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				for i := range items {
					items[i].KeyHash = ""
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveWorkspaceAndConfig(cmd.Context(), viper.GetString("workspace-id"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := workflow.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SHIPTRACK_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("SHIPTRACK_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Shiptrack API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept the X-Actor-Id header without credentials")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
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
	_, cfg, err := app.ResolveWorkspaceAndConfig(ctx, viper.GetString("workspace-id"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := workflow.New(conn, cfg)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
