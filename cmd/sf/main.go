package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studioflow/internal/catalog"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
	"studioflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Studioflow CLI",
	Long: `Studioflow tracks design-studio projects through service-specific stages.
- Project: one client engagement; its workflow is copied from the stage
  catalog for the chosen service type (and modality, for projeto_completo).
- Stage: one step of the delivery process; reaching the final stage marks
  the project completed, and completed/cancelled projects are frozen.
- Time entry: immutable record of hours worked on a stage and date; the
  project's hours_used total is kept in sync.
- Timeline: stage changes and time entries merged into one feed ('sf timeline').`,
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
	viper.SetEnvPrefix("STUDIOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "default-org", "organization id")
	rootCmd.PersistentFlags().String("catalog", "", "stage catalog YAML (defaults to built-in)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
	_ = viper.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(serveCmd())
}

func loadCatalog() (*catalog.Catalog, error) {
	if path := viper.GetString("catalog"); path != "" {
		return catalog.FromFile(path)
	}
	return catalog.Default(), nil
}

func withEngine(ctx context.Context, fn func(ctx context.Context, e engine.Engine) error) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cat))
}

func actorID() string { return viper.GetString("actor-id") }
func orgID() string   { return viper.GetString("org") }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCancelCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, client, serviceType, modality, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if client == "" {
				return fmt.Errorf("--client required")
			}
			if serviceType == "" {
				return fmt.Errorf("--service required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:          id,
					OrgID:       orgID(),
					ClientName:  client,
					ServiceType: serviceType,
					Modality:    modality,
					Description: desc,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&serviceType, "service", "", "service type (projetexpress|projeto_completo|consultoria)")
	cmd.Flags().StringVar(&modality, "modality", "", "modality for projeto_completo (residencial|comercial)")
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, orgID(), repo.ProjectFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Client", "Service", "Stage", "Status", "Hours"})
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.ClientName, p.ServiceType, p.Stage, p.Status, p.HoursUsed})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CancelProject(ctx, orgID(), args[0], actorID())
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{Use: "stage", Short: "Manage project stages"}
	st.AddCommand(stageMoveCmd())
	st.AddCommand(stageInsertCmd())
	st.AddCommand(stageListCmd())
	return st
}

func stageMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <project-id> <stage-id>",
		Short: "Move project to a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.MoveToStage(ctx, orgID(), args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	return cmd
}

func stageInsertCmd() *cobra.Command {
	var name, colorTag, desc string
	var position int
	cmd := &cobra.Command{
		Use:   "insert <project-id> <stage-id>",
		Short: "Insert a custom stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.StageInsertOptions{
					OrgID:     orgID(),
					ProjectID: args[0],
					Stage:     domain.Stage{ID: args[1], Name: name, ColorTag: colorTag, Description: desc},
					ActorID:   actorID(),
				}
				if cmd.Flags().Changed("position") {
					opts.Position = &position
				}
				stages, err := e.InsertStage(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(stages)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stage display name")
	cmd.Flags().StringVar(&colorTag, "color", "gray", "stage color tag")
	cmd.Flags().StringVar(&desc, "description", "", "stage description")
	cmd.Flags().IntVar(&position, "position", 0, "insert position (default: append)")
	return cmd
}

func stageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				if p.Workflow == nil {
					return fmt.Errorf("project %s has no workflow", p.ID)
				}
				if viper.GetBool("json") {
					return printJSON(p.Workflow)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"#", "Stage", "Name", "Color", "Current"})
				for i, s := range p.Workflow.Stages {
					marker := ""
					if i == p.Workflow.CurrentStageIndex {
						marker = "*"
					}
					t.AppendRow(table.Row{i, s.ID, s.Name, s.ColorTag, marker})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func timeCmd() *cobra.Command {
	tm := &cobra.Command{Use: "time", Short: "Record and list time entries"}
	tm.AddCommand(timeLogCmd())
	tm.AddCommand(timeListCmd())
	return tm
}

func timeLogCmd() *cobra.Command {
	var stageID, date, desc string
	var hours float64
	cmd := &cobra.Command{
		Use:   "log <project-id>",
		Short: "Record hours worked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date required (YYYY-MM-DD)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				te, err := e.RecordTime(ctx, engine.TimeEntryOptions{
					OrgID:       orgID(),
					ProjectID:   args[0],
					StageID:     stageID,
					Hours:       hours,
					Date:        date,
					Description: desc,
					AuthorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(te)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id the hours belong to")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours worked (0 < h <= 24)")
	cmd.Flags().StringVar(&date, "date", "", "work date YYYY-MM-DD")
	cmd.Flags().StringVar(&desc, "description", "", "entry description")
	return cmd
}

func timeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List time entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTimeEntries(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Date", "Stage", "Hours", "Author", "Description"})
				for _, te := range items {
					t.AppendRow(table.Row{te.Date, te.StageID, te.Hours, te.AuthorID, te.Description})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <project-id>",
		Short: "Merged stage-change and time-entry feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Timeline(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"When", "Type", "Detail", "Hours", "Who"})
				for _, entry := range res.Entries {
					detail := entry.StageID
					if entry.Type == "stage_change" {
						detail = entry.FromStage + " -> " + entry.ToStage
					}
					var hours any
					if entry.Type == "time_entry" {
						hours = entry.Hours
					}
					t.AppendRow(table.Row{entry.TS, entry.Type, detail, hours, entry.ActorName})
				}
				t.Render()
				fmt.Println()
				for stage, total := range res.HoursByStage {
					fmt.Printf("%s: %.2fh\n", stage, total)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Activity log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail <project-id>",
		Short: "Latest activity log rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, orgID(), args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max rows")
	lg.AddCommand(tail)
	return lg
}

func memberCmd() *cobra.Command {
	mb := &cobra.Command{Use: "member", Short: "Manage org members"}
	var name string
	add := &cobra.Command{
		Use:   "add <member-id>",
		Short: "Register a member display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.EnsureMember(ctx, domain.Member{ID: args[0], OrgID: orgID(), Name: name})
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	mb.AddCommand(add)
	return mb
}

func catalogCmd() *cobra.Command {
	ct := &cobra.Command{Use: "catalog", Short: "Stage catalog"}
	var modality string
	show := &cobra.Command{
		Use:   "show <service-type>",
		Short: "Show catalog stages for a service type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			stages, err := cat.StagesFor(args[0], modality)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(stages)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "Stage", "Name", "Color"})
			for i, s := range stages {
				t.AppendRow(table.Row{i, s.ID, s.Name, s.ColorTag})
			}
			t.Render()
			return nil
		},
	}
	show.Flags().StringVar(&modality, "modality", "", "modality for projeto_completo")
	ct.AddCommand(show)
	return ct
}

func serveCmd() *cobra.Command {
	var addr, basePath, jwtSecret string
	var devLogin, legacyHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              jwtSecret,
						AllowLegacyActorHeader: legacyHeaders,
						EnableDevLogin:         devLogin,
						DefaultOrgID:           orgID(),
					},
				})
				if err != nil {
					return err
				}
				fmt.Printf("listening on %s (docs at /docs)\n", addr)
				return http.ListenAndServe(addr, handler)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose /auth/dev/login")
	cmd.Flags().BoolVar(&legacyHeaders, "legacy-actor-header", true, "accept X-Actor-Id/X-Org-Id headers")
	return cmd
}
