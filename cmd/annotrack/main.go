package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/annotrack/internal/aggregate"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/gitrepo"
	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/pipeline"
	"github.com/TobiSchelling/annotrack/internal/server"
	"github.com/TobiSchelling/annotrack/internal/sheets"
	"github.com/TobiSchelling/annotrack/internal/source"
	"github.com/TobiSchelling/annotrack/internal/watch"
	"github.com/TobiSchelling/annotrack/internal/webhook"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "annotrack",
	Short:   "Track speech annotation progress",
	Long:    "annotrack syncs annotator reports from a GitHub repository into a database and serves progress summaries.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sheetsCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("annotrack", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/annotrack/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your report repository and spreadsheets.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Printf("Database (%s): %s\n", db.Driver(), db.Path())
		fmt.Printf("  Stored rows: %d\n", stats.TotalRows)
		fmt.Printf("  Annotators: %d\n", stats.Annotators)
		fmt.Printf("  Languages: %d\n", stats.Languages)
		fmt.Printf("  Report dates: %d\n", stats.ReportDates)
		fmt.Println("\nSync:")
		fmt.Printf("  Runs: %d\n", stats.SyncRuns)
		if last := stats.LastSync; last != nil {
			fmt.Printf("  Last: %s (%s) at %s, %d records\n", last.Status, last.Trigger, last.StartedAt, last.RecordCount)
			if last.Error != nil {
				fmt.Printf("  Error: %s\n", *last.Error)
			}
		}

		repo := gitrepo.FromConfig(cfg, nil)
		fmt.Println("\nRepository:")
		fmt.Printf("  URL: %s\n", cfg.RepositoryURL())
		fmt.Printf("  Clone: %s (initialized: %v)\n", repo.Path(), repo.Exists())
		return nil
	},
}

// --- sync command ---

var (
	noPull bool
	dryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync pipeline: refresh -> parse -> reconcile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		syncer := pipeline.New(db, gitrepo.FromConfig(cfg, nil), cfg.Sync.Workers, nil)
		syncer.SetTimeout(cfg.Sync.Timeout)

		var result *pipeline.Result
		if dryRun {
			result, err = syncer.DryRun(ctx)
		} else {
			result, err = syncer.Run(ctx, pipeline.Options{Trigger: "cli", SkipRefresh: noPull})
		}
		if result != nil {
			printSteps(result)
			for _, s := range result.Skipped {
				fmt.Printf("  Skipped %s: %s\n", s.Path, s.Reason)
			}
		}
		if err != nil {
			return err
		}

		if !dryRun {
			fmt.Printf("\nSync complete: %d records across %d languages.\n", result.Records, len(result.Languages))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&noPull, "no-pull", false, "Parse the local clone without pulling")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without writing")
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- watch command ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Resync whenever the local report tree changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		repo := gitrepo.FromConfig(cfg, nil)
		if !repo.Exists() {
			return fmt.Errorf("no local clone at %s; run 'annotrack sync' first", repo.Path())
		}
		syncer := pipeline.New(db, repo, cfg.Sync.Workers, nil)
		syncer.SetTimeout(cfg.Sync.Timeout)
		if err := watch.New(repo.ReportsDir(), syncer, cfg.Sync.WatchDebounce).Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}

		fmt.Println("Press Ctrl+C to stop")
		<-ctx.Done()
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server and webhook receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		m := metrics.New()
		syncer := pipeline.New(db, gitrepo.FromConfig(cfg, nil), cfg.Sync.Workers, m)
		syncer.SetTimeout(cfg.Sync.Timeout)

		secret := cfg.WebhookSecret()
		if secret == "" {
			log.Printf("%s is not set; webhook deliveries will be refused", cfg.Webhook.SecretEnv)
		}
		gate, err := webhook.NewGate(secret, cfg.Webhook.MaxBodyBytes, syncer, m)
		if err != nil {
			return err
		}

		publisher, err := newPublisher(ctx, m)
		if err != nil {
			return err
		}
		if publisher == nil {
			log.Printf("%s is not set; sheet endpoints are disabled", cfg.Sheets.CredentialsEnv)
		}

		srv, err := server.New(server.Deps{
			DB:        db,
			Gate:      gate,
			Remote:    newRemote(m),
			Publisher: publisher,
			Feed:      source.NewFeed(cfg.GitHub),
			Metrics:   m,
			Config:    cfg,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- stats command ---

var (
	statsLanguage string
	statsMarkdown bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored annotation totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if statsLanguage != "" {
			rows, err := db.ListAnnotatorStats(ctx, database.StatFilter{Language: statsLanguage, Latest: true})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Printf("No stats stored for %s.\n", statsLanguage)
				return nil
			}
			fmt.Printf("%s, %s:\n\n", statsLanguage, database.FormatDateDisplay(rows[0].ReportDate))
			for _, r := range rows {
				fmt.Printf("  %-10s %-24s read %5d  remaining %5d  %8.2f min\n",
					r.AnnotatorID, r.Name, r.FilesRead, r.RemainingTexts, r.MinutesRecorded)
			}
			return nil
		}

		totals, err := db.LanguageTotals(ctx)
		if err != nil {
			return err
		}
		runs, err := db.ListSyncRuns(ctx, 1)
		if err != nil {
			return err
		}
		if statsMarkdown {
			fmt.Print(aggregate.Digest(totals, runs))
			return nil
		}
		if len(totals) == 0 {
			fmt.Println("No stats stored yet. Run 'annotrack sync'.")
			return nil
		}
		for _, t := range totals {
			fmt.Printf("%s (%s)\n", t.Language, database.FormatDateDisplay(t.LatestReport))
			fmt.Printf("  Annotators: %d (%d started)\n", t.Annotators, t.Started)
			fmt.Printf("  Files read: %d, remaining: %d\n", t.FilesRead, t.RemainingTexts)
			fmt.Printf("  Minutes recorded: %.2f\n", t.MinutesRecorded)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsLanguage, "language", "l", "", "Show one language's annotators")
	statsCmd.Flags().BoolVar(&statsMarkdown, "markdown", false, "Print the markdown digest")
}

// --- sheets command ---

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Publish summaries to Google Sheets",
}

var sheetsPushCmd = &cobra.Command{
	Use:       "push <stats|counts|annotators|hourly|workbook>",
	Short:     "Fetch a summary from the repository and write it to its spreadsheet",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"stats", "counts", "annotators", "hourly", "workbook"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		publisher, err := newPublisher(ctx, nil)
		if err != nil {
			return err
		}
		if publisher == nil {
			return fmt.Errorf("%s is not set", cfg.Sheets.CredentialsEnv)
		}
		remote := newRemote(nil)

		var pubs []sheets.Published
		switch args[0] {
		case "stats":
			tables, order, ferr := remote.AllLanguageStats(ctx)
			if ferr != nil {
				return ferr
			}
			pubs, err = publisher.LanguageStats(ctx, tables, order)
		case "counts":
			counts, ferr := remote.AssignmentCounts(ctx)
			if ferr != nil {
				return ferr
			}
			pubs, err = publisher.Counts(ctx, counts)
		case "annotators":
			tables, ferr := remote.AnnotatorTables(ctx)
			if ferr != nil {
				return ferr
			}
			pubs, err = publisher.AnnotatorTables(ctx, tables)
		case "hourly":
			rows, ferr := remote.Hourly(ctx)
			if ferr != nil {
				return ferr
			}
			var pub sheets.Published
			pub, err = publisher.Hourly(ctx, rows)
			pubs = append(pubs, pub)
		case "workbook":
			wb, ferr := remote.AudioSummary(ctx)
			if ferr != nil {
				return ferr
			}
			pubs, err = publisher.Workbook(ctx, wb)
		}

		for _, p := range pubs {
			fmt.Printf("  %s/%s: %d rows\n", p.SpreadsheetID, p.Tab, p.Rows)
		}
		return err
	},
}

func init() {
	sheetsCmd.AddCommand(sheetsPushCmd)
}

// --- config command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func openDB() (*database.DB, error) {
	if cfg.Database.Driver == "postgres" {
		dsn := cfg.DSN()
		if dsn == "" {
			return nil, fmt.Errorf("%s is not set", cfg.Database.DSNEnv)
		}
		return database.OpenPostgres(dsn)
	}

	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}

func newRemote(m *metrics.Metrics) *aggregate.Remote {
	return aggregate.NewRemote(source.New(cfg.GitHub, cfg.Token(), m), cfg.GitHub)
}

// newPublisher returns nil when no service-account credentials are set.
func newPublisher(ctx context.Context, m *metrics.Metrics) (*sheets.Publisher, error) {
	creds, err := cfg.SheetsCredentials()
	if err != nil || creds == nil {
		return nil, err
	}
	svc, err := sheets.NewGoogleService(ctx, creds)
	if err != nil {
		return nil, err
	}
	return sheets.NewPublisher(sheets.NewWriter(svc, cfg.Sheets.ChunkSize, cfg.Sheets.ChunkPause, m), cfg.Sheets), nil
}
