package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/app"
	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		runStatus(log)
	case "migrate":
		runMigrate(log)
	case "rollback":
		runRollback(log)
	case "cleanup-backup":
		runCleanupBackup(log)
	case "restore-backup":
		runRestoreBackup(log)
	case "sync":
		runSync(log)
	case "dedupe":
		runDedupe(log)
	case "export":
		runExport(log)
	case "import":
		runImport(log)
	case "materialize":
		runMaterialize(log)
	case "stats":
		runStats(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("MonEra CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  status          Show the storage migration state")
	fmt.Println("  migrate         Copy flat storage into the structured store")
	fmt.Println("  rollback        Restore flat storage from the migration backup")
	fmt.Println("  cleanup-backup  Remove the migration backup")
	fmt.Println("  restore-backup  Replace local data with a backup object from GCS")
	fmt.Println("  sync            Run one full cloud sync")
	fmt.Println("  dedupe          Remove duplicate transactions and budgets")
	fmt.Println("  export          Write every record as JSON")
	fmt.Println("  import          Load records from a JSON or CSV file")
	fmt.Println("  materialize     Generate due recurring transactions")
	fmt.Println("  stats           Show record counts of the active store")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup parses the common flags, loads the configuration and opens the
// backends. Callers must close the returned App.
func setup(log zerolog.Logger, name string, define func(fs *flag.FlagSet)) (context.Context, context.CancelFunc, *app.App) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a TOML config file (or set MONERA_CONFIG)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up after this long")
	if define != nil {
		define(fs)
	}
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewFromConfig(logger.Config{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return ctx, cancel, a
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func runStatus(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "status", nil)
	defer cancel()
	defer a.Close()

	status, err := a.Coordinator.Status(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migration status")
	}
	printJSON(status)
}

func runMigrate(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "migrate", nil)
	defer cancel()
	defer a.Close()

	res, err := a.Coordinator.Migrate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if res.Skipped {
		fmt.Println("Another migration is already running.")
		return
	}
	printJSON(res)
}

func runRollback(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "rollback", nil)
	defer cancel()
	defer a.Close()

	res, err := a.Coordinator.Rollback(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Rollback failed")
	}
	if res.Skipped {
		fmt.Println("Another migration is already running.")
		return
	}
	printJSON(res)
}

func runCleanupBackup(log zerolog.Logger) {
	var force *bool
	ctx, cancel, a := setup(log, "cleanup-backup", func(fs *flag.FlagSet) {
		force = fs.Bool("force", false, "Remove the backup even inside the retention window")
	})
	defer cancel()
	defer a.Close()

	removed, err := a.Coordinator.CleanupBackup(ctx, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("Backup cleanup failed")
	}
	if !removed {
		fmt.Println("Backup kept (missing or still within retention; use -force to remove).")
		return
	}
	fmt.Println("Backup removed.")
}

func runRestoreBackup(log zerolog.Logger) {
	var uri *string
	ctx, cancel, a := setup(log, "restore-backup", func(fs *flag.FlagSet) {
		uri = fs.String("uri", "", "gs:// URI of the backup object")
	})
	defer cancel()
	defer a.Close()

	if *uri == "" {
		log.Fatal().Msg("Error: -uri is required")
	}
	sink := a.Backups()
	if sink == nil {
		log.Fatal().Msg("Error: backup.gcs_bucket is not configured")
	}

	data, err := sink.FetchURI(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to download backup")
	}
	snap, err := importer.ParseJSON(bytes.NewReader(data))
	if err != nil {
		log.Fatal().Err(err).Msg("Backup is not a valid export")
	}
	res, err := a.Importer.Import(ctx, snap, importer.ModeReplace)
	if err != nil {
		log.Fatal().Err(err).Msg("Restore failed")
	}
	printJSON(res)
}

func runSync(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "sync", nil)
	defer cancel()
	defer a.Close()

	if a.Engine == nil {
		log.Fatal().Msg("Error: no remote configured (remote.driver is none)")
	}
	res, err := a.Engine.Sync(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}
	if res.Skipped {
		fmt.Println("Another sync is already running.")
		return
	}
	printJSON(res)
	if !res.Success {
		os.Exit(1)
	}
}

func runDedupe(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "dedupe", nil)
	defer cancel()
	defer a.Close()

	if a.Engine == nil {
		log.Fatal().Msg("Error: no remote configured (remote.driver is none)")
	}
	res, err := a.Engine.CleanupDuplicates(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Duplicate cleanup failed")
	}
	printJSON(res)
}

func runExport(log zerolog.Logger) {
	var out *string
	ctx, cancel, a := setup(log, "export", func(fs *flag.FlagSet) {
		out = fs.String("out", "", "Output file (defaults to stdout)")
	})
	defer cancel()
	defer a.Close()

	active, err := a.Coordinator.Active(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("No storage available")
	}
	snap, err := active.ExportAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	if *out == "" {
		printJSON(snap)
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode export")
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		log.Fatal().Err(err).Msg("Failed to write export")
	}
	fmt.Printf("Exported %d transactions to %s\n", len(snap.Transactions), *out)
}

func runImport(log zerolog.Logger) {
	var file, mode, format *string
	ctx, cancel, a := setup(log, "import", func(fs *flag.FlagSet) {
		file = fs.String("file", "", "Path to the file to import")
		mode = fs.String("mode", "merge", "merge or replace")
		format = fs.String("format", "", "json or csv (defaults to the file extension)")
	})
	defer cancel()
	defer a.Close()

	if *file == "" {
		log.Fatal().Msg("Usage: cli import -file PATH [-mode merge|replace] [-format json|csv]")
	}
	m, err := importer.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}
	if *format == "" {
		*format = "json"
		if strings.HasSuffix(strings.ToLower(*file), ".csv") {
			*format = "csv"
		}
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open import file")
	}
	defer f.Close()

	var res importer.Result
	switch *format {
	case "csv":
		txs, perr := importer.ParseCSV(f)
		if perr != nil {
			reportParse(log, perr)
		}
		res, err = a.Importer.ImportTransactions(ctx, txs, m)
	case "json":
		snap, perr := importer.ParseJSON(f)
		if perr != nil {
			reportParse(log, perr)
		}
		res, err = a.Importer.Import(ctx, snap, m)
	default:
		log.Fatal().Str("format", *format).Msg("Unknown format")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}
	if res.Skipped {
		fmt.Println("Another import is already running.")
		return
	}
	printJSON(res)
}

// reportParse lists every validation problem before exiting.
func reportParse(log zerolog.Logger, err error) {
	var verr *importer.ValidationError
	if errors.As(err, &verr) {
		for _, p := range verr.Problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
	}
	log.Fatal().Err(err).Msg("Import file rejected")
}

func runMaterialize(log zerolog.Logger) {
	var date *string
	ctx, cancel, a := setup(log, "materialize", func(fs *flag.FlagSet) {
		date = fs.String("date", "", "Treat this YYYY-MM-DD as today")
	})
	defer cancel()
	defer a.Close()

	today := recurring.Today(time.Now())
	if *date != "" {
		d, err := civil.ParseDate(*date)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -date")
		}
		today = d
	}

	res, err := a.Materializer.Run(ctx, today)
	if err != nil {
		log.Fatal().Err(err).Msg("Materialization failed")
	}
	printJSON(res)
}

func runStats(log zerolog.Logger) {
	ctx, cancel, a := setup(log, "stats", nil)
	defer cancel()
	defer a.Close()

	active, err := a.Coordinator.Active(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("No storage available")
	}
	stats, err := active.GetStats(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read stats")
	}
	printJSON(struct {
		Backend storage.Backend `json:"backend"`
		Stats   domain.Stats    `json:"stats"`
	}{active.Backend(), stats})
}
