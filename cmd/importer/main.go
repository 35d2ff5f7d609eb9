/*
main.go - Legacy workbook importer

PURPOSE:
  Loads a spreadsheet exported by the old holiday system into the ledger
  from the command line. Staff rows are provisioned first, then day rows
  are grouped into requests and imported as approved history. Running it
  twice on the same file imports nothing new.

USAGE:
  ./importer -file transfer.xlsx [-site site-1] [-year 2025] [-db path]

  -site defaults to DEFAULT_SITE_ID, -year to the current leave year.
  Accepted formats: .xlsx, .xls, .csv

EXIT STATUS:
  0 when every record imported or was already present, 1 otherwise.

SEE ALSO:
  - legacy/workbook.go: Column layout
  - holiday/reconcile.go: Reconciler
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/holiday-engine/config"
	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
	"github.com/warp/holiday-engine/legacy"
	"github.com/warp/holiday-engine/logging"
	"github.com/warp/holiday-engine/store/sqlite"
)

func main() {
	file := flag.String("file", "", "workbook to import (.xlsx, .xls or .csv)")
	site := flag.String("site", "", "site ID for imported staff (overrides DEFAULT_SITE_ID)")
	year := flag.Int("year", 0, "leave year for imported entitlements (default: current)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *site == "" {
		*site = cfg.Leave.DefaultSiteID
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, logger, *file, *site, generic.LeaveYear(*year))
	if err != nil {
		logger.Fatal("import failed", zap.String("file", *file), zap.Error(err))
	}
	printReport(report)

	if failures(report) > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, path, siteID string, year generic.LeaveYear) (*legacy.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wb, err := legacy.Load(f, path, siteID)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	rec := holiday.NewReconciler(store, holiday.Options{
		Calendar:     cfg.Leave.Calendar(),
		Retry:        cfg.Ledger.RetryPolicy(),
		Logger:       logger,
		MaxRangeDays: cfg.Leave.MaxRequestDays,
	}, holiday.ImportOptions{
		Workers:           cfg.Import.Workers,
		EffectiveDayHours: cfg.Leave.EffectiveDayHours,
	})

	if year == 0 {
		year = cfg.Leave.Calendar().YearOf(generic.Today())
	}

	logger.Info("importing workbook",
		zap.String("file", path),
		zap.String("site_id", siteID),
		zap.Int("leave_year", int(year)),
		zap.Int("staff_rows", len(wb.Staff)),
		zap.Int("day_rows", len(wb.Days)),
	)
	return legacy.Apply(ctx, rec, wb, year)
}

func failures(r *legacy.Report) int {
	return len(r.RowErrors) + len(r.StaffErrors) + len(r.GroupErrors) + len(r.Result.Errors)
}

func printReport(r *legacy.Report) {
	fmt.Printf("staff provisioned: %d\n", len(r.Staff))
	fmt.Printf("records:           %d\n", r.Records)
	fmt.Printf("imported:          %d\n", r.Result.Imported)
	fmt.Printf("already present:   %d\n", r.Result.Skipped)

	for _, e := range r.RowErrors {
		fmt.Printf("  row %d: %v\n", e.Row, e.Err)
	}
	for _, group := range [][]holiday.RecordError{r.StaffErrors, r.GroupErrors, r.Result.Errors} {
		for _, e := range group {
			fmt.Printf("  %v\n", e)
		}
	}
}
