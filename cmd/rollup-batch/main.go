// Command rollup-batch aggregates a summary ledger, and optionally a detail
// ledger, into a workbook without running the web server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rollup/internal/aggregate"
	"rollup/internal/cli"
	"rollup/internal/config"
	"rollup/internal/core"
	"rollup/internal/log"
	"rollup/internal/services"
	gsheet "rollup/internal/sheets/google"
	"rollup/internal/sheets/xlsx"
	"rollup/internal/workspace/memory"
)

const batchSession = "batch"

type options struct {
	summary      string
	detail       string
	summaryRange string
	detailRange  string
	out          string
	dateLayout   string
	currency     string
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentBatch)
	cfg := config.Load()

	var opts options
	flag.StringVar(&opts.summary, "summary", "", "summary ledger file (.xlsx or .csv)")
	flag.StringVar(&opts.detail, "detail", "", "detail ledger file (.xlsx or .csv), optional")
	flag.StringVar(&opts.summaryRange, "summary-range", "", "read the summary ledger from this range of GOOGLE_SPREADSHEET_ID instead of a file")
	flag.StringVar(&opts.detailRange, "detail-range", "", "read the detail ledger from this range of GOOGLE_SPREADSHEET_ID instead of a file")
	flag.StringVar(&opts.out, "out", xlsx.ExportFilename, "output workbook")
	flag.StringVar(&opts.dateLayout, "date-layout", cfg.DateLayout, "Go layout for date cells")
	flag.StringVar(&opts.currency, "currency", cfg.CurrencySymbol, "currency symbol for printed totals")
	flag.Parse()

	if err := run(context.Background(), opts, cfg.GoogleSpreadsheetID, os.Stdout, logger); err != nil {
		logger.Error("Batch rollup failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, spreadsheetID string, stdout io.Writer, logger *log.Logger) error {
	if opts.summary == "" && opts.summaryRange == "" {
		return services.ErrNoSummary
	}

	store := memory.New(memory.DefaultTTL)
	svc := services.NewReconcileService(store,
		services.WithDateLayout(opts.dateLayout),
		services.WithLogger(logger),
	)

	var remote *gsheet.Client
	if opts.summaryRange != "" || opts.detailRange != "" {
		if spreadsheetID == "" {
			return errors.New("ranges need GOOGLE_SPREADSHEET_ID")
		}
		c, err := gsheet.NewFromEnv(ctx, spreadsheetID)
		if err != nil {
			return fmt.Errorf("google sheets client: %w", err)
		}
		remote = c
	}

	load := func(ctx context.Context, kind core.LedgerKind, path, rng string) error {
		switch {
		case rng != "":
			rows, err := remote.ReadLedger(ctx, rng)
			if err != nil {
				return fmt.Errorf("read %s from %s: %w", kind.Label(), rng, err)
			}
			return store.SaveLedger(ctx, batchSession, core.Ledger{Kind: kind, Filename: rng, Rows: rows, LoadedAt: time.Now()})
		case path != "":
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", kind.Label(), err)
			}
			defer f.Close()
			_, err = svc.LoadLedger(ctx, batchSession, kind, filepath.Base(path), f)
			return err
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return load(gctx, core.SummaryLedger, opts.summary, opts.summaryRange) })
	g.Go(func() error { return load(gctx, core.DetailLedger, opts.detail, opts.detailRange) })
	if err := g.Wait(); err != nil {
		return err
	}

	run, err := svc.Process(ctx, batchSession, func(st aggregate.Stage) {
		fmt.Fprintf(stdout, "[%3d%%] %s\n", st.Percent(), st.String())
	})
	if err != nil {
		return err
	}

	if err := writeOutput(ctx, svc, run.ID, opts.out); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "rows:        %d\n", len(run.Rows))
	fmt.Fprintf(stdout, "consumption: %s\n", core.FormatCurrency(opts.currency, run.Totals.Consumption))
	fmt.Fprintf(stdout, "deposit:     %s\n", core.FormatCurrency(opts.currency, run.Totals.Deposit))
	fmt.Fprintf(stdout, "settlement:  %s\n", core.FormatCurrency(opts.currency, run.Totals.Settlement))
	if !run.HasDetail {
		fmt.Fprintln(stdout, "no detail ledger: balance rows omitted")
	}
	fmt.Fprintf(stdout, "written:     %s\n", opts.out)
	return nil
}

// writeOutput exports the run next to the target and renames it into place.
func writeOutput(ctx context.Context, svc *services.ReconcileService, runID, out string) error {
	if !strings.EqualFold(filepath.Ext(out), ".xlsx") {
		return fmt.Errorf("output %q must be an .xlsx file", out)
	}
	dir := filepath.Dir(out)
	tmp, err := os.CreateTemp(dir, ".rollup-*.xlsx")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := svc.Export(ctx, batchSession, runID, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
