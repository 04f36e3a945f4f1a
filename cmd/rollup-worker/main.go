package main

import (
	"context"
	"errors"
	"os"
	"time"

	"rollup/internal/amqp"
	"rollup/internal/cli"
	"rollup/internal/config"
	"rollup/internal/log"
	"rollup/internal/sheets"
	gsheet "rollup/internal/sheets/google"
	"rollup/internal/sheets/xlsx"
	"rollup/internal/storage"
	"rollup/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger, func(c *config.Config) error {
		return errors.Join(c.Validate(), c.ValidateWorker())
	})

	logger.Info("Starting rollup-worker", log.FieldOperation, log.OpStartup)

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var writer sheets.RunWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(context.Background(), cfg.GoogleSpreadsheetID)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleResultSheet)
	}
	if cfg.ExportDir != "" {
		logger.Info("File export enabled", "dir", cfg.ExportDir)
	}

	exporter := worker.NewExportWorker(repo, worker.Config{
		Sheets:    writer,
		SheetName: cfg.GoogleResultSheet,
		Encoder:   xlsx.New(cfg.DateLayout),
		ExportDir: cfg.ExportDir,
		BatchSize: cfg.ExportBatchSize,
	})

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Runs stored while the worker was down never got a message.
	if n, err := exporter.ProcessPending(ctx); err != nil {
		logger.Error("Startup export check failed", log.FieldError, err)
	} else if n > 0 {
		logger.Info("Startup export check exported runs", "count", n)
	}

	go func() {
		if err := amqpClient.ConsumeRollupCompleted(ctx, exporter.HandleRollupCompleted); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := exporter.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Periodic export sweep failed", log.FieldError, err)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
