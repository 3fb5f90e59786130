package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/newpennine/orderextract/internal/app"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/export"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of order PDFs to process (required)")
		out        = flag.String("out", "", "output XLSX path (defaults to <dir>/../orders.xlsx)")
		report     = flag.String("report", "", "optional markdown report path")
		limit      = flag.Int("limit", 0, "stop after this many documents (0 = all)")
		noValidate = flag.Bool("no-validate", false, "skip catalog validation of product codes")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "orders.xlsx")
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	pipeline, err := app.Build(ctx, cfg, logger, app.Options{SkipValidation: *noValidate})
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	files, err := collectPDFs(*dir, *limit)
	if err != nil {
		logger.Error("scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		printError("No PDF files found under %s\n", *dir)
		os.Exit(1)
	}
	logger.Info("batch.start", "dir", *dir, "documents", len(files))

	start := time.Now()
	items := make([]export.BatchItem, 0, len(files))
	succeeded := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Error("batch.read_failed", "file", path, "error", err)
			items = append(items, export.BatchItem{Filename: filepath.Base(path)})
			continue
		}
		res := pipeline.Orchestrator.Extract(ctx, filepath.Base(path), raw)
		if res.Success {
			succeeded++
		}
		items = append(items, export.BatchItem{Filename: filepath.Base(path), Result: res})
	}

	xlsx, err := export.NewService(logger).ExportBatchXLSX(items)
	if err != nil {
		logger.Error("batch.export_failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("batch.write_failed", "out", *out, "error", err)
		os.Exit(1)
	}

	if *report != "" {
		md := pipeline.Monitor.Report(time.Since(start) + time.Minute)
		if err := os.WriteFile(*report, []byte(md), 0o644); err != nil {
			logger.Error("batch.report_failed", "report", *report, "error", err)
		}
	}

	health := pipeline.Monitor.Health()
	logger.Info("batch.done",
		"documents", len(files),
		"succeeded", succeeded,
		"failed", len(files)-succeeded,
		"health", health.Status,
		"out", *out,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if succeeded == 0 {
		os.Exit(1)
	}
}

// collectPDFs walks dir for PDF files, sorted by path, honoring the limit.
func collectPDFs(dir string, limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
			if limit > 0 && len(files) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	return files, err
}
