package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/newpennine/orderextract/internal/app"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/core"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file       = flag.String("file", "", "order PDF to extract (required)")
		audit      = flag.Bool("audit", false, "print an audit alongside the result")
		noValidate = flag.Bool("no-validate", false, "skip catalog validation of product codes")
		pretty     = flag.Bool("pretty", true, "indent the JSON output")
	)
	flag.Parse()

	if *file == "" {
		printError("Error: --file is required\n")
		os.Exit(1)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("read input file", "file", *file, "error", err)
		os.Exit(1)
	}

	pipeline, err := app.Build(ctx, cfg, logger, app.Options{SkipValidation: *noValidate})
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	res := pipeline.Orchestrator.Extract(ctx, filepath.Base(*file), raw)

	out := any(res)
	if *audit {
		out = struct {
			Result *core.Result `json:"result"`
			Audit  core.Audit   `json:"audit"`
		}{res, core.AuditResult(res)}
	}
	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		logger.Error("encode result", "error", err)
		os.Exit(1)
	}
	if !res.Success {
		os.Exit(1)
	}
}
