package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skyquery/skyquery/internal/batch"
	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/captcha"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/export"
	"github.com/skyquery/skyquery/internal/flight"
	"github.com/skyquery/skyquery/internal/input"
	"github.com/skyquery/skyquery/internal/legs"
	"github.com/skyquery/skyquery/internal/pipeline"
	"github.com/skyquery/skyquery/internal/recognize"
	"github.com/skyquery/skyquery/internal/store"
	"github.com/skyquery/skyquery/internal/watch"
)

// version is stamped by the build.
var version = "dev"

// exitFatal: the run could not start or finish (config, input, browser).
// A run that completes with per-record failures still exits 0; the report
// carries the failure breakdown.
const exitFatal = 1

func main() {
	root := &cobra.Command{
		Use:           "skyquery",
		Short:         "Batch flight-status lookups from an Excel sheet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), sampleCmd(), watchCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitFatal)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var (
		inputPath  string
		outputDir  string
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a query workbook and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			cfg, err := common.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Output.Dir = outputDir
			}

			ctx, cancel := signalContext()
			defer cancel()

			result, err := runBatch(ctx, cfg, logger, inputPath)
			if err != nil {
				return err
			}
			if result.Counts.Failed > 0 {
				logger.Warn("run.finished_with_failures", "failed", result.Counts.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "query workbook (.xlsx) with flight numbers and dates")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "report directory (overrides config)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func sampleCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a sample query workbook to fill in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := input.WriteSample(out); err != nil {
				return err
			}
			fmt.Println("sample written to", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "sample_input.xlsx", "sample file path")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		dir        string
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and process each workbook dropped into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			cfg, err := common.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Watch.Dir = dir
			}

			ctx, cancel := signalContext()
			defer cancel()

			watcher := watch.NewWatcher(cfg.Watch, logger)
			events, err := watcher.Start(ctx)
			if err != nil {
				return err
			}
			for path := range events {
				logger.Info("watch.workbook", "path", path)
				if _, err := runBatch(ctx, cfg, logger, path); err != nil {
					logger.Error("watch.run.failed", "path", path, "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to watch (overrides config)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("skyquery", version)
		},
	}
}

// runBatch wires the whole pipeline for one workbook and writes the
// report. The browser lives for the duration of the batch.
func runBatch(ctx context.Context, cfg *common.Config, logger *slog.Logger, inputPath string) (*flight.BatchResult, error) {
	records, rowErrors, err := input.NewLoader(logger).Load(inputPath)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrors {
		logger.Warn("input.bad_row", "row", re.Row, "message", re.Message)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: every row was rejected", inputPath)
	}

	archive, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	session, err := browser.NewChromeSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	recognizer := recognize.NewService(cfg.OCR.ConfidenceThreshold, logger, buildEngines(cfg.OCR)...)

	saveDir := ""
	if cfg.Output.SaveImages {
		saveDir = cfg.Output.Dir
	}
	solver := captcha.NewSolver(session, recognizer, cfg.Website.Selectors, cfg.Retry, saveDir, logger)
	extractor := legs.NewExtractor(session, recognizer, cfg.Website.Selectors, cfg.Retry, logger)
	processor := pipeline.NewProcessor(session, solver, extractor, cfg.Website, cfg.Retry, logger)

	result, runErr := batch.NewOrchestrator(processor, cfg.Retry, logger).Run(ctx, records)

	// Flush whatever was collected even when the run was cancelled.
	reportPath := ""
	if result.Counts.Total > 0 {
		reportPath, err = export.NewWriter(cfg.Output, logger).Write(result)
		if err != nil {
			return nil, err
		}
		if err := archive.SaveRun(context.WithoutCancel(ctx), result, reportPath); err != nil {
			logger.Error("store.save.failed", "error", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// buildEngines maps the configured engine names onto constructors. Unknown
// names are skipped with a warning so a typo degrades instead of aborting.
func buildEngines(cfg common.OCRConfig) []recognize.Engine {
	names := append([]string{cfg.Engine}, cfg.Fallbacks...)
	var engines []recognize.Engine
	for _, name := range names {
		switch name {
		case "tesseract":
			engines = append(engines, recognize.NewTesseract(cfg.Language, cfg.TessdataDir))
		case "tesseract-sparse":
			engines = append(engines, recognize.NewTesseractSparse(cfg.Language, cfg.TessdataDir))
		default:
			slog.Warn("unknown ocr engine", "name", name)
		}
	}
	return engines
}
