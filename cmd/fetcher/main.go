package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"bhavcli/internal/config"
	"bhavcli/internal/exchange"
	"bhavcli/internal/infrastructure"
)

func main() {
	exchangeFlag := flag.String("exchange", "both", "exchange to fetch: bse | nse | both")
	fromStr := flag.String("from", "", "start date (ddMMMyyyy, e.g. 01JAN2024)")
	toStr := flag.String("to", "", "end date (ddMMMyyyy); defaults to -from for a single day")
	outDir := flag.String("out", "", "output directory override (defaults per exchange from config)")
	cookieFile := flag.String("cookies", "", "NSE cookie file override")
	flag.Parse()

	if *fromStr == "" {
		fmt.Fprintln(os.Stderr, "Error: -from is required")
		flag.Usage()
		os.Exit(2)
	}
	if *toStr == "" {
		*toStr = *fromStr
	}

	selected, err := selectExchanges(*exchangeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// A local .env can override config before envconfig runs.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, runID := infrastructure.NewRunContext(ctx)

	logger.InfoContext(ctx, "Bhavcopy fetcher starting",
		slog.String("run_id", runID),
		slog.String("exchanges", strings.Join(selected, ",")),
		slog.String("from", *fromStr),
		slog.String("to", *toStr))

	exitCode := 0
	for _, name := range selected {
		pipeline, err := buildPipeline(cfg, name, *outDir, *cookieFile, logger)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to build pipeline",
				slog.String("exchange", name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		results, err := pipeline.FetchRange(ctx, *fromStr, *toStr)
		if err != nil {
			logger.ErrorContext(ctx, "Batch aborted",
				slog.String("exchange", name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		downloaded, failed, skipped := summarize(results)
		logger.InfoContext(ctx, "Batch summary",
			slog.String("exchange", name),
			slog.Int("downloaded", downloaded),
			slog.Int("failed", failed),
			slog.Int("skipped", skipped))

		if failed > 0 {
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

// selectExchanges maps the -exchange flag to the pipeline names to run.
func selectExchanges(name string) ([]string, error) {
	switch strings.ToLower(name) {
	case "bse":
		return []string{"bse"}, nil
	case "nse":
		return []string{"nse"}, nil
	case "both", "":
		return []string{"bse", "nse"}, nil
	default:
		return nil, fmt.Errorf("unknown exchange %q, expected bse, nse or both", name)
	}
}

// buildPipeline constructs the per-exchange pipeline, applying the
// -out and -cookies flag overrides on top of the configuration.
func buildPipeline(cfg *config.Config, name, outOverride, cookieOverride string, logger *slog.Logger) (*exchange.Pipeline, error) {
	switch name {
	case "bse":
		outDir := cfg.BSE.OutputDir
		if outOverride != "" {
			outDir = outOverride
		}
		return exchange.NewPipeline(exchange.NewBSE(cfg.BSE, cfg.HTTP), outDir, logger), nil
	case "nse":
		outDir := cfg.NSE.OutputDir
		if outOverride != "" {
			outDir = outOverride
		}
		cookiePath := cfg.CookieFilePath()
		if cookieOverride != "" {
			cookiePath = cookieOverride
		}
		nse, err := exchange.NewNSE(cfg.NSE, cfg.HTTP, cookiePath, logger)
		if err != nil {
			return nil, err
		}
		return exchange.NewPipeline(nse, outDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}

// summarize counts the per-date outcomes of a batch.
func summarize(results []exchange.DateResult) (downloaded, failed, skipped int) {
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			failed++
		default:
			downloaded++
		}
	}
	return downloaded, failed, skipped
}
