// Package exchange implements the per-date bhavcopy retrieval pipelines
// for the BSE and NSE exchanges and the date-range driver over them.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"bhavcli/internal/files"
)

// DateLayout is the trading-date input format (e.g. 05AUG2024).
const DateLayout = "02Jan2006"

// ParseTradingDate parses a date string in ddMMMyyyy form. Month names
// are matched case-insensitively, so 05AUG2024 and 05Aug2024 are both
// accepted.
func ParseTradingDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &FetchError{
			Kind:    KindDateParse,
			Message: fmt.Sprintf("invalid trading date %q, expected ddMMMyyyy", s),
			Cause:   err,
		}
	}
	return t, nil
}

// IsWeekend reports whether the date falls on a Saturday or Sunday.
// Weekends are the only days filtered out; exchange holidays are still
// attempted and fail as not_found.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Exchange is a single exchange's retrieval capability set. Fetch
// downloads the bhavcopy for a date into outDir and returns the path of
// the uncompressed CSV named per the exchange's convention.
type Exchange interface {
	Name() string
	ReportURL(date time.Time) string
	Fetch(ctx context.Context, date time.Time, outDir string) (string, error)
}

// Pipeline runs the per-date steps for one exchange: fetch, then
// gzip-compress the canonical CSV in place.
type Pipeline struct {
	exchange Exchange
	outDir   string
	logger   *slog.Logger
}

// NewPipeline creates a pipeline writing final artifacts into outDir.
func NewPipeline(ex Exchange, outDir string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		exchange: ex,
		outDir:   outDir,
		logger:   logger,
	}
}

// FetchDate retrieves and compresses the bhavcopy for a single date.
// It returns the path of the final .csv.gz artifact. The uncompressed
// intermediate never survives: it is either compressed away on success
// or absent on failure.
func (p *Pipeline) FetchDate(ctx context.Context, date time.Time) (string, error) {
	if err := os.MkdirAll(p.outDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", p.outDir, err)
	}

	p.logger.InfoContext(ctx, "Fetching bhavcopy",
		slog.String("exchange", p.exchange.Name()),
		slog.String("date", date.Format("2006-01-02")),
		slog.String("url", p.exchange.ReportURL(date)))

	csvPath, err := p.exchange.Fetch(ctx, date, p.outDir)
	if err != nil {
		return "", err
	}

	gzPath, err := files.Compress(csvPath)
	if err != nil {
		return "", &FetchError{
			Kind:     KindCompress,
			Exchange: p.exchange.Name(),
			Date:     date,
			Message:  "compression failed",
			Cause:    err,
		}
	}

	p.logger.InfoContext(ctx, "Bhavcopy stored",
		slog.String("exchange", p.exchange.Name()),
		slog.String("date", date.Format("2006-01-02")),
		slog.String("path", gzPath))

	return gzPath, nil
}
