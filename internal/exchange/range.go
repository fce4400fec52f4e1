package exchange

import (
	"context"
	"log/slog"
	"time"
)

// DateResult is the outcome of one calendar day within a batch. Failed
// and skipped days are recorded explicitly instead of being inferred
// from gaps in a success list.
type DateResult struct {
	Date    time.Time
	Path    string
	Err     error
	Skipped bool
}

// OK reports whether the date produced a final artifact.
func (r DateResult) OK() bool {
	return !r.Skipped && r.Err == nil
}

// Paths returns the final artifact paths of the successful dates, in
// batch order.
func Paths(results []DateResult) []string {
	var paths []string
	for _, r := range results {
		if r.OK() {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// FetchRange runs the per-date pipeline for every day between startStr
// and endStr inclusive, both in ddMMMyyyy form. Weekends are skipped,
// failures are logged and recorded without halting the batch. The
// returned error is non-nil only for malformed bounds or a cancelled
// context; per-date failures live in the results.
func (p *Pipeline) FetchRange(ctx context.Context, startStr, endStr string) ([]DateResult, error) {
	start, err := ParseTradingDate(startStr)
	if err != nil {
		return nil, err
	}
	end, err := ParseTradingDate(endStr)
	if err != nil {
		return nil, err
	}

	var results []DateResult
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if IsWeekend(d) {
			p.logger.InfoContext(ctx, "Skipping weekend",
				slog.String("exchange", p.exchange.Name()),
				slog.String("date", d.Format("Monday 02-Jan-2006")))
			results = append(results, DateResult{Date: d, Skipped: true})
			continue
		}

		path, err := p.FetchDate(ctx, d)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to fetch bhavcopy",
				slog.String("exchange", p.exchange.Name()),
				slog.String("date", d.Format("2006-01-02")),
				slog.String("error", err.Error()))
			results = append(results, DateResult{Date: d, Err: err})
			continue
		}
		results = append(results, DateResult{Date: d, Path: path})
	}

	p.logger.InfoContext(ctx, "Batch completed",
		slog.String("exchange", p.exchange.Name()),
		slog.Int("days", len(results)),
		slog.Int("downloaded", len(Paths(results))))

	return results, nil
}
