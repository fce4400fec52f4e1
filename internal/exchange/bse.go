package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bhavcli/internal/config"
)

// BSE retrieves equity bhavcopy files from the BSE archive. The origin
// serves plain CSV; a non-200 status is its not-found signal.
type BSE struct {
	baseURL string
	client  *http.Client
	headers requestHeaders
}

// NewBSE creates the BSE pipeline exchange.
func NewBSE(cfg config.BSEConfig, httpCfg config.HTTPConfig) *BSE {
	return &BSE{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(httpCfg, nil),
		headers: newRequestHeaders(httpCfg),
	}
}

// Name returns the exchange identifier.
func (b *BSE) Name() string { return "BSE" }

// ReportURL returns the archive URL for the given date's bhavcopy.
func (b *BSE) ReportURL(date time.Time) string {
	return fmt.Sprintf("%s/download/BhavCopy/Equity/BhavCopy_BSE_CM_0_0_0_%s_F_0000.CSV",
		b.baseURL, date.Format("20060102"))
}

// Fetch downloads the date's CSV into outDir under the canonical
// DDMMMYYYY.csv name and returns its path.
func (b *BSE) Fetch(ctx context.Context, date time.Time, outDir string) (string, error) {
	url := b.ReportURL(date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	b.headers.apply(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", &FetchError{
			Kind:     KindNetwork,
			Exchange: b.Name(),
			Date:     date,
			URL:      url,
			Message:  "download failed",
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{
			Kind:     KindNotFound,
			Exchange: b.Name(),
			Date:     date,
			URL:      url,
			Message:  fmt.Sprintf("bhavcopy not available, HTTP %d", resp.StatusCode),
		}
	}

	body, err := decodedBody(resp)
	if err != nil {
		return "", &FetchError{
			Kind:     KindNetwork,
			Exchange: b.Name(),
			Date:     date,
			URL:      url,
			Message:  "decode response body",
			Cause:    err,
		}
	}
	defer body.Close()

	destPath := filepath.Join(outDir, strings.ToUpper(date.Format(DateLayout))+".csv")
	if err := writeBody(body, destPath); err != nil {
		return "", &FetchError{
			Kind:     KindNetwork,
			Exchange: b.Name(),
			Date:     date,
			URL:      url,
			Message:  "write response body",
			Cause:    err,
		}
	}

	return destPath, nil
}

func writeBody(body io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}

	return out.Close()
}
