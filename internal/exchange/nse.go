package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bhavcli/internal/config"
	"bhavcli/internal/files"
)

// NSE retrieves equity bhavcopy files from the NSE archive. The origin
// publishes single-entry zip archives and sits behind a bot-detection
// layer that requires session cookies obtained from the public
// homepage. A "not found" condition is signalled by an HTML error page
// rather than a status code.
type NSE struct {
	baseURL    string
	homeURL    string
	cookiePath string
	client     *http.Client
	headers    requestHeaders
	logger     *slog.Logger
}

// NewNSE creates the NSE pipeline exchange. cookiePath is where the
// session cookies are persisted between runs.
func NewNSE(cfg config.NSEConfig, httpCfg config.HTTPConfig, cookiePath string, logger *slog.Logger) (*NSE, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NSE{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		homeURL:    cfg.HomeURL,
		cookiePath: cookiePath,
		client:     newHTTPClient(httpCfg, jar),
		headers:    newRequestHeaders(httpCfg),
		logger:     logger,
	}, nil
}

// Name returns the exchange identifier.
func (n *NSE) Name() string { return "NSE" }

// ReportURL returns the archive URL for the given date's zipped
// bhavcopy.
func (n *NSE) ReportURL(date time.Time) string {
	return fmt.Sprintf("%s/content/cm/BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv.zip",
		n.baseURL, date.Format("20060102"))
}

// Fetch downloads and extracts the date's bhavcopy into outDir under
// the canonical YYYYMMDD.csv name and returns its path.
func (n *NSE) Fetch(ctx context.Context, date time.Time, outDir string) (string, error) {
	if err := n.ensureCookies(ctx); err != nil {
		return "", err
	}

	url := n.ReportURL(date)
	zipPath := filepath.Join(outDir, filepath.Base(url))
	if err := n.download(ctx, date, url, zipPath); err != nil {
		return "", err
	}

	extracted, err := files.ExtractZip(zipPath, outDir)
	if err != nil {
		os.Remove(zipPath)
		return "", &FetchError{
			Kind:     KindExtract,
			Exchange: n.Name(),
			Date:     date,
			URL:      url,
			Message:  "archive extraction failed",
			Cause:    err,
		}
	}

	finalPath := filepath.Join(outDir, date.Format("20060102")+".csv")
	if err := os.Rename(extracted, finalPath); err != nil {
		return "", fmt.Errorf("rename %s to %s: %w", extracted, finalPath, err)
	}

	return finalPath, nil
}

// download streams the response to zipPath in 1 MiB chunks. An HTML
// content type means the origin served its error page instead of the
// archive; nothing is written to disk in that case.
func (n *NSE) download(ctx context.Context, date time.Time, url, zipPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	n.headers.apply(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return &FetchError{
			Kind:     KindNetwork,
			Exchange: n.Name(),
			Date:     date,
			URL:      url,
			Message:  "download failed",
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return &FetchError{
			Kind:     KindNotFound,
			Exchange: n.Name(),
			Date:     date,
			URL:      url,
			Message:  "bhavcopy not available or invalid URL",
		}
	}

	body, err := decodedBody(resp)
	if err != nil {
		return &FetchError{
			Kind:     KindNetwork,
			Exchange: n.Name(),
			Date:     date,
			URL:      url,
			Message:  "decode response body",
			Cause:    err,
		}
	}
	defer body.Close()

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", zipPath, err)
	}

	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(out, body, buf); err != nil {
		out.Close()
		os.Remove(zipPath)
		return &FetchError{
			Kind:     KindNetwork,
			Exchange: n.Name(),
			Date:     date,
			URL:      url,
			Message:  "write response body",
			Cause:    err,
		}
	}

	return out.Close()
}

// storedCookie is the persisted form of a session cookie. JSON keeps
// the file portable, unlike a language-specific serialization.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// ensureCookies makes the client's jar carry valid session cookies
// before any download: loaded from the persisted file when present,
// otherwise bootstrapped with a GET against the homepage and persisted.
// The persisted jar is reused indefinitely and never refreshed.
func (n *NSE) ensureCookies(ctx context.Context) error {
	home, err := url.Parse(n.homeURL)
	if err != nil {
		return fmt.Errorf("parse home URL %s: %w", n.homeURL, err)
	}

	if files.Exists(n.cookiePath) {
		cookies, err := n.loadCookies()
		if err != nil {
			return fmt.Errorf("load cookies from %s: %w", n.cookiePath, err)
		}
		n.client.Jar.SetCookies(home, cookies)

		n.logger.DebugContext(ctx, "Loaded persisted session cookies",
			slog.String("path", n.cookiePath),
			slog.Int("count", len(cookies)))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.homeURL, nil)
	if err != nil {
		return fmt.Errorf("build bootstrap request: %w", err)
	}
	n.headers.apply(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return &FetchError{
			Kind:     KindNetwork,
			Exchange: n.Name(),
			URL:      n.homeURL,
			Message:  "cookie bootstrap failed",
			Cause:    err,
		}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	cookies := resp.Cookies()
	if err := n.saveCookies(cookies); err != nil {
		return fmt.Errorf("persist cookies to %s: %w", n.cookiePath, err)
	}
	n.client.Jar.SetCookies(home, cookies)

	n.logger.InfoContext(ctx, "Bootstrapped session cookies",
		slog.String("path", n.cookiePath),
		slog.Int("count", len(cookies)))
	return nil
}

func (n *NSE) loadCookies() ([]*http.Cookie, error) {
	data, err := os.ReadFile(n.cookiePath)
	if err != nil {
		return nil, err
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return cookies, nil
}

func (n *NSE) saveCookies(cookies []*http.Cookie) error {
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(n.cookiePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(n.cookiePath, data, 0600)
}
