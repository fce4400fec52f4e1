package exchange

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"bhavcli/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nseOrigin simulates the NSE site: the homepage hands out a session
// cookie, the archive endpoint serves single-entry zips to sessions and
// an HTML error page for unknown dates.
type nseOrigin struct {
	srv           *httptest.Server
	bootstrapHits atomic.Int64
	archives      map[string][]byte // zip path -> archive bytes
}

func newNSEOrigin(t *testing.T, available map[string][]byte) *nseOrigin {
	t.Helper()

	// Archives are assembled up front so handlers never touch t.
	o := &nseOrigin{archives: make(map[string][]byte)}
	for yyyymmdd, csvContent := range available {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		entry, err := zw.Create(fmt.Sprintf("BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv", yyyymmdd))
		require.NoError(t, err)
		_, err = entry.Write(csvContent)
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		zipPath := fmt.Sprintf("/content/cm/BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv.zip", yyyymmdd)
		o.archives[zipPath] = buf.Bytes()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		o.bootstrapHits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "nseappid", Value: "session-token", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body>NSE</body></html>")
	})

	mux.HandleFunc("/content/cm/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("nseappid"); err != nil || c.Value != "session-token" {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html><body>Access Denied</body></html>")
			return
		}

		if archive, ok := o.archives[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/zip")
			w.Write(archive)
			return
		}

		// The origin serves an HTML error page, not a 404.
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body>File not found</body></html>")
	})

	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

func (o *nseOrigin) nseConfig(outDir string) config.NSEConfig {
	return config.NSEConfig{
		BaseURL:   o.srv.URL,
		HomeURL:   o.srv.URL + "/",
		OutputDir: outDir,
	}
}

func TestNSEReportURL(t *testing.T) {
	nse, err := NewNSE(config.NSEConfig{
		BaseURL: "https://nsearchives.nseindia.com",
		HomeURL: "https://www.nseindia.com",
	}, testHTTPConfig(), filepath.Join(t.TempDir(), "nse_cookies.json"), nil)
	require.NoError(t, err)

	date, err := ParseTradingDate("05AUG2024")
	require.NoError(t, err)

	assert.Equal(t,
		"https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_20240805_F_0000.csv.zip",
		nse.ReportURL(date))
}

func TestNSEFetch(t *testing.T) {
	csvBody := []byte("TradDt,TckrSymb,ClsPric\n2024-08-05,ACME,103.2\n")

	t.Run("success extracts and renames", func(t *testing.T) {
		origin := newNSEOrigin(t, map[string][]byte{"20240805": csvBody})
		outDir := t.TempDir()
		cookiePath := filepath.Join(t.TempDir(), "nse_cookies.json")

		nse, err := NewNSE(origin.nseConfig(outDir), testHTTPConfig(), cookiePath, nil)
		require.NoError(t, err)

		date, _ := ParseTradingDate("05AUG2024")
		path, err := nse.Fetch(context.Background(), date, outDir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "20240805.csv"), path)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, csvBody, got)

		// The archive and raw entry are cleaned away.
		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "20240805.csv", entries[0].Name())

		// Bootstrap persisted the cookie jar.
		assert.FileExists(t, cookiePath)
	})

	t.Run("html response is a not found error and writes nothing", func(t *testing.T) {
		origin := newNSEOrigin(t, nil)
		outDir := t.TempDir()
		cookiePath := filepath.Join(t.TempDir(), "nse_cookies.json")

		nse, err := NewNSE(origin.nseConfig(outDir), testHTTPConfig(), cookiePath, nil)
		require.NoError(t, err)

		date, _ := ParseTradingDate("05AUG2024")
		_, err = nse.Fetch(context.Background(), date, outDir)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))

		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unreachable origin propagates bootstrap failure", func(t *testing.T) {
		origin := newNSEOrigin(t, nil)
		cfg := origin.nseConfig(t.TempDir())
		origin.srv.Close()

		nse, err := NewNSE(cfg, testHTTPConfig(), filepath.Join(t.TempDir(), "nse_cookies.json"), nil)
		require.NoError(t, err)

		date, _ := ParseTradingDate("05AUG2024")
		_, err = nse.Fetch(context.Background(), date, cfg.OutputDir)
		require.Error(t, err)
		assert.Equal(t, KindNetwork, KindOf(err))
	})
}

func TestNSECookiePersistence(t *testing.T) {
	csvBody := []byte("TradDt,TckrSymb\n2024-08-05,ACME\n")
	origin := newNSEOrigin(t, map[string][]byte{"20240805": csvBody, "20240806": csvBody})
	cookiePath := filepath.Join(t.TempDir(), "nse_cookies.json")

	date1, _ := ParseTradingDate("05AUG2024")
	date2, _ := ParseTradingDate("06AUG2024")

	// First run with no persisted file bootstraps once.
	outDir1 := t.TempDir()
	nse1, err := NewNSE(origin.nseConfig(outDir1), testHTTPConfig(), cookiePath, nil)
	require.NoError(t, err)
	_, err = nse1.Fetch(context.Background(), date1, outDir1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, origin.bootstrapHits.Load())

	// A second date on the same session does not bootstrap again.
	_, err = nse1.Fetch(context.Background(), date2, outDir1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, origin.bootstrapHits.Load())

	// A fresh invocation reuses the persisted jar without a bootstrap call.
	outDir2 := t.TempDir()
	nse2, err := NewNSE(origin.nseConfig(outDir2), testHTTPConfig(), cookiePath, nil)
	require.NoError(t, err)
	_, err = nse2.Fetch(context.Background(), date1, outDir2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, origin.bootstrapHits.Load())
}

func TestNSEPipelineFetchDate(t *testing.T) {
	csvBody := []byte("TradDt,TckrSymb,ClsPric\n2024-08-05,ACME,103.2\n")

	t.Run("success produces only the compressed artifact", func(t *testing.T) {
		origin := newNSEOrigin(t, map[string][]byte{"20240805": csvBody})
		outDir := t.TempDir()

		nse, err := NewNSE(origin.nseConfig(outDir), testHTTPConfig(),
			filepath.Join(t.TempDir(), "nse_cookies.json"), nil)
		require.NoError(t, err)
		pipeline := NewPipeline(nse, outDir, nil)

		date, _ := ParseTradingDate("05AUG2024")
		gzPath, err := pipeline.FetchDate(context.Background(), date)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "20240805.csv.gz"), gzPath)

		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "20240805.csv.gz", entries[0].Name())

		f, err := os.Open(gzPath)
		require.NoError(t, err)
		defer f.Close()
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		decompressed, err := io.ReadAll(gz)
		require.NoError(t, err)
		assert.Equal(t, csvBody, decompressed)
	})

	t.Run("html response leaves no artifact at the final path", func(t *testing.T) {
		origin := newNSEOrigin(t, nil)
		outDir := t.TempDir()

		nse, err := NewNSE(origin.nseConfig(outDir), testHTTPConfig(),
			filepath.Join(t.TempDir(), "nse_cookies.json"), nil)
		require.NoError(t, err)
		pipeline := NewPipeline(nse, outDir, nil)

		date, _ := ParseTradingDate("05AUG2024")
		_, err = pipeline.FetchDate(context.Background(), date)
		require.Error(t, err)

		assert.NoFileExists(t, filepath.Join(outDir, "20240805.csv.gz"))
		assert.NoFileExists(t, filepath.Join(outDir, "20240805.csv"))
	})
}
