package exchange

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"

	"bhavcli/internal/config"
)

// requestHeaders are the fixed headers sent on every request to either
// exchange. The referer matters: NSE's bot-detection layer rejects
// requests without one.
type requestHeaders struct {
	userAgent string
	referer   string
}

func newRequestHeaders(cfg config.HTTPConfig) requestHeaders {
	return requestHeaders{
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
	}
}

func (h requestHeaders) apply(req *http.Request) {
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Referer", h.referer)
}

func newHTTPClient(cfg config.HTTPConfig, jar http.CookieJar) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		Jar:     jar,
	}
}

// decodedBody returns a reader over the response body with any gzip or
// deflate content encoding removed. Setting Accept-Encoding explicitly
// disables net/http's transparent decompression, so every encoding the
// headers advertise has to be undone here before bytes reach disk.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &decodedReadCloser{decoded: gz, underlying: resp.Body}, nil
	case "deflate":
		return deflateBody(resp.Body)
	default:
		return resp.Body, nil
	}
}

// deflateBody undoes deflate content encoding. Per RFC 7230 the payload
// is a zlib stream, but some origins send raw flate; the first bytes
// decide which reader to use, matching what permissive HTTP clients do.
func deflateBody(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)

	header, err := br.Peek(2)
	if err != nil {
		return nil, err
	}

	// A zlib stream starts with a CMF byte declaring deflate (low
	// nibble 8) and a flag byte making CMF<<8|FLG a multiple of 31.
	if header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &decodedReadCloser{decoded: zr, underlying: body}, nil
	}

	return &decodedReadCloser{decoded: flate.NewReader(br), underlying: body}, nil
}

type decodedReadCloser struct {
	decoded    io.ReadCloser
	underlying io.ReadCloser
}

func (b *decodedReadCloser) Read(p []byte) (int, error) {
	return b.decoded.Read(p)
}

func (b *decodedReadCloser) Close() error {
	if err := b.decoded.Close(); err != nil {
		b.underlying.Close()
		return err
	}
	return b.underlying.Close()
}
