package tools

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; jobfit-ai/1.0)"
	acceptEncoding   = "gzip"
	maxBodyBytes     = 2 << 20
)

// httpFetcher performs requests with the common headers and decodes gzip bodies.
type httpFetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

func newHTTPFetcher(client *http.Client, logger *zap.Logger) *httpFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpFetcher{client: client, userAgent: defaultUserAgent, logger: logger}
}

// do sends req and returns the decoded body. Non-200 responses are errors.
func (f *httpFetcher) do(req *http.Request) ([]byte, string, error) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	f.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, "", err
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bad status: %s", resp.Status)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
