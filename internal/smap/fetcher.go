package smap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"soilwatch/internal/types"
)

// HTTPDoer executes a single HTTP request. Satisfied by
// external.BaseClient and *http.Client alike.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenFunc opens a downloaded granule from disk.
type OpenFunc func(path string) (DatasetFile, error)

// FetcherConfig carries the knobs for a Fetcher. Zero values fall back
// to sane defaults in NewFetcher.
type FetcherConfig struct {
	Client        HTTPDoer
	Open          OpenFunc
	SourceURL     string
	ChunkSize     int
	FetchTimeout  time.Duration
	CompositeDate types.Date
	Logger        *slog.Logger
}

// Fetcher downloads a SMAP granule to a temp file, decodes it, and
// returns the resulting records. The temp file is removed on every
// path, success or failure.
type Fetcher struct {
	client        HTTPDoer
	open          OpenFunc
	sourceURL     string
	chunkSize     int
	fetchTimeout  time.Duration
	compositeDate types.Date
	logger        *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	open := cfg.Open
	if open == nil {
		open = OpenHDF5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:        cfg.Client,
		open:          open,
		sourceURL:     cfg.SourceURL,
		chunkSize:     cfg.ChunkSize,
		fetchTimeout:  cfg.FetchTimeout,
		compositeDate: cfg.CompositeDate,
		logger:        logger.With("component", "smap_fetcher"),
	}
}

// Fetch runs one full download-and-decode cycle.
func (f *Fetcher) Fetch(ctx context.Context) ([]types.SoilMoistureRecord, error) {
	runID := uuid.NewString()
	logger := f.logger.With("run_id", runID)

	if f.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.fetchTimeout)
		defer cancel()
	}

	started := time.Now()
	logger.Info("starting granule fetch", "source_url", f.sourceURL)

	path, err := f.download(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Warn("failed to remove temp granule file", "path", path, "error", rmErr)
		}
	}()

	file, err := f.open(path)
	if err != nil {
		return nil, decodeErr(err, map[string]any{"path": path})
	}
	defer file.Close()

	records, err := Decode(ctx, file, f.chunkSize, f.compositeDate)
	if err != nil {
		return nil, err
	}

	logger.Info("granule fetch complete",
		"records", len(records),
		"duration_ms", time.Since(started).Milliseconds())
	return records, nil
}

// download streams the granule body into a temp file and returns its
// path. On error the temp file is already gone.
func (f *Fetcher) download(ctx context.Context, logger *slog.Logger) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return "", downloadErr(err, nil)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", downloadErr(err, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", downloadErr(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, f.sourceURL),
			map[string]any{"status_code": resp.StatusCode})
	}

	body := io.Reader(resp.Body)
	if isGzipURL(f.sourceURL) {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", downloadErr(fmt.Errorf("open gzip stream: %w", err), nil)
		}
		defer gz.Close()
		body = gz
	}

	tmp, err := os.CreateTemp("", "smap-granule-*.h5")
	if err != nil {
		return "", downloadErr(fmt.Errorf("create temp file: %w", err), nil)
	}
	path := tmp.Name()

	written, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", downloadErr(fmt.Errorf("write granule to %s: %w", path, err), nil)
	}

	logger.Info("granule downloaded", "path", path, "bytes", written)
	return path, nil
}

func isGzipURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(raw, ".gz")
	}
	return strings.HasSuffix(u.Path, ".gz")
}

func downloadErr(err error, details map[string]any) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeIngestionDownload, "failed to download granule", err, details)
}
