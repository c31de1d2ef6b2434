package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/yegors/livemap/pkg/logger"
)

// Source is one remote dataset and its local copy
type Source struct {
	Kind       Kind
	URL        string
	Path       string
	Decompress bool
}

// Result describes the outcome of a conditional fetch
type Result struct {
	Updated      bool
	ETag         string
	LastModified time.Time
}

// Downloader fetches a dataset only when the server copy differs from the local one
type Downloader struct {
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time
}

// NewDownloader creates a downloader with the given request timeout
func NewDownloader(timeout time.Duration, log *logger.Logger) *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("dataset-downloader"),
		now:        time.Now,
	}
}

// FetchIfNewer checks the server headers and downloads the dataset when the local file is
// missing, older than Last-Modified, or the ETag differs from the one seen last time.
// The returned ETag should be passed back on the next call.
func (d *Downloader) FetchIfNewer(ctx context.Context, src Source, etag string) (Result, error) {
	head, err := d.head(ctx, src.URL)
	if err != nil {
		return Result{ETag: etag}, err
	}

	result := Result{ETag: head.Header.Get("ETag")}
	if lm := head.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}

	if !d.shouldDownload(src, etag, result) {
		d.logger.Debug("Local dataset is current",
			logger.String("dataset", string(src.Kind)),
			logger.String("path", src.Path))
		return result, nil
	}

	if err := d.download(ctx, src); err != nil {
		return Result{ETag: etag}, err
	}

	stamp := result.LastModified
	if stamp.IsZero() {
		stamp = d.now()
	}
	if err := os.Chtimes(src.Path, stamp, stamp); err != nil {
		d.logger.Warn("Failed to stamp dataset time",
			logger.String("path", src.Path),
			logger.Error(err))
	}

	result.Updated = true
	d.logger.Info("Downloaded dataset",
		logger.String("dataset", string(src.Kind)),
		logger.String("path", src.Path),
		logger.String("etag", result.ETag))
	return result, nil
}

func (d *Downloader) shouldDownload(src Source, etag string, remote Result) bool {
	info, err := os.Stat(src.Path)
	if err != nil {
		d.logger.Info("Local dataset not found, download scheduled",
			logger.String("dataset", string(src.Kind)),
			logger.String("path", src.Path))
		return true
	}
	if !remote.LastModified.IsZero() && remote.LastModified.After(info.ModTime()) {
		return true
	}
	return remote.ETag != "" && remote.ETag != etag
}

func (d *Downloader) head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error checking dataset headers: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status code checking %s: %d", url, resp.StatusCode)
	}
	return resp, nil
}

// download streams the body into a temporary file next to the target and renames it
// into place, so readers never see a partial file
func (d *Downloader) download(ctx context.Context, src Source) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code downloading %s: %d", src.URL, resp.StatusCode)
	}

	dir := filepath.Dir(src.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var body io.Reader = resp.Body
	if src.Decompress {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("dataset %s is not gzip: %w", src.Kind, err)
		}
		defer zr.Close()
		body = zr
	}

	if _, err = io.Copy(tmp, body); err != nil {
		return fmt.Errorf("error writing dataset %s: %w", src.Kind, err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), src.Path)
}
