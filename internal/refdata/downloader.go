package refdata

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"nonprofitvet/internal/logging"
)

// Downloader fetches the three raw source documents this store indexes.
// The production implementation hits the real IRS/OFAC endpoints; tests
// and offline callers substitute a stub.
type Downloader interface {
	DownloadIRSRevocationZIP(ctx context.Context) (io.ReadCloser, error)
	DownloadOFACPrimaryCSV(ctx context.Context) (io.ReadCloser, error)
	DownloadOFACAltCSV(ctx context.Context) (io.ReadCloser, error)
}

// HTTPDownloader is the production Downloader, retrying transient failures
// with exponential backoff the same way the GivingTuesday filing client
// does (spec §4.5's retry policy applied here too, per §4.2's "on download
// failure ... otherwise surface a fatal error").
type HTTPDownloader struct {
	Client              *http.Client
	IRSRevocationZIPURL string
	OFACPrimaryCSVURL   string
	OFACAltCSVURL       string
	MaxRetries          int
	InitialBackoff      time.Duration
}

// NewHTTPDownloader builds an HTTPDownloader with a 120-second client
// timeout, per spec §5 ("120s for bulk CSV").
func NewHTTPDownloader(irsURL, ofacPrimaryURL, ofacAltURL string, maxRetries int, initialBackoff time.Duration) *HTTPDownloader {
	return &HTTPDownloader{
		Client:              &http.Client{Timeout: 120 * time.Second},
		IRSRevocationZIPURL: irsURL,
		OFACPrimaryCSVURL:   ofacPrimaryURL,
		OFACAltCSVURL:       ofacAltURL,
		MaxRetries:          maxRetries,
		InitialBackoff:      initialBackoff,
	}
}

func (d *HTTPDownloader) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := d.Client.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("refdata: transient status %d fetching %s", resp.StatusCode, url)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("refdata: status %d fetching %s", resp.StatusCode, url))
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.InitialBackoff
	bounded := backoff.WithMaxRetries(bo, uint64(d.MaxRetries))

	if err := backoff.Retry(op, bounded); err != nil {
		return nil, err
	}
	return body, nil
}

// DownloadIRSRevocationZIP fetches the revocation ZIP and returns the
// decompressed pipe-delimited CSV member inside it.
func (d *HTTPDownloader) DownloadIRSRevocationZIP(ctx context.Context) (io.ReadCloser, error) {
	raw, err := d.fetch(ctx, d.IRSRevocationZIPURL)
	if err != nil {
		return nil, fmt.Errorf("refdata: download IRS revocation zip: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("refdata: open revocation zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("refdata: open zip member %s: %w", f.Name, err)
		}
		logging.Debugf(logging.CategoryRefData, "extracting revocation member %s", f.Name)
		return rc, nil
	}
	return nil, fmt.Errorf("refdata: revocation zip has no members")
}

// DownloadOFACPrimaryCSV fetches the OFAC SDN primary-name CSV.
func (d *HTTPDownloader) DownloadOFACPrimaryCSV(ctx context.Context) (io.ReadCloser, error) {
	raw, err := d.fetch(ctx, d.OFACPrimaryCSVURL)
	if err != nil {
		return nil, fmt.Errorf("refdata: download OFAC primary csv: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// DownloadOFACAltCSV fetches the OFAC alternate-name CSV.
func (d *HTTPDownloader) DownloadOFACAltCSV(ctx context.Context) (io.ReadCloser, error) {
	raw, err := d.fetch(ctx, d.OFACAltCSVURL)
	if err != nil {
		return nil, fmt.Errorf("refdata: download OFAC alt csv: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}
