package concordance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"nonprofitvet/internal/logging"
)

// Load returns the Index built from the cached concordance CSV at
// cachePath, downloading it from sourceURL (the public NOPDC project
// concordance, per spec §6) if the cache file is absent. Unlike the CSV
// reference-data store, the concordance is downloaded once and never
// refreshed automatically, schema drift is addressed by a data update to
// the CSV, not a staleness policy (spec §4.4, §9).
func Load(ctx context.Context, cachePath, sourceURL string) (*Index, error) {
	if _, err := os.Stat(cachePath); err != nil {
		if err := download(ctx, cachePath, sourceURL); err != nil {
			return nil, fmt.Errorf("concordance: download %s: %w", sourceURL, err)
		}
	}

	f, err := os.Open(cachePath)
	if err != nil {
		return nil, fmt.Errorf("concordance: open cache %s: %w", cachePath, err)
	}
	defer f.Close()

	idx, err := Build(f)
	if err != nil {
		return nil, err
	}
	logging.Infof(logging.CategoryConcordance, "loaded concordance from %s", cachePath)
	return idx, nil
}

func download(ctx context.Context, cachePath, sourceURL string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return err
	}

	if dir := filepath.Dir(cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := cachePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, cachePath)
}
