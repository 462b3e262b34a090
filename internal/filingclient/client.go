// Package filingclient implements the GivingTuesday filing client (spec
// §4.5): a filing-index lookup plus size/URL-restricted XML download with
// retry and rate limiting.
package filingclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/logging"
)

// HTTPDoer is the subset of *http.Client the filing client depends on,
// letting tests substitute a stub transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the GivingTuesday filing client.
type Client struct {
	doer          HTTPDoer
	indexBaseURL  string
	rateLimit     time.Duration
	maxRetries    int
	initialBackoff time.Duration
	maxSizeBytes  int64

	rlMu   sync.Mutex
	lastAt time.Time
}

// New builds a Client. indexBaseURL is the GivingTuesday filing-index API
// base (e.g. "https://api.givingtuesday.org"); rateLimit, maxRetries, and
// initialBackoff mirror the spec §6 config knobs of the same name.
func New(doer HTTPDoer, indexBaseURL string, rateLimit time.Duration, maxRetries int, initialBackoff time.Duration, maxSizeBytes int64) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		doer:           doer,
		indexBaseURL:   indexBaseURL,
		rateLimit:      rateLimit,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		maxSizeBytes:   maxSizeBytes,
	}
}

// filingIndexResponse mirrors the GivingTuesday filing-index JSON shape,
// keyed by EIN (spec §6).
type filingIndexResponse struct {
	ObjectId      string `json:"object_id"`
	TaxYear       int    `json:"tax_year"`
	TaxPeriod     string `json:"tax_period"`
	FormType      string `json:"form_type"`
	ReturnVersion string `json:"return_version"`
	URL           string `json:"url"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// FilingIndex returns every filing-index entry on record for e.
func (c *Client) FilingIndex(ctx context.Context, e ein.EIN) ([]domain.FilingIndexEntry, error) {
	requestID := uuid.NewString()
	url := fmt.Sprintf("%s/filings?ein=%s", c.indexBaseURL, e.String())

	body, err := c.doWithRetry(ctx, http.MethodGet, url, requestID)
	if err != nil {
		return nil, fmt.Errorf("filingclient: filing index for %s: %w", e, err)
	}

	var raw map[string][]filingIndexResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("filingclient: decode filing index response: %w", err)
	}

	entries, ok := raw[e.String()]
	if !ok {
		return nil, nil
	}
	out := make([]domain.FilingIndexEntry, 0, len(entries))
	for _, r := range entries {
		out = append(out, domain.FilingIndexEntry{
			EIN:           e,
			ObjectId:      r.ObjectId,
			TaxYear:       r.TaxYear,
			TaxPeriod:     r.TaxPeriod,
			FormType:      domain.FormType(r.FormType),
			ReturnVersion: r.ReturnVersion,
			URL:           r.URL,
			FileSizeBytes: r.FileSizeBytes,
		})
	}
	return out, nil
}

// DownloadXML fetches the XML body for a single filing-index entry, after
// validating every safety constraint in spec §4.5 (never after).
func (c *Client) DownloadXML(ctx context.Context, entry domain.FilingIndexEntry) (string, error) {
	if err := validateDownload(entry, c.maxSizeBytes); err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	body, err := c.doWithRetry(ctx, http.MethodGet, entry.URL, requestID)
	if err != nil {
		return "", fmt.Errorf("filingclient: download XML for object %s: %w", SanitizeObjectID(entry.ObjectId), err)
	}
	return string(body), nil
}

// doWithRetry gates every outbound request through the configured rate
// limit, then retries network errors, HTTP 429, and 5xx statuses with
// exponential backoff; any other status than 200 surfaces immediately.
func (c *Client) doWithRetry(ctx context.Context, method, url, requestID string) ([]byte, error) {
	var body []byte

	op := func() error {
		c.throttle()

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Request-Id", requestID)

		resp, err := c.doer.Do(req)
		if err != nil {
			logging.Debugf(logging.CategoryFilingClient, "request %s to %s failed transiently: %v", requestID, url, err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("filingclient: rate limited (429) on %s", url)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("filingclient: transient status %d on %s", resp.StatusCode, url)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("filingclient: status %d on %s", resp.StatusCode, url))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bounded := backoff.WithMaxRetries(bo, uint64(c.maxRetries))
	if err := backoff.Retry(op, bounded); err != nil {
		return nil, err
	}
	return body, nil
}

// throttle blocks until at least rateLimit has elapsed since the previous
// request, gating all outbound requests per spec §5.
func (c *Client) throttle() {
	c.rlMu.Lock()
	defer c.rlMu.Unlock()

	if !c.lastAt.IsZero() {
		elapsed := time.Since(c.lastAt)
		if elapsed < c.rateLimit {
			time.Sleep(c.rateLimit - elapsed)
		}
	}
	c.lastAt = time.Now()
}

// LatestFiling selects the single most recent filing from a set of
// filing-index entries, per spec §4.5: sort by TaxYear descending, prefer
// FormType=="990" over EZ/PF on a tie, then prefer the later TaxPeriod.
func LatestFiling(entries []domain.FilingIndexEntry) (domain.FilingIndexEntry, bool) {
	if len(entries) == 0 {
		return domain.FilingIndexEntry{}, false
	}
	sorted := make([]domain.FilingIndexEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TaxYear != b.TaxYear {
			return a.TaxYear > b.TaxYear
		}
		aIs990 := a.FormType == domain.Form990
		bIs990 := b.FormType == domain.Form990
		if aIs990 != bIs990 {
			return aIs990
		}
		return a.TaxPeriod > b.TaxPeriod
	})
	return sorted[0], true
}
