package filingclient

import (
	"fmt"
	"net/url"
	"regexp"

	"nonprofitvet/internal/domain"
)

// allowedHosts is the pinned set of hosts XML downloads may target (spec
// §4.5, §6): the GivingTuesday S3 bucket and its API host. All other
// hosts, including sibling S3 buckets, are rejected.
var allowedHosts = map[string]bool{
	"irs-990-efiler-data.s3.amazonaws.com": true,
	"api.givingtuesday.org":                true,
}

const hardMaxFileSizeBytes = 50 * 1024 * 1024

var objectIDTraversal = regexp.MustCompile(`[./\\]`)

// SanitizeObjectID strips path-traversal characters from a filing
// ObjectId before any filesystem use (spec §4.5).
func SanitizeObjectID(objectID string) string {
	return objectIDTraversal.ReplaceAllString(objectID, "")
}

// validateDownload enforces the download safety constraints before any
// network I/O: HTTPS only, pinned host allowlist, and a file-size cap. It
// does not look at the ObjectId; SanitizeObjectID covers that.
func validateDownload(entry domain.FilingIndexEntry, maxSizeBytes int64) error {
	if maxSizeBytes <= 0 || maxSizeBytes > hardMaxFileSizeBytes {
		maxSizeBytes = hardMaxFileSizeBytes
	}

	u, err := url.Parse(entry.URL)
	if err != nil {
		return fmt.Errorf("filingclient: invalid filing URL %q: %w", entry.URL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("filingclient: filing URL %q is not https", entry.URL)
	}
	if !allowedHosts[u.Host] {
		return fmt.Errorf("filingclient: host %q is not in the pinned allowlist", u.Host)
	}
	if entry.FileSizeBytes > maxSizeBytes {
		return fmt.Errorf("filingclient: filing size %d exceeds cap %d", entry.FileSizeBytes, maxSizeBytes)
	}
	if entry.FileSizeBytes > hardMaxFileSizeBytes {
		return fmt.Errorf("filingclient: filing size %d exceeds hard cap %d", entry.FileSizeBytes, hardMaxFileSizeBytes)
	}

	return nil
}
