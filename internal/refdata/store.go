// Package refdata implements the CSV reference-data store (spec §4.2):
// downloads, parses, and indexes the IRS auto-revocation list and the OFAC
// SDN list, with exact and fuzzy name matching against sanctioned entities.
package refdata

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/logging"
)

const refreshCooldown = 60 * time.Second

type nameRef struct {
	normalized string
	entNum     string
	matchedOn  MatchedOn
}

// Store holds the in-memory index built from the IRS revocation list and
// the OFAC SDN list, plus the on-disk cache and manifest that back it.
type Store struct {
	mu sync.Mutex
	sf singleflight.Group

	dataDir    string
	downloader Downloader
	maxAge     time.Duration

	manifest      manifest
	lastRefreshAt map[sourceKey]time.Time

	revocations map[ein.EIN]RevocationRow
	sdnEntries  map[string]SDNEntry // keyed by ent-num
	nameIndex   map[string][]nameRef
	allNames    []nameRef
}

// New constructs a Store. dataMaxAge is the staleness threshold named
// dataMaxAgeDays in spec §6.
func New(dataDir string, downloader Downloader, dataMaxAge time.Duration) *Store {
	return &Store{
		dataDir:       dataDir,
		downloader:    downloader,
		maxAge:        dataMaxAge,
		lastRefreshAt: make(map[sourceKey]time.Time),
		revocations:   make(map[ein.EIN]RevocationRow),
		sdnEntries:    make(map[string]SDNEntry),
		nameIndex:     make(map[string][]nameRef),
	}
}

func (s *Store) irsPath() string  { return filepath.Join(s.dataDir, "irs-revocation.csv") }
func (s *Store) sdnPath() string  { return filepath.Join(s.dataDir, "sdn.csv") }
func (s *Store) altPath() string  { return filepath.Join(s.dataDir, "alt.csv") }
func (s *Store) manifestPath() string {
	return filepath.Join(s.dataDir, "refdata-manifest.json")
}

// Initialize loads both sources into memory, downloading any source whose
// manifest entry is missing or older than dataMaxAgeDays. Concurrent
// Initialize calls collapse into one in-flight load via singleflight, per
// spec §4.2/§5 ("concurrent initialize calls serialize and return
// identical state").
func (s *Store) Initialize(ctx context.Context) error {
	_, err, _ := s.sf.Do("initialize", func() (interface{}, error) {
		return nil, s.initializeLocked(ctx)
	})
	return err
}

func (s *Store) initializeLocked(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryRefData, "Initialize")
	defer timer.Stop()

	s.manifest = loadManifest(s.manifestPath())
	now := time.Now()

	if err := s.ensureSource(ctx, sourceIRSRevocation, now); err != nil {
		return err
	}
	if err := s.ensureSource(ctx, sourceOFACPrimary, now); err != nil {
		return err
	}
	if err := s.ensureSource(ctx, sourceOFACAlt, now); err != nil {
		return err
	}

	return s.reindexLocked()
}

// ensureSource downloads a source if stale, falling back to the on-disk
// cache on download failure, and surfacing a fatal error only if neither a
// fresh download nor a cached copy is available (spec §4.2, §7).
func (s *Store) ensureSource(ctx context.Context, key sourceKey, now time.Time) error {
	path := s.pathFor(key)
	if !s.manifest.stale(key, s.maxAge, now) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		// Manifest says fresh but the file is missing; fall through to
		// attempt a download so Initialize can still make progress.
	}

	if err := s.downloadAndCache(ctx, key, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			logging.Warnf(logging.CategoryRefData, "download of %s failed (%v); using cached copy", key, err)
			return nil
		}
		return fmt.Errorf("refdata: %s unavailable and no cache on disk: %w", key, err)
	}
	s.manifest.LastDownload[key] = now
	if err := s.manifest.save(s.manifestPath()); err != nil {
		logging.Warnf(logging.CategoryRefData, "failed to persist refdata manifest: %v", err)
	}
	return nil
}

func (s *Store) pathFor(key sourceKey) string {
	switch key {
	case sourceIRSRevocation:
		return s.irsPath()
	case sourceOFACPrimary:
		return s.sdnPath()
	default:
		return s.altPath()
	}
}

func (s *Store) downloadAndCache(ctx context.Context, key sourceKey, path string) error {
	var rc io.ReadCloser
	var err error
	switch key {
	case sourceIRSRevocation:
		rc, err = s.downloader.DownloadIRSRevocationZIP(ctx)
	case sourceOFACPrimary:
		rc, err = s.downloader.DownloadOFACPrimaryCSV(ctx)
	case sourceOFACAlt:
		rc, err = s.downloader.DownloadOFACAltCSV(ctx)
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// reindexLocked parses the three on-disk cache files and rebuilds every
// in-memory index. Called with s.mu held.
func (s *Store) reindexLocked() error {
	revocations := make(map[ein.EIN]RevocationRow)
	if f, err := os.Open(s.irsPath()); err == nil {
		rows, perr := parseIRSRevocationPipe(f)
		f.Close()
		if perr != nil {
			return fmt.Errorf("refdata: parse IRS revocation file: %w", perr)
		}
		for _, r := range rows {
			revocations[r.EIN] = r
		}
	}

	sdnEntries := make(map[string]SDNEntry)
	if f, err := os.Open(s.sdnPath()); err == nil {
		rows, perr := parseOFACPrimaryCSV(f)
		f.Close()
		if perr != nil {
			return fmt.Errorf("refdata: parse OFAC primary csv: %w", perr)
		}
		for _, r := range rows {
			sdnEntries[r.EntNum] = r
		}
	}

	if f, err := os.Open(s.altPath()); err == nil {
		rows, perr := parseOFACAltCSV(f)
		f.Close()
		if perr != nil {
			return fmt.Errorf("refdata: parse OFAC alt csv: %w", perr)
		}
		for _, r := range rows {
			entry, ok := sdnEntries[r.EntNum]
			if !ok {
				continue
			}
			entry.Aliases = append(entry.Aliases, r.AltName)
			sdnEntries[r.EntNum] = entry
		}
	}

	nameIndex := make(map[string][]nameRef)
	var allNames []nameRef
	for entNum, entry := range sdnEntries {
		primaryNorm := NormalizeOrgName(entry.PrimaryName)
		if primaryNorm != "" {
			ref := nameRef{normalized: primaryNorm, entNum: entNum, matchedOn: MatchedOnPrimary}
			nameIndex[primaryNorm] = append(nameIndex[primaryNorm], ref)
			allNames = append(allNames, ref)
		}
		for _, alias := range entry.Aliases {
			aliasNorm := NormalizeOrgName(alias)
			if aliasNorm == "" {
				continue
			}
			ref := nameRef{normalized: aliasNorm, entNum: entNum, matchedOn: MatchedOnAlias}
			nameIndex[aliasNorm] = append(nameIndex[aliasNorm], ref)
			allNames = append(allNames, ref)
		}
	}

	s.revocations = revocations
	s.sdnEntries = sdnEntries
	s.nameIndex = nameIndex
	s.allNames = allNames
	logging.Infof(logging.CategoryRefData, "indexed %d revocations, %d SDN entries, %d names",
		len(revocations), len(sdnEntries), len(allNames))
	return nil
}

// Refresh forces a re-download of one source, bypassing the staleness
// check, serialized with Initialize by the same mutex and subject to a
// 60-second inter-refresh cooldown (spec §4.2, §5).
func (s *Store) Refresh(ctx context.Context, key string) error {
	sk := sourceKey(key)
	s.mu.Lock()
	if last, ok := s.lastRefreshAt[sk]; ok && time.Since(last) < refreshCooldown {
		s.mu.Unlock()
		return fmt.Errorf("refdata: refresh of %s on cooldown, retry after %s", key, refreshCooldown-time.Since(last))
	}
	s.mu.Unlock()

	_, err, _ := s.sf.Do("initialize", func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		path := s.pathFor(sk)
		if err := s.downloadAndCache(ctx, sk, path); err != nil {
			return nil, fmt.Errorf("refdata: refresh %s: %w", key, err)
		}
		s.lastRefreshAt[sk] = time.Now()
		s.manifest.LastDownload[sk] = time.Now()
		if err := s.manifest.save(s.manifestPath()); err != nil {
			logging.Warnf(logging.CategoryRefData, "failed to persist refdata manifest after refresh: %v", err)
		}
		return nil, s.reindexLocked()
	})
	return err
}

// RevocationLookup reports whether e appears on the IRS auto-revocation
// list, and the matching row if so.
func (s *Store) RevocationLookup(e ein.EIN) (RevocationRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.revocations[e]
	return row, ok
}

// ExactMatch returns every SDN entry whose normalized primary or alias name
// equals normalizedName, deduplicated by ent-num so no entity appears
// twice even if both its primary name and an alias normalize identically.
func (s *Store) ExactMatch(normalizedName string) []ExactMatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := s.nameIndex[normalizedName]
	seen := make(map[string]bool, len(refs))
	out := make([]ExactMatch, 0, len(refs))
	for _, r := range refs {
		if seen[r.entNum] {
			continue
		}
		seen[r.entNum] = true
		out = append(out, ExactMatch{Entry: s.sdnEntries[r.entNum], MatchedOn: r.matchedOn})
	}
	return out
}

// FuzzyMatch walks every normalized name in the index and returns SDN
// entries with Jaro-Winkler similarity >= threshold, sorted by descending
// similarity and deduplicated by ent-num (the highest-similarity name wins
// when an entity has multiple qualifying names). normalizedName must
// already be normalized by the caller.
func (s *Store) FuzzyMatch(normalizedName string, threshold float64) ([]FuzzyMatch, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: fuzzy threshold %v out of [0,1]", errs.ErrConfigOutOfRange, threshold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	best := make(map[string]float64)
	for _, r := range s.allNames {
		sim := JaroWinkler(normalizedName, r.normalized)
		if sim < threshold {
			continue
		}
		if cur, ok := best[r.entNum]; !ok || sim > cur {
			best[r.entNum] = sim
		}
	}

	out := make([]FuzzyMatch, 0, len(best))
	for entNum, sim := range best {
		out = append(out, FuzzyMatch{Entry: s.sdnEntries[entNum], Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Entry.EntNum < out[j].Entry.EntNum
	})
	return out, nil
}
