// Package profile implements the profile builder (spec §4.8): it combines
// the discovery index, filing client, XML extract store, and extraction
// engine into the single derived Profile view gates, scoring, and red-flag
// detection consume.
package profile

import (
	"context"
	"fmt"
	"time"

	"nonprofitvet/internal/dateutil"
	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/filingclient"
	"nonprofitvet/internal/logging"
)

// BMFLookup resolves a structural BMF row, per the discovery index's Lookup.
type BMFLookup interface {
	Lookup(e ein.EIN) (domain.BMFRow, bool, error)
}

// FilingIndexSource resolves a filing index, per the filing client.
type FilingIndexSource interface {
	FilingIndex(ctx context.Context, e ein.EIN) ([]domain.FilingIndexEntry, error)
	DownloadXML(ctx context.Context, entry domain.FilingIndexEntry) (string, error)
}

// ExtractCache resolves and persists XML extracts, per the XML extract store.
type ExtractCache interface {
	HasExtract(e ein.EIN, objectID string) (bool, error)
	SaveMetadata(ctx context.Context, entry domain.FilingIndexEntry) error
	SaveExtract(ctx context.Context, extract *domain.XMLExtract) error
	GetLatestExtract(e ein.EIN) (*domain.XMLExtract, bool, error)
	GetAllExtracts(e ein.EIN) ([]*domain.XMLExtract, error)
}

// ExtractParser parses a downloaded filing XML body into a canonical extract.
type ExtractParser func(xmlBody string, meta filingMeta) (*domain.XMLExtract, error)

type filingMeta = extractMeta

// extractMeta mirrors extract.Meta without importing the extract package
// directly, so profile stays decoupled from the parser's internals (spec §9
// "polymorphism over data sources").
type extractMeta struct {
	EIN           ein.EIN
	ObjectId      string
	TaxYear       int
	TaxPeriod     string
	FormType      domain.FormType
	SchemaVersion string
}

// Builder assembles a Profile for one EIN.
type Builder struct {
	bmf      BMFLookup
	filings  FilingIndexSource
	extracts ExtractCache
	parse    ExtractParser
}

// New constructs a Builder from its collaborators.
func New(bmf BMFLookup, filings FilingIndexSource, extracts ExtractCache, parse ExtractParser) *Builder {
	return &Builder{bmf: bmf, filings: filings, extracts: extracts, parse: parse}
}

// Build assembles a Profile for e, per the five-step procedure in spec §4.8.
func (b *Builder) Build(ctx context.Context, e ein.EIN) (*domain.Profile, error) {
	timer := logging.StartTimer(logging.CategoryProfile, "Build")
	defer timer.Stop()

	row, ok, err := b.bmf.Lookup(e)
	if err != nil {
		return nil, fmt.Errorf("profile: bmf lookup %s: %w", e, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrEINNotFound, e)
	}

	p := &domain.Profile{
		EIN:            e,
		Name:           row.Name,
		City:           row.City,
		State:          row.State,
		NTEECode:       row.NTEECode,
		Subsection:     fmt.Sprintf("%02d", row.Subsection),
		RulingDate:     row.RulingDate,
		YearsOperating: yearsOperating(row.RulingDate),
	}

	entries, err := b.filings.FilingIndex(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("profile: filing index %s: %w", e, err)
	}
	p.FilingCount = len(entries)
	if len(entries) == 0 {
		return p, nil
	}

	latestEntry, _ := filingclient.LatestFiling(entries)
	latestExtract, err := b.resolveExtract(ctx, e, latestEntry)
	if err != nil {
		return nil, err
	}
	if latestExtract != nil {
		p.Latest990 = summarize(latestEntry, latestExtract)
	}

	history, err := b.buildHistory(ctx, e, entries)
	if err != nil {
		return nil, err
	}
	p.History = history

	return p, nil
}

// resolveExtract resolves the extract for entry from the store, fetching
// and parsing it on a cache miss (spec §4.8 step 3).
func (b *Builder) resolveExtract(ctx context.Context, e ein.EIN, entry domain.FilingIndexEntry) (*domain.XMLExtract, error) {
	has, err := b.extracts.HasExtract(e, entry.ObjectId)
	if err != nil {
		return nil, fmt.Errorf("profile: check extract cache %s/%s: %w", e, entry.ObjectId, err)
	}
	if has {
		extract, ok, err := latestFor(b.extracts, e, entry.ObjectId)
		if err != nil {
			return nil, err
		}
		if ok {
			return extract, nil
		}
	}

	if err := b.extracts.SaveMetadata(ctx, entry); err != nil {
		logging.Warnf(logging.CategoryProfile, "failed to save filing metadata for %s/%s: %v", e, entry.ObjectId, err)
	}

	body, err := b.filings.DownloadXML(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("profile: download filing %s/%s: %w", e, entry.ObjectId, err)
	}
	extract, err := b.parse(body, extractMeta{
		EIN:           e,
		ObjectId:      entry.ObjectId,
		TaxYear:       entry.TaxYear,
		TaxPeriod:     entry.TaxPeriod,
		FormType:      entry.FormType,
		SchemaVersion: entry.ReturnVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("profile: parse filing %s/%s: %w", e, entry.ObjectId, err)
	}

	if !extract.Empty() {
		if err := b.extracts.SaveExtract(ctx, extract); err != nil {
			logging.Warnf(logging.CategoryProfile, "failed to cache extract for %s/%s: %v", e, entry.ObjectId, err)
		}
	}
	return extract, nil
}

// buildHistory assembles the multi-year Filing990Summary adapter used for
// revenue-decline analysis (spec §4.8 step 5): every cached extract, plus a
// fetch-and-parse of the second-latest filing when fewer than two extracts
// are cached and the filing index has at least two entries.
func (b *Builder) buildHistory(ctx context.Context, e ein.EIN, entries []domain.FilingIndexEntry) ([]domain.Filing990Summary, error) {
	cached, err := b.extracts.GetAllExtracts(e)
	if err != nil {
		return nil, fmt.Errorf("profile: getAllExtracts %s: %w", e, err)
	}

	if len(cached) < 2 && len(entries) >= 2 {
		second := secondLatestFiling(entries)
		if _, err := b.resolveExtract(ctx, e, second); err != nil {
			logging.Warnf(logging.CategoryProfile, "failed to resolve second-latest filing for %s: %v", e, err)
		} else if cached, err = b.extracts.GetAllExtracts(e); err != nil {
			return nil, fmt.Errorf("profile: getAllExtracts %s: %w", e, err)
		}
	}

	byObjectID := make(map[string]domain.FilingIndexEntry, len(entries))
	for _, entry := range entries {
		byObjectID[entry.ObjectId] = entry
	}

	out := make([]domain.Filing990Summary, 0, len(cached))
	for _, extract := range cached {
		entry := byObjectID[extract.ObjectId]
		out = append(out, *summarize(entry, extract))
	}
	return out, nil
}

// latestFor returns the cached extract matching objectID, if any.
func latestFor(extracts ExtractCache, e ein.EIN, objectID string) (*domain.XMLExtract, bool, error) {
	all, err := extracts.GetAllExtracts(e)
	if err != nil {
		return nil, false, fmt.Errorf("profile: getAllExtracts %s: %w", e, err)
	}
	for _, extract := range all {
		if extract.ObjectId == objectID {
			return extract, true, nil
		}
	}
	return nil, false, nil
}

// secondLatestFiling returns the filing-index entry immediately behind the
// latest per the LatestFiling tie-break ordering.
func secondLatestFiling(entries []domain.FilingIndexEntry) domain.FilingIndexEntry {
	latest, _ := filingclient.LatestFiling(entries)
	var rest []domain.FilingIndexEntry
	skippedLatest := false
	for _, e := range entries {
		if !skippedLatest && e == latest {
			skippedLatest = true
			continue
		}
		rest = append(rest, e)
	}
	second, _ := filingclient.LatestFiling(rest)
	return second
}

// summarize builds a Filing990Summary from one entry and its extract, per
// spec §4.8 step 4.
func summarize(entry domain.FilingIndexEntry, extract *domain.XMLExtract) *domain.Filing990Summary {
	summary := &domain.Filing990Summary{
		ObjectId:  entry.ObjectId,
		TaxYear:   entry.TaxYear,
		TaxPeriod: entry.TaxPeriod,
	}

	if extract.RevenueVIII != nil {
		summary.TotalRevenue = extract.RevenueVIII.Total
	}
	if extract.ExpensesIX != nil {
		summary.TotalExpenses = extract.ExpensesIX.Total
	}
	if summary.TotalRevenue > 0 {
		summary.OverheadRatio = summary.TotalExpenses / summary.TotalRevenue
		summary.HasOverheadRatio = true
	}
	if summary.TotalExpenses > 0 && len(extract.OfficersVII) > 0 {
		var officerComp float64
		for _, o := range extract.OfficersVII {
			officerComp += o.ReportableCompOrg + o.ReportableCompRelated + o.OtherComp
		}
		summary.OfficerCompRatio = officerComp / summary.TotalExpenses
		summary.HasOfficerRatio = true
	}
	return summary
}

// yearsOperating derives whole years since a YYYYMM ruling date. Returns nil
// if the date is unparsable, the ruling year predates the earliest
// plausible IRS exemption ruling (1913), or the date falls in the future
// (spec §3).
func yearsOperating(rulingDate string) *int {
	t, ok := dateutil.ParseYYYYMM(rulingDate)
	if !ok {
		return nil
	}
	now := time.Now()
	if t.Year() < 1913 || t.After(now) {
		return nil
	}
	years, ok := dateutil.YearsSince(rulingDate, now)
	if !ok {
		return nil
	}
	return &years
}
