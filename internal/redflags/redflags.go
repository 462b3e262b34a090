// Package redflags implements the red-flag detector (spec §4.11), run
// after gates pass: a fixed set of anomaly checks against a Profile plus
// the optional OFAC fuzzy and court-records collaborators.
package redflags

import (
	"context"
	"fmt"
	"time"

	"nonprofitvet/internal/courtrecords"
	"nonprofitvet/internal/dateutil"
	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/refdata"
	"nonprofitvet/internal/thresholds"
)

// FuzzyChecker is the OFAC fuzzy-match collaborator, per refdata.Store.FuzzyMatch.
type FuzzyChecker interface {
	FuzzyMatch(normalizedName string, threshold float64) ([]refdata.FuzzyMatch, error)
}

// compensationTier resolves size-tiered officer-compensation thresholds,
// per spec §4.11: thresholds never drop below the resolved base thresholds.
type compensationTier struct {
	revenueBelow float64
	high         float64
	moderate     float64
}

var compensationTiers = []compensationTier{
	{revenueBelow: 250_000, high: 0.6, moderate: 0.4},
	{revenueBelow: 1_000_000, high: 0.5, moderate: 0.3},
}

// Detect runs every red-flag check against p and returns every flag found.
func Detect(ctx context.Context, p *domain.Profile, t thresholds.ScoringThresholds, fuzzy FuzzyChecker, courts courtrecords.Lookup, now time.Time) []domain.RedFlag {
	var flags []domain.RedFlag

	if f, ok := tooNewFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := stale990Flag(p, t, now); ok {
		flags = append(flags, f)
	}
	if f, ok := veryHighOverheadFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := lowFundDeploymentFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := veryLowRevenueFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := highOfficerCompensationFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := revenueDeclineFlag(p, t); ok {
		flags = append(flags, f)
	}
	if f, ok := courtRecordsFlag(ctx, p, courts); ok {
		flags = append(flags, f)
	}
	if f, ok := ofacNearMatchFlag(p, t, fuzzy); ok {
		flags = append(flags, f)
	}

	return flags
}

func tooNewFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if p.YearsOperating == nil || float64(*p.YearsOperating) >= t.RedFlagTooNewYears {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityMedium,
		Type:     "too_new",
		Detail:   fmt.Sprintf("organization has operated for %d years", *p.YearsOperating),
	}, true
}

func stale990Flag(p *domain.Profile, t thresholds.ScoringThresholds, now time.Time) (domain.RedFlag, bool) {
	if p.Latest990 == nil {
		return domain.RedFlag{}, false
	}
	years, ok := dateutil.YearsSince(p.Latest990.TaxPeriod, now)
	if !ok || float64(years) <= t.RedFlagStale990Years {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityHigh,
		Type:     "stale_990",
		Detail:   fmt.Sprintf("most recent filing is %d years old", years),
	}, true
}

func veryHighOverheadFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if p.Latest990 == nil || !p.Latest990.HasOverheadRatio || p.Latest990.OverheadRatio <= t.RedFlagHighExpenseRatio {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityHigh,
		Type:     "very_high_overhead",
		Detail:   fmt.Sprintf("spend ratio %.2f exceeds %.2f", p.Latest990.OverheadRatio, t.RedFlagHighExpenseRatio),
	}, true
}

func lowFundDeploymentFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if p.Latest990 == nil || !p.Latest990.HasOverheadRatio || p.Latest990.OverheadRatio >= t.RedFlagLowExpenseRatio {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityMedium,
		Type:     "low_fund_deployment",
		Detail:   fmt.Sprintf("spend ratio %.2f below %.2f", p.Latest990.OverheadRatio, t.RedFlagLowExpenseRatio),
	}, true
}

// veryLowRevenueFlag triggers on zero revenue too (spec §4.11: "triggered
// on zero, not falsy-skipped").
func veryLowRevenueFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if p.Latest990 == nil || p.Latest990.TotalRevenue >= t.RedFlagVeryLowRevenue {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityMedium,
		Type:     "very_low_revenue",
		Detail:   fmt.Sprintf("revenue %.0f below %.0f", p.Latest990.TotalRevenue, t.RedFlagVeryLowRevenue),
	}, true
}

func highOfficerCompensationFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if p.Latest990 == nil || !p.Latest990.HasOfficerRatio {
		return domain.RedFlag{}, false
	}
	high, moderate := resolveCompensationTier(p.Latest990.TotalRevenue, t)
	ratio := p.Latest990.OfficerCompRatio

	switch {
	case ratio > high:
		return domain.RedFlag{
			Severity: domain.SeverityHigh,
			Type:     "high_officer_compensation",
			Detail:   fmt.Sprintf("officer compensation ratio %.2f exceeds %.2f", ratio, high),
		}, true
	case ratio > moderate:
		return domain.RedFlag{
			Severity: domain.SeverityMedium,
			Type:     "high_officer_compensation",
			Detail:   fmt.Sprintf("officer compensation ratio %.2f exceeds %.2f", ratio, moderate),
		}, true
	default:
		return domain.RedFlag{}, false
	}
}

// resolveCompensationTier never lets a size tier drop below the resolved
// base thresholds (spec §4.11, §9 "do not symmetrize").
func resolveCompensationTier(revenue float64, t thresholds.ScoringThresholds) (high, moderate float64) {
	high, moderate = t.RedFlagHighCompensation, t.RedFlagModerateCompensation
	for _, tier := range compensationTiers {
		if revenue < tier.revenueBelow {
			if tier.high > high {
				high = tier.high
			}
			if tier.moderate > moderate {
				moderate = tier.moderate
			}
			return high, moderate
		}
	}
	return high, moderate
}

// revenueDeclineFlag compares the latest two filings by tax period (spec
// §4.11): previous revenue must be positive, latest non-negative, and the
// period gap capped at 18 months.
func revenueDeclineFlag(p *domain.Profile, t thresholds.ScoringThresholds) (domain.RedFlag, bool) {
	if len(p.History) < 2 {
		return domain.RedFlag{}, false
	}
	latest, prev := p.History[0], p.History[1]
	if prev.TotalRevenue <= 0 || latest.TotalRevenue < 0 {
		return domain.RedFlag{}, false
	}
	gap, ok := dateutil.MonthsBetween(prev.TaxPeriod, latest.TaxPeriod)
	if !ok || gap < 0 || gap > 18 {
		return domain.RedFlag{}, false
	}
	decline := (prev.TotalRevenue - latest.TotalRevenue) / prev.TotalRevenue
	if decline <= t.RedFlagRevenueDeclinePercent {
		return domain.RedFlag{}, false
	}
	return domain.RedFlag{
		Severity: domain.SeverityMedium,
		Type:     "revenue_decline",
		Detail:   fmt.Sprintf("revenue declined %.0f%% from %.0f to %.0f", decline*100, prev.TotalRevenue, latest.TotalRevenue),
	}, true
}

func courtRecordsFlag(ctx context.Context, p *domain.Profile, courts courtrecords.Lookup) (domain.RedFlag, bool) {
	if courts == nil {
		return domain.RedFlag{}, false
	}
	cases, err := courts.Lookup(ctx, p.Name)
	if err != nil || len(cases) == 0 {
		return domain.RedFlag{}, false
	}
	severity := domain.SeverityMedium
	if len(cases) >= 3 {
		severity = domain.SeverityHigh
	}
	return domain.RedFlag{
		Severity: severity,
		Type:     "court_records",
		Detail:   fmt.Sprintf("%d case(s) on record", len(cases)),
		Cases:    cases,
	}, true
}

// ofacNearMatchFlag runs the fuzzy OFAC check at threshold 0.85,
// filtering out Individual-type matches (spec §4.11).
func ofacNearMatchFlag(p *domain.Profile, t thresholds.ScoringThresholds, fuzzy FuzzyChecker) (domain.RedFlag, bool) {
	if fuzzy == nil {
		return domain.RedFlag{}, false
	}
	normalized := refdata.NormalizeOrgName(p.Name)
	matches, err := fuzzy.FuzzyMatch(normalized, 0.85)
	if err != nil {
		return domain.RedFlag{}, false
	}

	var best *refdata.FuzzyMatch
	for i := range matches {
		if matches[i].Entry.Type == refdata.SDNIndividual {
			continue
		}
		if best == nil || matches[i].Similarity > best.Similarity {
			best = &matches[i]
		}
	}
	if best == nil {
		return domain.RedFlag{}, false
	}

	severity := domain.SeverityMedium
	if best.Similarity >= 0.95 {
		severity = domain.SeverityHigh
	}
	return domain.RedFlag{
		Severity: severity,
		Type:     "ofac_near_match",
		Detail:   fmt.Sprintf("%.2f similarity to SDN entry %q", best.Similarity, best.Entry.PrimaryName),
	}, true
}
