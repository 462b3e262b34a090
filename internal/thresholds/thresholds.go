// Package thresholds implements the scoring/red-flag threshold resolver
// (spec §4.13): a base threshold set merged with sparse per-NTEE-major-
// category overrides, validated against every ordering invariant in spec
// §4.9 both at startup and after every merge.
package thresholds

import "nonprofitvet/internal/errs"

// ScoringThresholds holds every numeric bound the scoring engine and
// red-flag detector consult. Zero value is never valid on its own; always
// obtain an instance via DefaultScoringThresholds() or a Resolver.
type ScoringThresholds struct {
	// Weights (§4.10), must sum to exactly 100, non-negative.
	WeightYearsOperating int
	WeightRevenueRange    int
	WeightSpendRate       int // active surface; legacy "weightOverheadRatio" duplicate is dead, see DESIGN.md
	WeightRecent990       int

	// Years operating (§4.10).
	YearsPassMin   float64
	YearsReviewMin float64

	// Revenue range, piecewise (§4.10).
	RevenueFailMin   float64
	RevenuePassMin   float64
	RevenuePassMax   float64
	RevenueReviewMax float64

	// Spend rate = expenses/revenue (§4.10).
	ExpenseRatioLowReview  float64
	ExpenseRatioPassMin    float64
	ExpenseRatioPassMax    float64
	ExpenseRatioHighReview float64

	// Recency of most recent 990, in years (§4.10).
	Filing990PassMax   float64
	Filing990ReviewMax float64

	// Recommendation cutoffs (§4.10).
	ScorePassMin   int
	ScoreReviewMin int

	// Red-flag thresholds (§4.11).
	RedFlagTooNewYears          float64
	RedFlagStale990Years        float64
	RedFlagHighExpenseRatio     float64
	RedFlagLowExpenseRatio      float64
	RedFlagVeryLowRevenue       float64
	RedFlagHighCompensation     float64 // base tier
	RedFlagModerateCompensation float64 // base tier
	RedFlagRevenueDeclinePercent float64
}

// DefaultScoringThresholds returns the spec's documented defaults.
func DefaultScoringThresholds() ScoringThresholds {
	return ScoringThresholds{
		WeightYearsOperating: 10,
		WeightRevenueRange:   25,
		WeightSpendRate:      35,
		WeightRecent990:      30,

		YearsPassMin:   3,
		YearsReviewMin: 1,

		RevenueFailMin:   10000,
		RevenuePassMin:   50000,
		RevenuePassMax:   50000000,
		RevenueReviewMax: 100000000,

		ExpenseRatioLowReview:  0.50,
		ExpenseRatioPassMin:    0.65,
		ExpenseRatioPassMax:    0.90,
		ExpenseRatioHighReview: 0.95,

		Filing990PassMax:   3,
		Filing990ReviewMax: 4,

		ScorePassMin:   75,
		ScoreReviewMin: 50,

		RedFlagTooNewYears:           2,
		RedFlagStale990Years:         3,
		RedFlagHighExpenseRatio:      0.95,
		RedFlagLowExpenseRatio:       0.50,
		RedFlagVeryLowRevenue:        10000,
		RedFlagHighCompensation:      0.30,
		RedFlagModerateCompensation:  0.20,
		RedFlagRevenueDeclinePercent: 0.25,
	}
}

// Override is a sparse per-field override; nil fields inherit the base.
type Override struct {
	WeightYearsOperating *int
	WeightRevenueRange   *int
	WeightSpendRate      *int
	WeightRecent990      *int

	YearsPassMin   *float64
	YearsReviewMin *float64

	RevenueFailMin   *float64
	RevenuePassMin   *float64
	RevenuePassMax   *float64
	RevenueReviewMax *float64

	ExpenseRatioLowReview  *float64
	ExpenseRatioPassMin    *float64
	ExpenseRatioPassMax    *float64
	ExpenseRatioHighReview *float64

	Filing990PassMax   *float64
	Filing990ReviewMax *float64

	ScorePassMin   *int
	ScoreReviewMin *int

	RedFlagTooNewYears           *float64
	RedFlagStale990Years         *float64
	RedFlagHighExpenseRatio      *float64
	RedFlagLowExpenseRatio       *float64
	RedFlagVeryLowRevenue        *float64
	RedFlagHighCompensation      *float64
	RedFlagModerateCompensation  *float64
	RedFlagRevenueDeclinePercent *float64
}

// merge applies a sparse override onto a base, returning a new value.
func merge(base ScoringThresholds, o Override) ScoringThresholds {
	r := base
	applyInt(&r.WeightYearsOperating, o.WeightYearsOperating)
	applyInt(&r.WeightRevenueRange, o.WeightRevenueRange)
	applyInt(&r.WeightSpendRate, o.WeightSpendRate)
	applyInt(&r.WeightRecent990, o.WeightRecent990)

	applyFloat(&r.YearsPassMin, o.YearsPassMin)
	applyFloat(&r.YearsReviewMin, o.YearsReviewMin)

	applyFloat(&r.RevenueFailMin, o.RevenueFailMin)
	applyFloat(&r.RevenuePassMin, o.RevenuePassMin)
	applyFloat(&r.RevenuePassMax, o.RevenuePassMax)
	applyFloat(&r.RevenueReviewMax, o.RevenueReviewMax)

	applyFloat(&r.ExpenseRatioLowReview, o.ExpenseRatioLowReview)
	applyFloat(&r.ExpenseRatioPassMin, o.ExpenseRatioPassMin)
	applyFloat(&r.ExpenseRatioPassMax, o.ExpenseRatioPassMax)
	applyFloat(&r.ExpenseRatioHighReview, o.ExpenseRatioHighReview)

	applyFloat(&r.Filing990PassMax, o.Filing990PassMax)
	applyFloat(&r.Filing990ReviewMax, o.Filing990ReviewMax)

	applyInt(&r.ScorePassMin, o.ScorePassMin)
	applyInt(&r.ScoreReviewMin, o.ScoreReviewMin)

	applyFloat(&r.RedFlagTooNewYears, o.RedFlagTooNewYears)
	applyFloat(&r.RedFlagStale990Years, o.RedFlagStale990Years)
	applyFloat(&r.RedFlagHighExpenseRatio, o.RedFlagHighExpenseRatio)
	applyFloat(&r.RedFlagLowExpenseRatio, o.RedFlagLowExpenseRatio)
	applyFloat(&r.RedFlagVeryLowRevenue, o.RedFlagVeryLowRevenue)
	applyFloat(&r.RedFlagHighCompensation, o.RedFlagHighCompensation)
	applyFloat(&r.RedFlagModerateCompensation, o.RedFlagModerateCompensation)
	applyFloat(&r.RedFlagRevenueDeclinePercent, o.RedFlagRevenueDeclinePercent)

	return r
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// Validate checks every ordering invariant named in spec §4.13. It never
// panics; callers at a true module-load boundary should treat a non-nil
// error as fatal (exit code 1 per §6).
func Validate(t ScoringThresholds) error {
	sum := t.WeightYearsOperating + t.WeightRevenueRange + t.WeightSpendRate + t.WeightRecent990
	if sum != 100 {
		return errs.ErrWeightsInvalid
	}
	for _, w := range []int{t.WeightYearsOperating, t.WeightRevenueRange, t.WeightSpendRate, t.WeightRecent990} {
		if w < 0 {
			return errs.ErrWeightsInvalid
		}
	}

	ordFloat := []struct {
		lo, hi float64
		name   string
	}{
		{t.RevenueFailMin, t.RevenuePassMin, "revenueFailMin<=revenuePassMin"},
		{t.RevenuePassMin, t.RevenuePassMax, "revenuePassMin<=revenuePassMax"},
		{t.RevenuePassMax, t.RevenueReviewMax, "revenuePassMax<=revenueReviewMax"},

		{t.ExpenseRatioLowReview, t.ExpenseRatioPassMin, "expenseRatioLowReview<=passMin"},
		{t.ExpenseRatioPassMin, t.ExpenseRatioPassMax, "expenseRatioPassMin<=passMax"},
		{t.ExpenseRatioPassMax, t.ExpenseRatioHighReview, "expenseRatioPassMax<=highReview"},

		{t.YearsReviewMin, t.YearsPassMin, "yearsReviewMin<=yearsPassMin"},
		{t.Filing990PassMax, t.Filing990ReviewMax, "filing990PassMax<=filing990ReviewMax"},
	}
	for _, c := range ordFloat {
		if c.lo > c.hi {
			return errs.ErrThresholdOrder
		}
	}

	if t.ScoreReviewMin > t.ScorePassMin {
		return errs.ErrThresholdOrder
	}
	if t.ScorePassMin < 0 || t.ScorePassMin > 100 || t.ScoreReviewMin < 0 || t.ScoreReviewMin > 100 {
		return errs.ErrThresholdOrder
	}

	nonNeg := []float64{
		t.RedFlagTooNewYears, t.RedFlagStale990Years, t.RedFlagHighExpenseRatio,
		t.RedFlagLowExpenseRatio, t.RedFlagVeryLowRevenue, t.RedFlagRevenueDeclinePercent,
	}
	for _, v := range nonNeg {
		if v < 0 {
			return errs.ErrThresholdOrder
		}
	}

	if t.RedFlagHighCompensation < 0 || t.RedFlagHighCompensation > 1 ||
		t.RedFlagModerateCompensation < 0 || t.RedFlagModerateCompensation > 1 {
		return errs.ErrThresholdOrder
	}
	if t.RedFlagModerateCompensation > t.RedFlagHighCompensation {
		return errs.ErrThresholdOrder
	}

	return nil
}

// Resolver merges base thresholds with NTEE-major-category overrides
// (first character, A-Z), validating the merged result.
type Resolver struct {
	base      ScoringThresholds
	overrides map[byte]Override
}

// NewResolver validates base and every override's merged result up front,
// per spec §4.13 ("validated at module load, throwing on any violation").
// It returns an error instead of panicking so an embedding process can
// decide how to fail.
func NewResolver(base ScoringThresholds, overrides map[byte]Override) (*Resolver, error) {
	if err := Validate(base); err != nil {
		return nil, err
	}
	for sector, o := range overrides {
		merged := merge(base, o)
		if err := Validate(merged); err != nil {
			return nil, err
		}
		_ = sector
	}
	r := &Resolver{base: base, overrides: make(map[byte]Override, len(overrides))}
	for k, v := range overrides {
		r.overrides[k] = v
	}
	return r, nil
}

// Resolve returns the effective thresholds for a given NTEE code. An empty
// or unrecognized code returns the base thresholds.
func (r *Resolver) Resolve(nteeCode string) ScoringThresholds {
	if len(nteeCode) == 0 {
		return r.base
	}
	major := nteeCode[0]
	if major >= 'a' && major <= 'z' {
		major -= 'a' - 'A'
	}
	o, ok := r.overrides[major]
	if !ok {
		return r.base
	}
	return merge(r.base, o)
}

// Base returns the resolver's base thresholds, unmerged.
func (r *Resolver) Base() ScoringThresholds {
	return r.base
}
