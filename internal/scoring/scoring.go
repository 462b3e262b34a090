// Package scoring implements the scoring engine (spec §4.10): four weighted
// checks against a resolved threshold set, rounded to the nearest integer,
// feeding the final PASS/REVIEW/REJECT recommendation.
package scoring

import (
	"fmt"
	"math"
	"time"

	"nonprofitvet/internal/dateutil"
	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/thresholds"
)

// Score runs all four weighted checks against p using t, returning the
// per-check results and the rounded total.
func Score(p *domain.Profile, t thresholds.ScoringThresholds, now time.Time) ([]domain.ScoreCheck, int) {
	checks := []domain.ScoreCheck{
		yearsOperatingCheck(p, t),
		revenueRangeCheck(p, t),
		spendRateCheck(p, t),
		recent990Check(p, t, now),
	}

	var total float64
	for _, c := range checks {
		total += c.Awarded
	}
	return checks, int(math.Round(total))
}

// Recommend applies the recommendation cutoffs in spec §4.10: a HIGH
// red flag overrides the score entirely.
func Recommend(score int, t thresholds.ScoringThresholds, hasHighRedFlag bool) domain.Recommendation {
	if hasHighRedFlag {
		return domain.RecReject
	}
	switch {
	case score >= t.ScorePassMin:
		return domain.RecPass
	case score >= t.ScoreReviewMin:
		return domain.RecReview
	default:
		return domain.RecReject
	}
}

func yearsOperatingCheck(p *domain.Profile, t thresholds.ScoringThresholds) domain.ScoreCheck {
	weight := t.WeightYearsOperating
	name := "years_operating"

	if p.YearsOperating == nil {
		return failCheck(name, weight, "years operating unknown")
	}
	years := float64(*p.YearsOperating)
	switch {
	case years >= t.YearsPassMin:
		return passCheck(name, weight, fmt.Sprintf("%d years operating", *p.YearsOperating))
	case years >= t.YearsReviewMin:
		return reviewCheck(name, weight, fmt.Sprintf("%d years operating, below pass threshold", *p.YearsOperating))
	default:
		return failCheck(name, weight, fmt.Sprintf("%d years operating, below review threshold", *p.YearsOperating))
	}
}

func revenueRangeCheck(p *domain.Profile, t thresholds.ScoringThresholds) domain.ScoreCheck {
	weight := t.WeightRevenueRange
	name := "revenue_range"

	if p.Latest990 == nil {
		return failCheck(name, weight, "no 990 on file")
	}
	revenue := p.Latest990.TotalRevenue
	switch {
	case revenue < 0:
		return failCheck(name, weight, "negative revenue is a data anomaly")
	case revenue == 0:
		return failCheck(name, weight, "no revenue on file")
	case revenue < t.RevenueFailMin:
		return failCheck(name, weight, fmt.Sprintf("revenue %.0f below fail minimum", revenue))
	case revenue < t.RevenuePassMin:
		return reviewCheck(name, weight, fmt.Sprintf("revenue %.0f below pass minimum", revenue))
	case revenue <= t.RevenuePassMax:
		return passCheck(name, weight, fmt.Sprintf("revenue %.0f within pass range", revenue))
	case revenue <= t.RevenueReviewMax:
		return reviewCheck(name, weight, fmt.Sprintf("revenue %.0f above pass maximum", revenue))
	default:
		return failCheck(name, weight, fmt.Sprintf("revenue %.0f above review maximum", revenue))
	}
}

func spendRateCheck(p *domain.Profile, t thresholds.ScoringThresholds) domain.ScoreCheck {
	weight := t.WeightSpendRate
	name := "spend_rate"

	if p.Latest990 == nil || !p.Latest990.HasOverheadRatio {
		return reviewCheck(name, weight, "missing data")
	}
	rate := p.Latest990.OverheadRatio
	if math.IsNaN(rate) {
		return reviewCheck(name, weight, "missing data")
	}
	switch {
	case rate < 0:
		return failCheck(name, weight, "negative spend rate is a data anomaly")
	case rate < t.ExpenseRatioLowReview:
		return failCheck(name, weight, fmt.Sprintf("spend rate %.2f below low-review floor", rate))
	case rate < t.ExpenseRatioPassMin:
		return reviewCheck(name, weight, fmt.Sprintf("spend rate %.2f below pass minimum", rate))
	case rate <= t.ExpenseRatioPassMax:
		return passCheck(name, weight, fmt.Sprintf("spend rate %.2f within pass range", rate))
	case rate <= t.ExpenseRatioHighReview:
		return reviewCheck(name, weight, fmt.Sprintf("spend rate %.2f above pass maximum", rate))
	default:
		return failCheck(name, weight, fmt.Sprintf("spend rate %.2f above high-review ceiling", rate))
	}
}

func recent990Check(p *domain.Profile, t thresholds.ScoringThresholds, now time.Time) domain.ScoreCheck {
	weight := t.WeightRecent990
	name := "recent_990"

	if p.Latest990 == nil {
		return failCheck(name, weight, "no 990 on file")
	}
	years, ok := dateutil.YearsSince(p.Latest990.TaxPeriod, now)
	if !ok {
		return failCheck(name, weight, "tax period unparsable")
	}
	yearsF := float64(years)
	switch {
	case yearsF <= t.Filing990PassMax:
		return passCheck(name, weight, fmt.Sprintf("most recent filing %d years old", years))
	case yearsF <= t.Filing990ReviewMax:
		return reviewCheck(name, weight, fmt.Sprintf("most recent filing %d years old", years))
	default:
		return failCheck(name, weight, fmt.Sprintf("most recent filing %d years old", years))
	}
}

func passCheck(name string, weight int, detail string) domain.ScoreCheck {
	return domain.ScoreCheck{Name: name, Verdict: domain.VerdictPass, Weight: weight, Awarded: float64(weight), Detail: detail}
}

func reviewCheck(name string, weight int, detail string) domain.ScoreCheck {
	return domain.ScoreCheck{Name: name, Verdict: domain.VerdictReview, Weight: weight, Awarded: float64(weight) / 2, Detail: detail}
}

func failCheck(name string, weight int, detail string) domain.ScoreCheck {
	return domain.ScoreCheck{Name: name, Verdict: domain.VerdictFail, Weight: weight, Awarded: 0, Detail: detail}
}
