package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/thresholds"
)

var now = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func TestScore_HealthyOrgScoresMax(t *testing.T) {
	years := 15
	p := &domain.Profile{
		YearsOperating: &years,
		Latest990: &domain.Filing990Summary{
			TotalRevenue: 500000, TotalExpenses: 400000,
			OverheadRatio: 0.8, HasOverheadRatio: true,
			TaxPeriod: "202212",
		},
	}
	checks, total := Score(p, thresholds.DefaultScoringThresholds(), now)
	require.Len(t, checks, 4)
	assert.Equal(t, 100, total)
	for _, c := range checks {
		assert.Equal(t, domain.VerdictPass, c.Verdict)
	}
}

func TestScore_YoungOrgReviewHalfWeight(t *testing.T) {
	years := 2
	p := &domain.Profile{
		YearsOperating: &years,
		Latest990: &domain.Filing990Summary{
			TotalRevenue: 80000, TotalExpenses: 56000,
			OverheadRatio: 0.70, HasOverheadRatio: true,
			TaxPeriod: "202212",
		},
	}
	checks, total := Score(p, thresholds.DefaultScoringThresholds(), now)
	assert.Equal(t, domain.VerdictReview, checks[0].Verdict)
	assert.Equal(t, 5.0, checks[0].Awarded)
	assert.Equal(t, 95, total)
}

func TestRevenueRangeCheck_NegativeRevenueIsDataAnomaly(t *testing.T) {
	p := &domain.Profile{Latest990: &domain.Filing990Summary{TotalRevenue: -100}}
	check := revenueRangeCheck(p, thresholds.DefaultScoringThresholds())
	assert.Equal(t, domain.VerdictFail, check.Verdict)
	assert.Contains(t, check.Detail, "anomaly")
}

func TestSpendRateCheck_MissingDataReviewsNotFails(t *testing.T) {
	p := &domain.Profile{Latest990: &domain.Filing990Summary{HasOverheadRatio: false}}
	check := spendRateCheck(p, thresholds.DefaultScoringThresholds())
	assert.Equal(t, domain.VerdictReview, check.Verdict)
	assert.Contains(t, check.Detail, "missing data")
}

func TestRecent990Check_UnparsableTaxPeriodFails(t *testing.T) {
	p := &domain.Profile{Latest990: &domain.Filing990Summary{TaxPeriod: "not-a-date"}}
	check := recent990Check(p, thresholds.DefaultScoringThresholds(), now)
	assert.Equal(t, domain.VerdictFail, check.Verdict)
}

func TestRecommend_HighRedFlagOverridesScore(t *testing.T) {
	rec := Recommend(100, thresholds.DefaultScoringThresholds(), true)
	assert.Equal(t, domain.RecReject, rec)
}

func TestRecommend_ScoreCutoffs(t *testing.T) {
	th := thresholds.DefaultScoringThresholds()
	assert.Equal(t, domain.RecPass, Recommend(75, th, false))
	assert.Equal(t, domain.RecReview, Recommend(50, th, false))
	assert.Equal(t, domain.RecReject, Recommend(49, th, false))
}
