package redflags

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/refdata"
	"nonprofitvet/internal/thresholds"
)

var now = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

type stubFuzzy struct {
	matches []refdata.FuzzyMatch
	err     error
}

func (s stubFuzzy) FuzzyMatch(normalizedName string, threshold float64) ([]refdata.FuzzyMatch, error) {
	return s.matches, s.err
}

type stubCourts struct {
	cases []domain.CourtCase
	err   error
}

func (s stubCourts) Lookup(ctx context.Context, orgName string) ([]domain.CourtCase, error) {
	return s.cases, s.err
}

func healthyProfile() *domain.Profile {
	years := 15
	return &domain.Profile{
		Name:           "Helping Hands",
		YearsOperating: &years,
		Latest990: &domain.Filing990Summary{
			TotalRevenue: 500000, TotalExpenses: 400000,
			OverheadRatio: 0.8, HasOverheadRatio: true,
			OfficerCompRatio: 0.1, HasOfficerRatio: true,
			TaxPeriod: "202212",
		},
	}
}

func TestDetect_HealthyProfileYieldsNoFlags(t *testing.T) {
	flags := Detect(context.Background(), healthyProfile(), thresholds.DefaultScoringThresholds(), nil, nil, now)
	assert.Empty(t, flags)
}

func TestTooNewFlag_TriggersBelowThreshold(t *testing.T) {
	p := healthyProfile()
	years := 1
	p.YearsOperating = &years
	flag, ok := tooNewFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
	assert.Equal(t, "too_new", flag.Type)
}

func TestStale990Flag_TriggersOnOldFiling(t *testing.T) {
	p := healthyProfile()
	p.Latest990.TaxPeriod = "201801"
	flag, ok := stale990Flag(p, thresholds.DefaultScoringThresholds(), now)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, flag.Severity)
}

func TestVeryHighOverheadFlag_TriggersAboveCeiling(t *testing.T) {
	p := healthyProfile()
	p.Latest990.OverheadRatio = 0.99
	flag, ok := veryHighOverheadFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, flag.Severity)
}

func TestLowFundDeploymentFlag_TriggersBelowFloor(t *testing.T) {
	p := healthyProfile()
	p.Latest990.OverheadRatio = 0.1
	flag, ok := lowFundDeploymentFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
}

func TestVeryLowRevenueFlag_TriggersOnExactZero(t *testing.T) {
	p := healthyProfile()
	p.Latest990.TotalRevenue = 0
	flag, ok := veryLowRevenueFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, "very_low_revenue", flag.Type)
}

func TestHighOfficerCompensationFlag_SmallOrgUsesRevenueTier(t *testing.T) {
	p := healthyProfile()
	p.Latest990.TotalRevenue = 100000
	p.Latest990.OfficerCompRatio = 0.45
	flag, ok := highOfficerCompensationFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
}

func TestHighOfficerCompensationFlag_TierNeverUndercutsBase(t *testing.T) {
	th := thresholds.DefaultScoringThresholds()
	th.RedFlagHighCompensation = 0.7
	th.RedFlagModerateCompensation = 0.65
	p := healthyProfile()
	p.Latest990.TotalRevenue = 100000 // within the 0.6/0.4 tier, but base is higher
	p.Latest990.OfficerCompRatio = 0.62 // above the tier's 0.6, below the base's 0.65
	_, ok := highOfficerCompensationFlag(p, th)
	assert.False(t, ok)
}

func TestRevenueDeclineFlag_TriggersOnSharpDropWithinWindow(t *testing.T) {
	p := healthyProfile()
	p.History = []domain.Filing990Summary{
		{TotalRevenue: 100000, TaxPeriod: "202212"},
		{TotalRevenue: 500000, TaxPeriod: "202112"},
	}
	flag, ok := revenueDeclineFlag(p, thresholds.DefaultScoringThresholds())
	require.True(t, ok)
	assert.Equal(t, "revenue_decline", flag.Type)
}

func TestRevenueDeclineFlag_SkipsWhenGapExceedsWindow(t *testing.T) {
	p := healthyProfile()
	p.History = []domain.Filing990Summary{
		{TotalRevenue: 100000, TaxPeriod: "202312"},
		{TotalRevenue: 500000, TaxPeriod: "202012"},
	}
	_, ok := revenueDeclineFlag(p, thresholds.DefaultScoringThresholds())
	assert.False(t, ok)
}

func TestCourtRecordsFlag_HighSeverityAtThreeOrMoreCases(t *testing.T) {
	courts := stubCourts{cases: []domain.CourtCase{{}, {}, {}}}
	flag, ok := courtRecordsFlag(context.Background(), healthyProfile(), courts)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, flag.Severity)
}

func TestCourtRecordsFlag_MediumSeverityBelowThree(t *testing.T) {
	courts := stubCourts{cases: []domain.CourtCase{{}}}
	flag, ok := courtRecordsFlag(context.Background(), healthyProfile(), courts)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
}

func TestCourtRecordsFlag_NoneOnLookupError(t *testing.T) {
	courts := stubCourts{err: errors.New("unavailable")}
	_, ok := courtRecordsFlag(context.Background(), healthyProfile(), courts)
	assert.False(t, ok)
}

func TestOfacNearMatchFlag_FiltersIndividualMatches(t *testing.T) {
	fuzzy := stubFuzzy{matches: []refdata.FuzzyMatch{
		{Entry: refdata.SDNEntry{Type: refdata.SDNIndividual, PrimaryName: "John Doe"}, Similarity: 0.99},
	}}
	_, ok := ofacNearMatchFlag(healthyProfile(), thresholds.DefaultScoringThresholds(), fuzzy)
	assert.False(t, ok)
}

func TestOfacNearMatchFlag_HighSeverityAboveNinetyFive(t *testing.T) {
	fuzzy := stubFuzzy{matches: []refdata.FuzzyMatch{
		{Entry: refdata.SDNEntry{Type: refdata.SDNEntity, PrimaryName: "Helping Hand"}, Similarity: 0.97},
	}}
	flag, ok := ofacNearMatchFlag(healthyProfile(), thresholds.DefaultScoringThresholds(), fuzzy)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, flag.Severity)
}

func TestOfacNearMatchFlag_MediumSeverityBelowNinetyFive(t *testing.T) {
	fuzzy := stubFuzzy{matches: []refdata.FuzzyMatch{
		{Entry: refdata.SDNEntry{Type: refdata.SDNEntity, PrimaryName: "Helping Handz"}, Similarity: 0.9},
	}}
	flag, ok := ofacNearMatchFlag(healthyProfile(), thresholds.DefaultScoringThresholds(), fuzzy)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, flag.Severity)
}
