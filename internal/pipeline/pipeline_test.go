package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/gates"
	"nonprofitvet/internal/refdata"
	"nonprofitvet/internal/store"
	"nonprofitvet/internal/thresholds"
)

var now = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

type stubProfiles struct {
	profile *domain.Profile
	err     error
}

func (s stubProfiles) Build(ctx context.Context, e ein.EIN) (*domain.Profile, error) {
	return s.profile, s.err
}

type stubRevocations struct{}

func (stubRevocations) RevocationLookup(e ein.EIN) (refdata.RevocationRow, bool) {
	return refdata.RevocationRow{}, false
}

type stubSDN struct{}

func (stubSDN) ExactMatch(normalizedName string) []refdata.ExactMatch { return nil }

type stubResolver struct {
	base thresholds.ScoringThresholds
}

func (s stubResolver) Resolve(nteeCode string) thresholds.ScoringThresholds {
	return s.base
}

type stubCourts struct{}

func (stubCourts) Lookup(ctx context.Context, orgName string) ([]domain.CourtCase, error) {
	return nil, nil
}

func healthyProfile() *domain.Profile {
	years := 15
	e := ein.MustParse("953135649")
	return &domain.Profile{
		EIN:            e,
		Name:           "Helping Hands",
		Subsection:     "03",
		RulingDate:     "199001",
		NTEECode:       "K31",
		YearsOperating: &years,
		FilingCount:    1,
		Latest990: &domain.Filing990Summary{
			TotalRevenue: 500000, TotalExpenses: 400000,
			OverheadRatio: 0.8, HasOverheadRatio: true,
			TaxPeriod: "202212",
		},
	}
}

func newTestPipeline(t *testing.T, profile *domain.Profile) *Pipeline {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vetting.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ev := gates.New(stubRevocations{}, stubSDN{}, gates.PortfolioConfig{Enabled: true, AllowNTEEPrefixes: []string{"K"}})
	resolver := stubResolver{base: thresholds.DefaultScoringThresholds()}

	p, err := New(st, stubProfiles{profile: profile}, ev, resolver, nil, stubCourts{}, 30)
	require.NoError(t, err)
	return p
}

func TestRunScreening_PassingProfileScoresAndCaches(t *testing.T) {
	p := newTestPipeline(t, healthyProfile())
	result, err := p.RunScreening(context.Background(), ein.MustParse("953135649"), Options{}, now)
	require.NoError(t, err)
	assert.False(t, result.GateBlocked)
	require.NotNil(t, result.Score)
	assert.Equal(t, domain.RecPass, result.Recommendation)
	assert.False(t, result.Cached)
}

func TestRunScreening_GateFailureShortCircuitsScoring(t *testing.T) {
	profile := healthyProfile()
	profile.Subsection = "04" // fails verified_501c3
	p := newTestPipeline(t, profile)

	result, err := p.RunScreening(context.Background(), profile.EIN, Options{}, now)
	require.NoError(t, err)
	assert.True(t, result.GateBlocked)
	assert.Equal(t, domain.GateVerified501c3, result.BlockingGate)
	assert.Nil(t, result.Score)
	assert.Nil(t, result.Checks)
	assert.Equal(t, domain.RecReject, result.Recommendation)
}

func TestRunScreening_SecondCallServesFromCache(t *testing.T) {
	profile := healthyProfile()
	p := newTestPipeline(t, profile)

	first, err := p.RunScreening(context.Background(), profile.EIN, Options{}, now)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := p.RunScreening(context.Background(), profile.EIN, Options{}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Recommendation, second.Recommendation)
}

func TestRunScreening_ForceRefreshBypassesCache(t *testing.T) {
	profile := healthyProfile()
	p := newTestPipeline(t, profile)

	_, err := p.RunScreening(context.Background(), profile.EIN, Options{}, now)
	require.NoError(t, err)

	second, err := p.RunScreening(context.Background(), profile.EIN, Options{ForceRefresh: true}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, second.Cached)
}

func TestRunScreening_StaleCacheTriggersRerun(t *testing.T) {
	profile := healthyProfile()
	p := newTestPipeline(t, profile)

	_, err := p.RunScreening(context.Background(), profile.EIN, Options{}, now)
	require.NoError(t, err)

	later := now.Add(31 * 24 * time.Hour)
	second, err := p.RunScreening(context.Background(), profile.EIN, Options{}, later)
	require.NoError(t, err)
	assert.False(t, second.Cached)
}

func TestRunScreening_ProfileBuildErrorPropagates(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "vetting.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ev := gates.New(stubRevocations{}, stubSDN{}, gates.PortfolioConfig{Enabled: true})
	resolver := stubResolver{base: thresholds.DefaultScoringThresholds()}
	p, err := New(st, stubProfiles{err: errors.New("boom")}, ev, resolver, nil, stubCourts{}, 30)
	require.NoError(t, err)

	_, err = p.RunScreening(context.Background(), ein.MustParse("953135649"), Options{}, now)
	assert.Error(t, err)
}

func TestLogSearch_RecordsHistoryRow(t *testing.T) {
	p := newTestPipeline(t, healthyProfile())
	p.LogSearch(context.Background(), "lookup_ein", map[string]string{"ein": "953135649"}, 1, now)

	var count int
	err := p.st.DB().QueryRow("SELECT COUNT(*) FROM search_history").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetCachedResult_NotFoundReturnsError(t *testing.T) {
	p := newTestPipeline(t, healthyProfile())
	_, err := p.GetCachedResult(ein.MustParse("953135649"))
	assert.Error(t, err)
}
