package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/refdata"
)

type stubRevocations struct {
	revoked map[string]refdata.RevocationRow
}

func (s *stubRevocations) RevocationLookup(e ein.EIN) (refdata.RevocationRow, bool) {
	row, ok := s.revoked[e.String()]
	return row, ok
}

type stubSDN struct {
	matches map[string][]refdata.ExactMatch
}

func (s *stubSDN) ExactMatch(normalizedName string) []refdata.ExactMatch {
	return s.matches[normalizedName]
}

func healthyProfile() *domain.Profile {
	years := 15
	return &domain.Profile{
		EIN:            ein.MustParse("953135649"),
		Name:           "Helping Hands",
		NTEECode:       "K31",
		Subsection:     "03",
		RulingDate:     "199001",
		YearsOperating: &years,
		FilingCount:    1,
		Latest990:      &domain.Filing990Summary{TotalRevenue: 500000, TotalExpenses: 400000},
	}
}

func TestVerified501c3_PassesHealthyProfile(t *testing.T) {
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, PortfolioConfig{Enabled: true})
	outcomes := ev.EvaluateAll(healthyProfile())
	require.Len(t, outcomes, 4)
	assert.True(t, outcomes[0].Passed)
	require.Len(t, outcomes[0].SubChecks, 3)
}

func TestVerified501c3_FailsOnRevocation(t *testing.T) {
	e := ein.MustParse("953135649")
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{
		e.String(): {EIN: e, RevocationDate: "2022-05-15"},
	}}, &stubSDN{}, PortfolioConfig{Enabled: true})

	outcomes := ev.EvaluateAll(healthyProfile())
	assert.False(t, outcomes[0].Passed)
	// all four gates still recorded even though gate 1 failed
	assert.Len(t, outcomes, 4)
}

func TestOFACSanctions_FailsOnEntityMatch(t *testing.T) {
	normalized := refdata.NormalizeOrgName("Helping Hands")
	sdn := &stubSDN{matches: map[string][]refdata.ExactMatch{
		normalized: {{Entry: refdata.SDNEntry{Type: refdata.SDNEntity}}},
	}}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, sdn, PortfolioConfig{Enabled: true})

	outcomes := ev.EvaluateAll(healthyProfile())
	assert.False(t, outcomes[1].Passed)
}

func TestOFACSanctions_PassesOnIndividualOnlyMatch(t *testing.T) {
	normalized := refdata.NormalizeOrgName("Helping Hands")
	sdn := &stubSDN{matches: map[string][]refdata.ExactMatch{
		normalized: {{Entry: refdata.SDNEntry{Type: refdata.SDNIndividual}}},
	}}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, sdn, PortfolioConfig{Enabled: true})

	outcomes := ev.EvaluateAll(healthyProfile())
	assert.True(t, outcomes[1].Passed)
}

func TestFilingExists_FailsWithoutFilings(t *testing.T) {
	p := healthyProfile()
	p.FilingCount = 0
	p.Latest990 = nil
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, PortfolioConfig{Enabled: true})

	outcomes := ev.EvaluateAll(p)
	assert.False(t, outcomes[2].Passed)
}

func TestPortfolioFit_ExclusionWinsOverInclusion(t *testing.T) {
	p := healthyProfile()
	portfolio := PortfolioConfig{
		Enabled:      true,
		ExcludedEINs: []string{p.EIN.String()},
		IncludedEINs: []string{p.EIN.String()},
	}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, portfolio)

	outcomes := ev.EvaluateAll(p)
	assert.False(t, outcomes[3].Passed)
	require.Len(t, outcomes[3].SubChecks, 3)
}

func TestPortfolioFit_DisabledForcesPassButRecordsSubChecks(t *testing.T) {
	p := healthyProfile()
	p.NTEECode = "Z99" // would otherwise fail NTEE match
	portfolio := PortfolioConfig{Enabled: false, AllowNTEEPrefixes: []string{"K"}}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, portfolio)

	outcomes := ev.EvaluateAll(p)
	assert.True(t, outcomes[3].Passed)
	require.Len(t, outcomes[3].SubChecks, 3)
	assert.False(t, outcomes[3].SubChecks[2].Passed) // NTEE sub-check itself still recorded as failing
}

func TestPortfolioFit_MissingNTEEPassesUnverified(t *testing.T) {
	p := healthyProfile()
	p.NTEECode = ""
	portfolio := PortfolioConfig{Enabled: true, AllowNTEEPrefixes: []string{"K"}}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, portfolio)

	outcomes := ev.EvaluateAll(p)
	assert.True(t, outcomes[3].Passed)
}

func TestPortfolioFit_EmptyAllowlistEntryMatchesNothing(t *testing.T) {
	p := healthyProfile()
	portfolio := PortfolioConfig{Enabled: true, AllowNTEEPrefixes: []string{""}}
	ev := New(&stubRevocations{revoked: map[string]refdata.RevocationRow{}}, &stubSDN{}, portfolio)

	outcomes := ev.EvaluateAll(p)
	assert.False(t, outcomes[3].Passed)
}
