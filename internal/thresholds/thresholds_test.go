package thresholds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/errs"
)

func TestDefaultThresholds_Valid(t *testing.T) {
	require.NoError(t, Validate(DefaultScoringThresholds()))
}

func TestDefaultResolver_AllSectorsValid(t *testing.T) {
	r, err := NewDefaultResolver()
	require.NoError(t, err)

	for sector := byte('A'); sector <= 'Z'; sector++ {
		merged := r.Resolve(string(sector))
		assert.NoError(t, Validate(merged), "sector %c produced invalid merge", sector)
	}
}

func TestWeightsMustSumTo100(t *testing.T) {
	bad := DefaultScoringThresholds()
	bad.WeightSpendRate = 36 // now sums to 101
	assert.ErrorIs(t, Validate(bad), errs.ErrWeightsInvalid)
}

func TestNegativeWeightRejected(t *testing.T) {
	bad := DefaultScoringThresholds()
	bad.WeightRecent990 = -5
	bad.WeightSpendRate = 65 // keep sum at 100
	assert.Error(t, Validate(bad))
}

func TestRevenueOrderingEnforced(t *testing.T) {
	bad := DefaultScoringThresholds()
	bad.RevenuePassMin = bad.RevenueFailMin - 1
	assert.Error(t, Validate(bad))
}

func TestModerateCompensationAboveHighRejected(t *testing.T) {
	bad := DefaultScoringThresholds()
	bad.RedFlagModerateCompensation = bad.RedFlagHighCompensation + 0.1
	assert.Error(t, Validate(bad))
}

func TestResolver_OverrideInheritsUnsetFields(t *testing.T) {
	base := DefaultScoringThresholds()
	capped := 150_000_000.0
	overrides := map[byte]Override{
		'B': {RevenuePassMax: &capped},
	}
	r, err := NewResolver(base, overrides)
	require.NoError(t, err)

	merged := r.Resolve("B31")
	assert.Equal(t, capped, merged.RevenuePassMax)
	assert.Equal(t, base.RevenueFailMin, merged.RevenueFailMin) // inherited

	unaffected := r.Resolve("X99")
	assert.Equal(t, base, unaffected)
}

func TestResolver_CaseInsensitiveMajorCategory(t *testing.T) {
	base := DefaultScoringThresholds()
	v := 99.0
	r, err := NewResolver(base, map[byte]Override{'T': {RedFlagVeryLowRevenue: &v}})
	require.NoError(t, err)

	assert.Equal(t, v, r.Resolve("t20").RedFlagVeryLowRevenue)
	assert.Equal(t, v, r.Resolve("T20").RedFlagVeryLowRevenue)
}
