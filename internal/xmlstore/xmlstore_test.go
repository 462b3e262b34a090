package xmlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "xml.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xs, err := New(st)
	require.NoError(t, err)
	return xs
}

func sampleExtract(e ein.EIN, objectID string, taxYear int) *domain.XMLExtract {
	return &domain.XMLExtract{
		EIN:      e,
		ObjectId: objectID,
		TaxYear:  taxYear,
		FormType: domain.Form990,
		RevenueVIII: &domain.RevenuePartVIII{
			Total:       500000,
			RatiosValid: true,
		},
	}
}

func TestSaveExtract_RefusesEmpty(t *testing.T) {
	xs := openTestStore(t)
	e := ein.MustParse("953135649")
	empty := &domain.XMLExtract{EIN: e, ObjectId: "obj-empty", TaxYear: 2022}

	err := xs.SaveExtract(context.Background(), empty)
	assert.Error(t, err)

	has, err := xs.HasExtract(e, "obj-empty")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSaveAndGetLatestExtract(t *testing.T) {
	xs := openTestStore(t)
	e := ein.MustParse("953135649")

	require.NoError(t, xs.SaveExtract(context.Background(), sampleExtract(e, "obj-2021", 2021)))
	require.NoError(t, xs.SaveExtract(context.Background(), sampleExtract(e, "obj-2022", 2022)))

	has, err := xs.HasExtract(e, "obj-2022")
	require.NoError(t, err)
	assert.True(t, has)

	latest, ok, err := xs.GetLatestExtract(e)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2022, latest.TaxYear)
	assert.Equal(t, "obj-2022", latest.ObjectId)
}

func TestGetAllExtracts_OrderedMostRecentFirst(t *testing.T) {
	xs := openTestStore(t)
	e := ein.MustParse("953135649")

	require.NoError(t, xs.SaveExtract(context.Background(), sampleExtract(e, "obj-2020", 2020)))
	require.NoError(t, xs.SaveExtract(context.Background(), sampleExtract(e, "obj-2022", 2022)))
	require.NoError(t, xs.SaveExtract(context.Background(), sampleExtract(e, "obj-2021", 2021)))

	all, err := xs.GetAllExtracts(e)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2022, all[0].TaxYear)
	assert.Equal(t, 2021, all[1].TaxYear)
	assert.Equal(t, 2020, all[2].TaxYear)
}

func TestGetLatestExtract_MissReturnsFalseNotError(t *testing.T) {
	xs := openTestStore(t)
	_, ok, err := xs.GetLatestExtract(ein.MustParse("953135649"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetLatestExtract_CorruptBlobIsDistinctFromMiss(t *testing.T) {
	xs := openTestStore(t)
	e := ein.MustParse("953135649")

	_, err := xs.st.DB().Exec(
		"INSERT INTO xml_extracts (ein, object_id, tax_year, extract_json) VALUES (?, ?, ?, ?)",
		e.String(), "obj-corrupt", 2022, "{not valid json",
	)
	require.NoError(t, err)

	_, _, err = xs.GetLatestExtract(e)
	assert.ErrorIs(t, err, errs.ErrCorruptExtract)
}

func TestSaveMetadata_Upserts(t *testing.T) {
	xs := openTestStore(t)
	e := ein.MustParse("953135649")
	entry := domain.FilingIndexEntry{EIN: e, ObjectId: "obj-1", TaxYear: 2021, TaxPeriod: "202112", FormType: domain.Form990}

	require.NoError(t, xs.SaveMetadata(context.Background(), entry))
	entry.TaxYear = 2022
	require.NoError(t, xs.SaveMetadata(context.Background(), entry))

	var taxYear int
	err := xs.st.DB().QueryRow("SELECT tax_year FROM filing_metadata WHERE object_id = ?", "obj-1").Scan(&taxYear)
	require.NoError(t, err)
	assert.Equal(t, 2022, taxYear)
}
