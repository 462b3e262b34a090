package refdata

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/ein"
)

func TestNormalizeOrgName(t *testing.T) {
	cases := map[string]string{
		"Example Foundation, Inc.":      "example",
		"THE Good Works Trust":          "good works",
		"Acme  Corp.":                   "acme",
		"Helping Hands Association Ltd": "helping hands",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeOrgName(in), "input: %s", in)
	}
}

func TestJaroWinkler_Identity(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("example org", "example org"))
}

func TestJaroWinkler_EmptyString(t *testing.T) {
	assert.Equal(t, 0.0, JaroWinkler("", "something"))
	assert.Equal(t, 0.0, JaroWinkler("something", ""))
}

func TestJaroWinkler_Symmetric(t *testing.T) {
	a, b := "martha", "marhta"
	assert.InDelta(t, JaroWinkler(a, b), JaroWinkler(b, a), 1e-9)
}

func TestJaroWinkler_PrefixMonotonic(t *testing.T) {
	// A pair sharing a longer prefix (and more matched characters) scores higher.
	short := JaroWinkler("dixon", "dicksonx")
	long := JaroWinkler("dixon", "dixonn")
	assert.Less(t, short, long)
}

type stubDownloader struct {
	irsZIP    []byte
	sdnCSV    []byte
	altCSV    []byte
	failCount int
}

func (d *stubDownloader) DownloadIRSRevocationZIP(ctx context.Context) (io.ReadCloser, error) {
	if d.failCount > 0 {
		d.failCount--
		return nil, fmt.Errorf("simulated failure")
	}
	return io.NopCloser(strings.NewReader(string(d.irsZIP))), nil
}
func (d *stubDownloader) DownloadOFACPrimaryCSV(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(d.sdnCSV))), nil
}
func (d *stubDownloader) DownloadOFACAltCSV(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(d.altCSV))), nil
}

func testRevocationPipeRow(einStr string) string {
	return strings.Join([]string{
		einStr, "REVOKED ORG", "123 Main St", "Springfield", "IL", "62701",
		"US", "REVOKED", "20220515", "20220601", "",
	}, "|")
}

func TestStore_InitializeAndLookup(t *testing.T) {
	dir := t.TempDir()
	irsBody := testRevocationPipeRow("123456789") + "\n" + testRevocationPipeRow("12345") // second row has invalid EIN, skipped
	sdnBody := "10001,Bad Actor Org,Entity,SDGT,,\n20002,John Doe,Individual,SDGT,,\n"
	altBody := "1,10001,aka,Bad Actor Organization,\n"

	dl := &stubDownloader{irsZIP: []byte(irsBody), sdnCSV: []byte(sdnBody), altCSV: []byte(altBody)}
	s := New(dir, dl, 7*24*time.Hour)

	require.NoError(t, s.Initialize(context.Background()))

	e := ein.MustParse("123456789")
	row, ok := s.RevocationLookup(e)
	require.True(t, ok)
	assert.Equal(t, "REVOKED", row.Status)

	_, ok = s.RevocationLookup(ein.MustParse("999999999"))
	assert.False(t, ok)

	matches := s.ExactMatch(NormalizeOrgName("Bad Actor Org"))
	require.Len(t, matches, 1)
	assert.Equal(t, MatchedOnPrimary, matches[0].MatchedOn)

	aliasMatches := s.ExactMatch(NormalizeOrgName("Bad Actor Organization"))
	require.Len(t, aliasMatches, 1)
	assert.Equal(t, MatchedOnAlias, aliasMatches[0].MatchedOn)
}

func TestStore_InitializeFallsBackToCacheOnDownloadFailure(t *testing.T) {
	dir := t.TempDir()
	irsBody := testRevocationPipeRow("123456789")
	sdnBody := "10001,Bad Actor Org,Entity,SDGT,,\n"
	altBody := "1,10001,aka,Bad Actor Organization,\n"

	dl := &stubDownloader{irsZIP: []byte(irsBody), sdnCSV: []byte(sdnBody), altCSV: []byte(altBody)}
	s := New(dir, dl, 7*24*time.Hour)
	require.NoError(t, s.Initialize(context.Background()))

	// Force the next IRS download to fail; a cached copy already exists on
	// disk from the first Initialize, so a fresh Initialize should still
	// succeed by falling back to it.
	dl.failCount = 1
	s.manifest.LastDownload[sourceIRSRevocation] = time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, s.manifest.save(s.manifestPath()))
	require.NoError(t, s.Initialize(context.Background()))

	_, ok := s.RevocationLookup(ein.MustParse("123456789"))
	assert.True(t, ok)
}

func TestStore_FuzzyMatch_FiltersBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	sdnBody := "10001,Bad Actor Organization,Entity,SDGT,,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sdn.csv"), []byte(sdnBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "irs-revocation.csv"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alt.csv"), []byte(""), 0o644))

	dl := &stubDownloader{}
	s := New(dir, dl, 7*24*time.Hour)
	s.manifest = loadManifest(s.manifestPath())
	s.manifest.LastDownload[sourceIRSRevocation] = time.Now()
	s.manifest.LastDownload[sourceOFACPrimary] = time.Now()
	s.manifest.LastDownload[sourceOFACAlt] = time.Now()
	require.NoError(t, s.reindexLocked())

	matches, err := s.FuzzyMatch(NormalizeOrgName("Bad Actor Org"), 0.85)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.GreaterOrEqual(t, matches[0].Similarity, 0.85)

	noMatches, err := s.FuzzyMatch(NormalizeOrgName("Completely Different Name"), 0.85)
	require.NoError(t, err)
	assert.Empty(t, noMatches)
}
