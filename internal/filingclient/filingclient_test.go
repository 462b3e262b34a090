package filingclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
)

type stubDoer struct {
	responses []stubResponse
	calls     int
}

type stubResponse struct {
	status int
	body   string
	err    error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	i := d.calls
	if i > len(d.responses)-1 {
		i = len(d.responses) - 1
	}
	r := d.responses[i]
	d.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func TestFilingIndex_ParsesResponse(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{
		{status: 200, body: `{"123456789":[{"object_id":"obj1","tax_year":2022,"tax_period":"202212","form_type":"990","return_version":"2021v4.2","url":"https://irs-990-efiler-data.s3.amazonaws.com/obj1.xml","file_size_bytes":1000}]}`},
	}}
	c := New(doer, "https://api.givingtuesday.org", 0, 0, time.Millisecond, 50*1024*1024)

	entries, err := c.FilingIndex(context.TODO(), ein.MustParse("123456789"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "obj1", entries[0].ObjectId)
}

func TestDownloadXML_RejectsNonHTTPS(t *testing.T) {
	c := New(&stubDoer{}, "https://api.givingtuesday.org", 0, 0, time.Millisecond, 50*1024*1024)
	entry := domain.FilingIndexEntry{URL: "http://irs-990-efiler-data.s3.amazonaws.com/obj1.xml"}
	_, err := c.DownloadXML(context.TODO(), entry)
	assert.Error(t, err)
}

func TestDownloadXML_RejectsUnpinnedHost(t *testing.T) {
	c := New(&stubDoer{}, "https://api.givingtuesday.org", 0, 0, time.Millisecond, 50*1024*1024)
	entry := domain.FilingIndexEntry{URL: "https://evil-bucket.s3.amazonaws.com/obj1.xml"}
	_, err := c.DownloadXML(context.TODO(), entry)
	assert.Error(t, err)
}

func TestDownloadXML_RejectsOversizedFile(t *testing.T) {
	c := New(&stubDoer{}, "https://api.givingtuesday.org", 0, 0, time.Millisecond, 25*1024*1024)
	entry := domain.FilingIndexEntry{
		URL:           "https://irs-990-efiler-data.s3.amazonaws.com/obj1.xml",
		FileSizeBytes: 26 * 1024 * 1024,
	}
	_, err := c.DownloadXML(context.TODO(), entry)
	assert.Error(t, err)
}

func TestDownloadXML_Succeeds(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{{status: 200, body: "<xml/>"}}}
	c := New(doer, "https://api.givingtuesday.org", 0, 0, time.Millisecond, 50*1024*1024)
	entry := domain.FilingIndexEntry{
		URL:           "https://irs-990-efiler-data.s3.amazonaws.com/obj1.xml",
		FileSizeBytes: 1000,
		ObjectId:      "../../etc/passwd",
	}
	body, err := c.DownloadXML(context.TODO(), entry)
	require.NoError(t, err)
	assert.Equal(t, "<xml/>", body)
}

func TestDoWithRetry_RetriesOn429ThenSucceeds(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{
		{status: 429, body: ""},
		{status: 200, body: "ok"},
	}}
	c := New(doer, "https://api.givingtuesday.org", 0, 3, time.Millisecond, 50*1024*1024)
	entry := domain.FilingIndexEntry{URL: "https://irs-990-efiler-data.s3.amazonaws.com/obj1.xml", FileSizeBytes: 1}
	body, err := c.DownloadXML(context.TODO(), entry)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
}

func TestDoWithRetry_NonRetryable4xxSurfacesImmediately(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{{status: 404, body: "not found"}}}
	c := New(doer, "https://api.givingtuesday.org", 0, 3, time.Millisecond, 50*1024*1024)
	entry := domain.FilingIndexEntry{URL: "https://irs-990-efiler-data.s3.amazonaws.com/obj1.xml", FileSizeBytes: 1}
	_, err := c.DownloadXML(context.TODO(), entry)
	assert.Error(t, err)
	assert.Equal(t, 1, doer.calls)
}

func TestLatestFiling_PrefersForm990OverEZOnTie(t *testing.T) {
	entries := []domain.FilingIndexEntry{
		{TaxYear: 2022, FormType: domain.Form990EZ, TaxPeriod: "202212"},
		{TaxYear: 2022, FormType: domain.Form990, TaxPeriod: "202212"},
	}
	latest, ok := LatestFiling(entries)
	require.True(t, ok)
	assert.Equal(t, domain.Form990, latest.FormType)
}

func TestLatestFiling_PrefersLaterTaxPeriodOnFurtherTie(t *testing.T) {
	entries := []domain.FilingIndexEntry{
		{TaxYear: 2022, FormType: domain.Form990, TaxPeriod: "202206"},
		{TaxYear: 2022, FormType: domain.Form990, TaxPeriod: "202212"},
	}
	latest, ok := LatestFiling(entries)
	require.True(t, ok)
	assert.Equal(t, "202212", latest.TaxPeriod)
}

func TestSanitizeObjectID_StripsTraversal(t *testing.T) {
	assert.Equal(t, "etcpasswd", SanitizeObjectID("../../etc/passwd"))
}
