// Package discovery implements the discovery index (spec §4.3): a
// relational snapshot of the IRS Business Master File, periodically
// rebuilt from one CSV per configured region, supporting filtered
// candidate-discovery queries.
package discovery

import "nonprofitvet/internal/domain"

// RegionSource names one downloadable BMF region extract.
type RegionSource struct {
	Name string
	URL  string
}

// bmfCSVRow is the column-headed BMF CSV row shape, decoded with
// github.com/jszwec/csvutil (spec §6: "EIN, NAME, CITY, STATE, NTEE_CD,
// SUBSECTION, RULING").
type bmfCSVRow struct {
	EIN        string `csv:"EIN"`
	Name       string `csv:"NAME"`
	City       string `csv:"CITY"`
	State      string `csv:"STATE"`
	NTEECode   string `csv:"NTEE_CD"`
	Subsection string `csv:"SUBSECTION"`
	Ruling     string `csv:"RULING"`
}

// Query describes a filtered candidate-discovery search. Every field is
// optional; a zero value means "no filter on this dimension" (spec §4.3).
type Query struct {
	State         string
	City          string
	Subsection    int
	HasSubsection bool
	NameContains  string

	NTEEIncludePrefixes []string
	NTEEExcludePrefixes []string

	RulingYearMin int
	RulingYearMax int

	Limit  int
	Offset int
}

// QueryResult is a page of Query results plus the total number of rows
// matching the filters, counted before pagination.
type QueryResult struct {
	Rows  []domain.BMFRow
	Total int
}
