// Package concordance implements the concordance index (spec §4.4): a CSV
// mapping logical 990 field names to per-schema-version XPaths, downloaded
// once and cached, indexed three ways for the extraction engine's two-phase
// resolution (spec §4.6, §9 "concordance as data, not code").
package concordance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"nonprofitvet/internal/errs"
)

// DataType classifies a concordance entry's value type.
type DataType string

const (
	DataTypeNumeric  DataType = "numeric"
	DataTypeCheckbox DataType = "checkbox"
	DataTypeText     DataType = "text"
	DataTypeDate     DataType = "date"
)

// Cardinality reports whether a variable resolves to one value or many.
type Cardinality string

const (
	CardinalityOne  Cardinality = "ONE"
	CardinalityMany Cardinality = "MANY"
)

// Entry is one row of the concordance table.
type Entry struct {
	Variable       string
	XPath          string
	FormType       string
	FormPart       string
	DataType       DataType
	Versions       []string
	CurrentVersion bool
	Cardinality    Cardinality
}

// scopePrefixes restricts the index to the 990-family of forms (spec §4.4).
var scopePrefixes = []string{"F990", "IRS990"}

// Index is the three-way-indexed concordance table.
type Index struct {
	byVariable        map[string][]Entry
	byVariableVersion map[string][]Entry // key: variable + "\x00" + version
	byFormPart        map[string][]Entry // key: formType + "\x00" + formPart
}

// Build parses a concordance CSV (header row required) and returns an
// Index scoped to F990/IRS990* entries. Returns ErrEmptyConcordance if the
// resulting index has no entries at all, per spec §4.4 ("must contain at
// least one entry or initialization fails").
func Build(r io.Reader) (*Index, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("concordance: read header: %w", err)
	}
	col := columnIndex(header)

	idx := &Index{
		byVariable:        make(map[string][]Entry),
		byVariableVersion: make(map[string][]Entry),
		byFormPart:        make(map[string][]Entry),
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("concordance: read row: %w", err)
		}
		entry, ok := parseRow(rec, col)
		if !ok {
			continue
		}
		if !inScope(entry.FormType) {
			continue
		}
		idx.add(entry)
	}

	if len(idx.byVariable) == 0 {
		return nil, errs.ErrEmptyConcordance
	}
	return idx, nil
}

func inScope(formType string) bool {
	upper := strings.ToUpper(formType)
	for _, p := range scopePrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return col
}

func field(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseRow(rec []string, col map[string]int) (Entry, bool) {
	variable := field(rec, col, "variable")
	xpath := field(rec, col, "xpath")
	if variable == "" || xpath == "" {
		return Entry{}, false
	}

	var versions []string
	for _, v := range strings.Split(field(rec, col, "versions"), ";") {
		v = strings.TrimSpace(v)
		if v != "" {
			versions = append(versions, v)
		}
	}

	cardinality := CardinalityOne
	if strings.EqualFold(field(rec, col, "cardinality"), "MANY") {
		cardinality = CardinalityMany
	}

	return Entry{
		Variable:       variable,
		XPath:          xpath,
		FormType:       field(rec, col, "form_type"),
		FormPart:       field(rec, col, "form_part"),
		DataType:       classifyDataType(field(rec, col, "data_type")),
		Versions:       versions,
		CurrentVersion: strings.EqualFold(field(rec, col, "current_version"), "true") || field(rec, col, "current_version") == "1",
		Cardinality:    cardinality,
	}, true
}

func classifyDataType(raw string) DataType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "numeric":
		return DataTypeNumeric
	case "checkbox":
		return DataTypeCheckbox
	case "date":
		return DataTypeDate
	default:
		return DataTypeText // defaults to text per spec §4.4
	}
}

func (idx *Index) add(e Entry) {
	idx.byVariable[e.Variable] = append(idx.byVariable[e.Variable], e)
	for _, v := range e.Versions {
		key := e.Variable + "\x00" + v
		idx.byVariableVersion[key] = append(idx.byVariableVersion[key], e)
	}
	fpKey := e.FormType + "\x00" + e.FormPart
	idx.byFormPart[fpKey] = append(idx.byFormPart[fpKey], e)
}

// GetXPaths resolves a logical variable to its candidate entries, per the
// four-step rule in spec §4.4:
//  1. exact (variable, version) match, if schemaVersion is non-empty;
//  2. else entries flagged current_version=true;
//  3. else all entries for the variable;
//  4. else empty.
func (idx *Index) GetXPaths(variable, schemaVersion string) []Entry {
	if schemaVersion != "" {
		if entries, ok := idx.byVariableVersion[variable+"\x00"+schemaVersion]; ok && len(entries) > 0 {
			return entries
		}
	}

	all := idx.byVariable[variable]
	var current []Entry
	for _, e := range all {
		if e.CurrentVersion {
			current = append(current, e)
		}
	}
	if len(current) > 0 {
		return current
	}
	if len(all) > 0 {
		return all
	}
	return nil
}

// ByFormPart returns every entry for a (formType, formPart) pair.
func (idx *Index) ByFormPart(formType, formPart string) []Entry {
	return idx.byFormPart[formType+"\x00"+formPart]
}
