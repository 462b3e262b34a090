package refdata

import (
	"encoding/csv"
	"io"
	"strings"

	"nonprofitvet/internal/ein"
)

// parseIRSRevocationPipe parses the pipe-delimited, 11-column-positional IRS
// auto-revocation file (spec §4.2, §6). Rows with fewer than eleven fields,
// or a non-nine-digit EIN in column 0, are skipped rather than failing the
// whole parse, the list is large and a handful of malformed rows should
// never block the rest loading.
func parseIRSRevocationPipe(r io.Reader) ([]RevocationRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var out []RevocationRow
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 11 {
			continue
		}
		e, perr := ein.Parse(rec[0])
		if perr != nil {
			continue
		}
		out = append(out, RevocationRow{
			EIN:            e,
			LegalName:      strings.TrimSpace(rec[1]),
			Status:         strings.TrimSpace(rec[7]),
			RevocationDate: strings.TrimSpace(rec[8]),
		})
	}
	return out, nil
}

// parseOFACPrimaryCSV parses the 6-column-positional, headerless OFAC SDN
// primary-name CSV. Rows with fewer than six fields are skipped.
func parseOFACPrimaryCSV(r io.Reader) ([]SDNEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var out []SDNEntry
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 6 {
			continue
		}
		out = append(out, SDNEntry{
			EntNum:      strings.TrimSpace(rec[0]),
			PrimaryName: strings.TrimSpace(rec[1]),
			Type:        classifySDNType(rec[2]),
			Program:     strings.TrimSpace(rec[3]),
		})
	}
	return out, nil
}

// altNameRow is one row of the 5-column-positional OFAC alternate-name CSV.
type altNameRow struct {
	EntNum  string
	AltName string
}

// parseOFACAltCSV parses the alternate-name CSV. Rows with fewer than five
// fields are skipped.
func parseOFACAltCSV(r io.Reader) ([]altNameRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var out []altNameRow
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 5 {
			continue
		}
		out = append(out, altNameRow{
			EntNum:  strings.TrimSpace(rec[1]),
			AltName: strings.TrimSpace(rec[3]),
		})
	}
	return out, nil
}

func classifySDNType(raw string) SDNType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "individual":
		return SDNIndividual
	case "vessel":
		return SDNVessel
	case "aircraft":
		return SDNAircraft
	default:
		return SDNEntity
	}
}
