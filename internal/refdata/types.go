package refdata

import "nonprofitvet/internal/ein"

// RevocationRow is one IRS auto-revocation list entry (spec §3).
type RevocationRow struct {
	EIN            ein.EIN
	Status         string
	RevocationDate string
	LegalName      string
}

// SDNType classifies an OFAC SDN entry.
type SDNType string

const (
	SDNEntity     SDNType = "Entity"
	SDNIndividual SDNType = "Individual"
	SDNVessel     SDNType = "Vessel"
	SDNAircraft   SDNType = "Aircraft"
)

// SDNEntry is one OFAC Specially Designated Nationals list entry, keyed by
// ent-num, carrying its primary name as listed and any alias names.
type SDNEntry struct {
	EntNum      string
	PrimaryName string
	Type        SDNType
	Program     string
	Aliases     []string
}

// MatchedOn tags which name on an entry produced an exact-match hit.
type MatchedOn string

const (
	MatchedOnPrimary MatchedOn = "primary"
	MatchedOnAlias   MatchedOn = "alias"
)

// ExactMatch is one result of Store.ExactMatch.
type ExactMatch struct {
	Entry     SDNEntry
	MatchedOn MatchedOn
}

// FuzzyMatch is one result of Store.FuzzyMatch, sorted by descending
// Similarity and deduplicated by ent-num.
type FuzzyMatch struct {
	Entry      SDNEntry
	Similarity float64
}
