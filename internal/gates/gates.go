// Package gates implements the four pre-screen gates (spec §4.9): all four
// always run for audit completeness; the pipeline records the first FAIL as
// the blocking gate and short-circuits downstream scoring.
package gates

import (
	"strings"

	"nonprofitvet/internal/dateutil"
	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/refdata"
)

// RevocationChecker reports whether an EIN appears on the IRS
// auto-revocation list, per refdata.Store.RevocationLookup.
type RevocationChecker interface {
	RevocationLookup(e ein.EIN) (refdata.RevocationRow, bool)
}

// PortfolioConfig is the Gate 4 configuration slice of the engine config.
type PortfolioConfig struct {
	AllowNTEEPrefixes []string
	ExcludedEINs      []string
	IncludedEINs      []string
	Enabled           bool
}

// Evaluator runs all four gates against a Profile.
type Evaluator struct {
	revocations RevocationChecker
	sdn         SDNChecker
	portfolio   PortfolioConfig
}

// SDNChecker is the OFAC exact-match collaborator, per refdata.Store.ExactMatch.
type SDNChecker interface {
	ExactMatch(normalizedName string) []refdata.ExactMatch
}

// New builds an Evaluator from its collaborators.
func New(revocations RevocationChecker, sdn SDNChecker, portfolio PortfolioConfig) *Evaluator {
	return &Evaluator{revocations: revocations, sdn: sdn, portfolio: portfolio}
}

// EvaluateAll runs every gate in order and returns all four outcomes,
// regardless of verdict (spec §4.9, Testable Property 5).
func (ev *Evaluator) EvaluateAll(p *domain.Profile) []domain.GateOutcome {
	return []domain.GateOutcome{
		ev.verified501c3(p),
		ev.ofacSanctions(p),
		ev.filingExists(p),
		ev.portfolioFit(p),
	}
}

// verified501c3 is Gate 1: three sub-checks, all always recorded.
func (ev *Evaluator) verified501c3(p *domain.Profile) domain.GateOutcome {
	subsectionCheck := domain.SubCheck{
		Name:   "subsection_501c3",
		Passed: p.Subsection == "03",
		Detail: "subsection must equal 03",
	}

	row, revoked := ev.revocations.RevocationLookup(p.EIN)
	revocationCheck := domain.SubCheck{
		Name:   "not_revoked",
		Passed: !revoked,
		Detail: "IRS auto-revocation lookup must return not-found",
	}
	if revoked {
		revocationCheck.Detail = "revoked on " + row.RevocationDate
	}

	_, rulingParsable := dateutil.ParseYYYYMM(p.RulingDate)
	rulingCheck := domain.SubCheck{
		Name:   "ruling_date_present",
		Passed: p.RulingDate != "" && rulingParsable,
		Detail: "ruling date must be present and parsable",
	}

	passed := subsectionCheck.Passed && revocationCheck.Passed && rulingCheck.Passed
	return domain.GateOutcome{
		Gate:      domain.GateVerified501c3,
		Passed:    passed,
		SubChecks: []domain.SubCheck{subsectionCheck, revocationCheck, rulingCheck},
	}
}

// ofacSanctions is Gate 2: exact-match lookup, Entity-type hits fail.
func (ev *Evaluator) ofacSanctions(p *domain.Profile) domain.GateOutcome {
	normalized := refdata.NormalizeOrgName(p.Name)
	matches := ev.sdn.ExactMatch(normalized)

	entityHit := false
	for _, m := range matches {
		if m.Entry.Type == refdata.SDNEntity {
			entityHit = true
			break
		}
	}

	sub := domain.SubCheck{
		Name:   "ofac_exact_match",
		Passed: !entityHit,
		Detail: "no Entity-type SDN match",
	}
	if entityHit {
		sub.Detail = "matched an Entity-type SDN record"
	} else if len(matches) > 0 {
		sub.Detail = "matched only Individual/Vessel/Aircraft SDN records (treated as likely false positive)"
	}

	return domain.GateOutcome{
		Gate:      domain.GateOFAC,
		Passed:    !entityHit,
		SubChecks: []domain.SubCheck{sub},
	}
}

// filingExists is Gate 3.
func (ev *Evaluator) filingExists(p *domain.Profile) domain.GateOutcome {
	passed := p.FilingCount > 0 && p.Latest990 != nil
	sub := domain.SubCheck{
		Name:   "filing_exists",
		Passed: passed,
		Detail: "at least one parsed 990 filing must exist",
	}
	return domain.GateOutcome{
		Gate:      domain.GateFilingExists,
		Passed:    passed,
		SubChecks: []domain.SubCheck{sub},
	}
}

// portfolioFit is Gate 4: three ordered sub-checks. When the gate is
// configured disabled, the verdict is forced PASS but every sub-check still
// evaluates and records (spec §4.9).
func (ev *Evaluator) portfolioFit(p *domain.Profile) domain.GateOutcome {
	excluded := containsEIN(ev.portfolio.ExcludedEINs, p.EIN.String())
	exclusionCheck := domain.SubCheck{
		Name:   "not_excluded",
		Passed: !excluded,
		Detail: "EIN must not be on the exclusion list",
	}

	included := containsEIN(ev.portfolio.IncludedEINs, p.EIN.String())
	inclusionCheck := domain.SubCheck{
		Name:   "explicitly_included",
		Passed: included,
		Detail: "EIN is on the inclusion list (skips NTEE check)",
	}

	var nteeCheck domain.SubCheck
	nteeCheck.Name = "ntee_prefix_match"
	switch {
	case p.NTEECode == "":
		nteeCheck.Passed = true
		nteeCheck.Detail = "unverified: no NTEE code on file"
	default:
		matched := matchesAnyPrefix(ev.portfolio.AllowNTEEPrefixes, p.NTEECode)
		nteeCheck.Passed = matched
		nteeCheck.Detail = "NTEE code must match an allowlisted prefix"
	}

	var passed bool
	switch {
	case excluded:
		passed = false
	case included:
		passed = true
	default:
		passed = nteeCheck.Passed
	}

	note := ""
	if !ev.portfolio.Enabled {
		note = "gate disabled: verdict forced to PASS"
		passed = true
	}

	return domain.GateOutcome{
		Gate:      domain.GatePortfolioFit,
		Passed:    passed,
		SubChecks: []domain.SubCheck{exclusionCheck, inclusionCheck, nteeCheck},
		Note:      note,
	}
}

func containsEIN(list []string, e string) bool {
	for _, v := range list {
		if v == e {
			return true
		}
	}
	return false
}

// matchesAnyPrefix reports a case-insensitive prefix match against a list
// of allowlist entries; an empty entry matches nothing (spec §4.9).
func matchesAnyPrefix(prefixes []string, ntee string) bool {
	upper := strings.ToUpper(ntee)
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
