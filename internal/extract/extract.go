// Package extract implements the 990 XML extraction engine (spec §4.6): a
// secure XML parse, namespace stripping, and two-phase concordance-driven
// field resolution that produces a canonical domain.XMLExtract.
package extract

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"nonprofitvet/internal/concordance"
	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/logging"
)

// formRoots enumerates the form-root tag names searched under
// Return/ReturnData, in the order they are tried.
var formRoots = []string{"IRS990", "IRS990EZ", "IRS990PF"}

// Meta carries the filing metadata the engine needs alongside the raw XML
// body (spec §4.6: "an XML document and metadata").
type Meta struct {
	EIN           ein.EIN
	ObjectId      string
	TaxYear       int
	TaxPeriod     string
	FormType      domain.FormType
	SchemaVersion string
}

// Parse extracts a canonical domain.XMLExtract from a raw 990 XML document.
// It never returns an error for a structurally valid-but-empty return; it
// logs a schema-drift warning instead (spec §4.6) and returns an extract
// whose Empty() is true.
func Parse(xmlBody string, meta Meta, idx *concordance.Index) (*domain.XMLExtract, error) {
	root, err := parseFormRoot(xmlBody)
	if err != nil {
		return nil, err
	}

	extract := &domain.XMLExtract{
		EIN:       meta.EIN,
		ObjectId:  meta.ObjectId,
		TaxYear:   meta.TaxYear,
		TaxPeriod: meta.TaxPeriod,
		FormType:  meta.FormType,
	}

	extract.ExpensesIX = resolveExpensesIX(root, idx, meta.SchemaVersion)
	extract.GovernanceVI = resolveGovernanceVI(root, idx, meta.SchemaVersion)
	extract.OfficersVII = resolveOfficersVII(root, idx, meta.SchemaVersion)
	extract.RevenueVIII = resolveRevenueVIII(root, idx, meta.SchemaVersion)

	if extract.Empty() && meta.FormType == domain.Form990 {
		logging.Warnf(logging.CategoryExtract, "schema drift: object %s (ein %s) resolved to an empty extract from a full 990", meta.ObjectId, meta.EIN)
	}

	return extract, nil
}

// parseFormRoot loads xmlBody under a hardened parser configuration, strips
// namespace prefixes, and navigates to the form root under
// Return/ReturnData (spec §4.6).
func parseFormRoot(xmlBody string) (*etree.Element, error) {
	if strings.Contains(xmlBody, "<!DOCTYPE") {
		return nil, fmt.Errorf("extract: refusing document with a DOCTYPE declaration")
	}

	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		Permissive: false,
		Entity:     nil,
	}
	if err := doc.ReadFromString(xmlBody); err != nil {
		return nil, fmt.Errorf("extract: parse XML: %w", err)
	}

	stripNamespaces(&doc.Element)

	returnData := doc.FindElement("Return/ReturnData")
	if returnData == nil {
		return nil, fmt.Errorf("extract: no Return/ReturnData element found")
	}

	for _, tag := range formRoots {
		if el := returnData.FindElement(tag); el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("extract: no IRS990/IRS990EZ/IRS990PF form root found")
}

// stripNamespaces removes the "ns:" prefix from every element tag in the
// subtree rooted at el, so concordance XPaths never need to account for
// namespace prefixes (spec §4.6).
func stripNamespaces(el *etree.Element) {
	if i := strings.IndexByte(el.Tag, ':'); i >= 0 {
		el.Tag = el.Tag[i+1:]
	}
	el.Space = ""
	for _, child := range el.ChildElements() {
		stripNamespaces(child)
	}
}
