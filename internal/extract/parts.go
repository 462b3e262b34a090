package extract

import (
	"github.com/beevik/etree"

	"nonprofitvet/internal/concordance"
	"nonprofitvet/internal/domain"
)

// officerGroupTags are the repeating-group tag names tried, in order, for
// Part VII (spec §4.6: "tries named group tags in order").
var officerGroupTags = []string{
	"Form990PartVIISectionAGrp",
	"Form990EZPartVICompGrp",
}

// reportableCompOrgAliases, reportableCompRelatedAliases, and
// otherCompAliases are the candidate field names scanned for each officer
// entry, absorbing the historical 990 schema's field renames (spec §4.6).
var reportableCompOrgAliases = []string{"ReportableCompFromOrgAmt", "ReportableCompFromOrganizationAmt"}
var reportableCompRelatedAliases = []string{"ReportableCompFromRltdOrgAmt", "ReportableCompFromRelatedOrganizationsAmt"}
var otherCompAliases = []string{"OtherCompensationAmt", "OtherCompensationFromOrgAndRelatedOrgsAmt"}

func resolveExpensesIX(root *etree.Element, idx *concordance.Index, schemaVersion string) *domain.ExpensesPartIX {
	total, totalOK := numericField(root, idx, "TotalFunctionalExpenses", schemaVersion)
	program, programOK := numericField(root, idx, "ProgramServiceExpenses", schemaVersion)
	mgmt, mgmtOK := numericField(root, idx, "ManagementAndGeneralExpenses", schemaVersion)
	fundraising, fundraisingOK := numericField(root, idx, "FundraisingExpenses", schemaVersion)

	if !totalOK && !programOK && !mgmtOK && !fundraisingOK {
		return nil
	}

	return &domain.ExpensesPartIX{
		Total:             total,
		ProgramServices:   program,
		ManagementGeneral: mgmt,
		Fundraising:       fundraising,
		RatiosValid:       total > 0,
	}
}

func resolveGovernanceVI(root *etree.Element, idx *concordance.Index, schemaVersion string) *domain.GovernancePartVI {
	voting, votingOK := numericField(root, idx, "VotingMembersCount", schemaVersion)
	independent, independentOK := numericField(root, idx, "IndependentVotingMembersCount", schemaVersion)
	conflict, conflictOK := booleanField(root, idx, "ConflictOfInterestPolicy", schemaVersion)
	whistleblower, whistleblowerOK := booleanField(root, idx, "WhistleblowerPolicy", schemaVersion)
	docRetention, docRetentionOK := booleanField(root, idx, "DocumentRetentionPolicy", schemaVersion)
	compReview, compReviewOK := booleanField(root, idx, "CompensationProcessCEO", schemaVersion)
	jointVenture, jointVentureOK := booleanField(root, idx, "HasJointVenture", schemaVersion)
	governingDocs, governingDocsOK := booleanField(root, idx, "GoverningDocumentsAvailable", schemaVersion)
	diversion, diversionOK := booleanField(root, idx, "MaterialDiversionOrMisuse", schemaVersion)

	if !votingOK && !independentOK && !conflictOK && !whistleblowerOK &&
		!docRetentionOK && !compReviewOK && !jointVentureOK && !governingDocsOK && !diversionOK {
		return nil
	}

	return &domain.GovernancePartVI{
		VotingMembers:      int(voting),
		IndependentMembers: int(independent),
		HasConflictPolicy:  conflict,
		HasWhistleblower:   whistleblower,
		HasDocRetention:    docRetention,
		HasCompReview:      compReview,
		HasJointVenture:    jointVenture,
		HasGoverningDocs:   governingDocs,
		MaterialDiversion:  diversion,
	}
}

func resolveOfficersVII(root *etree.Element, idx *concordance.Index, schemaVersion string) []domain.OfficerEntry {
	groups := resolveAllGroups(root, officerGroupTags)
	if len(groups) == 0 {
		return nil
	}

	var officers []domain.OfficerEntry
	for _, g := range groups {
		name, hasPerson := childText(g, "PersonNm")
		businessName, hasBusiness := childText(g, "BusinessName")
		if !hasPerson && !hasBusiness {
			continue
		}
		if !hasPerson {
			name = businessName
		}

		title, _ := childText(g, "TitleTxt")
		hours := childNumeric(g, "AverageHoursPerWeekRt")
		officerInd, _ := childBoolean(g, "OfficerInd")
		trusteeInd, _ := childBoolean(g, "IndividualTrusteeOrDirectorInd")
		keyInd, _ := childBoolean(g, "KeyEmployeeInd")
		highestInd, _ := childBoolean(g, "HighestCompensatedEmployeeInd")

		officers = append(officers, domain.OfficerEntry{
			Name:                  name,
			Title:                 title,
			HoursPerWeek:          hours,
			IsOfficer:             officerInd,
			IsDirectorOrTrustee:   trusteeInd,
			IsKeyEmployee:         keyInd,
			IsHighestCompensated:  highestInd,
			ReportableCompOrg:     childNumericAlias(g, reportableCompOrgAliases),
			ReportableCompRelated: childNumericAlias(g, reportableCompRelatedAliases),
			OtherComp:             childNumericAlias(g, otherCompAliases),
		})
	}
	_ = idx // idx is not used for the fixed Part VII group/field names; kept for signature symmetry
	return officers
}

func resolveRevenueVIII(root *etree.Element, idx *concordance.Index, schemaVersion string) *domain.RevenuePartVIII {
	contributions, contributionsOK := numericField(root, idx, "TotalContributions", schemaVersion)
	programSvc, programSvcOK := numericField(root, idx, "TotalProgramServiceRevenue", schemaVersion)
	investment, investmentOK := numericField(root, idx, "TotalInvestmentIncome", schemaVersion)
	other, otherOK := numericField(root, idx, "TotalOtherRevenue", schemaVersion)
	total, totalOK := numericField(root, idx, "TotalRevenueAmt", schemaVersion)

	if !contributionsOK && !programSvcOK && !investmentOK && !otherOK && !totalOK {
		return nil
	}
	if !totalOK {
		total = contributions + programSvc + investment + other
	}

	rev := &domain.RevenuePartVIII{
		Contributions:         contributions,
		ProgramServiceRevenue: programSvc,
		InvestmentIncome:      investment,
		OtherRevenue:          other,
		Total:                 total,
		RatiosValid:           total > 0,
	}
	if rev.RatiosValid {
		rev.ContributionDependence = contributions / total
	}
	return rev
}

func numericField(root *etree.Element, idx *concordance.Index, variable, schemaVersion string) (float64, bool) {
	raw, ok := resolveText(root, idx, variable, schemaVersion)
	if !ok {
		return 0, false
	}
	return coerceNumeric(raw)
}

func booleanField(root *etree.Element, idx *concordance.Index, variable, schemaVersion string) (bool, bool) {
	raw, ok := resolveText(root, idx, variable, schemaVersion)
	if !ok {
		return false, false
	}
	return coerceBoolean(raw)
}

func childText(parent *etree.Element, tag string) (string, bool) {
	el := parent.FindElement(tag)
	if el == nil {
		return "", false
	}
	return coerceText(el.Text())
}

func childNumeric(parent *etree.Element, tag string) float64 {
	el := parent.FindElement(tag)
	if el == nil {
		return 0
	}
	v, _ := coerceNumeric(el.Text())
	return v
}

func childBoolean(parent *etree.Element, tag string) (bool, bool) {
	el := parent.FindElement(tag)
	if el == nil {
		return false, false
	}
	return coerceBoolean(el.Text())
}

func childNumericAlias(parent *etree.Element, aliases []string) float64 {
	for _, tag := range aliases {
		if el := parent.FindElement(tag); el != nil {
			if v, ok := coerceNumeric(el.Text()); ok {
				return v
			}
		}
	}
	return 0
}
