package thresholds

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed overrides.yaml
var defaultOverridesYAML []byte

// yamlOverride mirrors Override with snake_case tags, decoded with
// gopkg.in/yaml.v3 so sector tuning lives in data, not Go source, per
// spec §9.
type yamlOverride struct {
	WeightYearsOperating *int `yaml:"weight_years_operating"`
	WeightRevenueRange   *int `yaml:"weight_revenue_range"`
	WeightSpendRate      *int `yaml:"weight_spend_rate"`
	WeightRecent990      *int `yaml:"weight_recent_990"`

	YearsPassMin   *float64 `yaml:"years_pass_min"`
	YearsReviewMin *float64 `yaml:"years_review_min"`

	RevenueFailMin   *float64 `yaml:"revenue_fail_min"`
	RevenuePassMin   *float64 `yaml:"revenue_pass_min"`
	RevenuePassMax   *float64 `yaml:"revenue_pass_max"`
	RevenueReviewMax *float64 `yaml:"revenue_review_max"`

	ExpenseRatioLowReview  *float64 `yaml:"expense_ratio_low_review"`
	ExpenseRatioPassMin    *float64 `yaml:"expense_ratio_pass_min"`
	ExpenseRatioPassMax    *float64 `yaml:"expense_ratio_pass_max"`
	ExpenseRatioHighReview *float64 `yaml:"expense_ratio_high_review"`

	Filing990PassMax   *float64 `yaml:"filing_990_pass_max"`
	Filing990ReviewMax *float64 `yaml:"filing_990_review_max"`

	ScorePassMin   *int `yaml:"score_pass_min"`
	ScoreReviewMin *int `yaml:"score_review_min"`

	RedFlagTooNewYears           *float64 `yaml:"red_flag_too_new_years"`
	RedFlagStale990Years         *float64 `yaml:"red_flag_stale_990_years"`
	RedFlagHighExpenseRatio      *float64 `yaml:"red_flag_high_expense_ratio"`
	RedFlagLowExpenseRatio       *float64 `yaml:"red_flag_low_expense_ratio"`
	RedFlagVeryLowRevenue        *float64 `yaml:"red_flag_very_low_revenue"`
	RedFlagHighCompensation      *float64 `yaml:"red_flag_high_compensation"`
	RedFlagModerateCompensation  *float64 `yaml:"red_flag_moderate_compensation"`
	RedFlagRevenueDeclinePercent *float64 `yaml:"red_flag_revenue_decline_percent"`
}

func (y yamlOverride) toOverride() Override {
	return Override{
		WeightYearsOperating: y.WeightYearsOperating,
		WeightRevenueRange:   y.WeightRevenueRange,
		WeightSpendRate:      y.WeightSpendRate,
		WeightRecent990:      y.WeightRecent990,

		YearsPassMin:   y.YearsPassMin,
		YearsReviewMin: y.YearsReviewMin,

		RevenueFailMin:   y.RevenueFailMin,
		RevenuePassMin:   y.RevenuePassMin,
		RevenuePassMax:   y.RevenuePassMax,
		RevenueReviewMax: y.RevenueReviewMax,

		ExpenseRatioLowReview:  y.ExpenseRatioLowReview,
		ExpenseRatioPassMin:    y.ExpenseRatioPassMin,
		ExpenseRatioPassMax:    y.ExpenseRatioPassMax,
		ExpenseRatioHighReview: y.ExpenseRatioHighReview,

		Filing990PassMax:   y.Filing990PassMax,
		Filing990ReviewMax: y.Filing990ReviewMax,

		ScorePassMin:   y.ScorePassMin,
		ScoreReviewMin: y.ScoreReviewMin,

		RedFlagTooNewYears:           y.RedFlagTooNewYears,
		RedFlagStale990Years:         y.RedFlagStale990Years,
		RedFlagHighExpenseRatio:      y.RedFlagHighExpenseRatio,
		RedFlagLowExpenseRatio:       y.RedFlagLowExpenseRatio,
		RedFlagVeryLowRevenue:        y.RedFlagVeryLowRevenue,
		RedFlagHighCompensation:      y.RedFlagHighCompensation,
		RedFlagModerateCompensation:  y.RedFlagModerateCompensation,
		RedFlagRevenueDeclinePercent: y.RedFlagRevenueDeclinePercent,
	}
}

// LoadOverridesYAML parses a sector-override YAML document (the embedded
// default, or a caller-supplied document with the same shape) into the map
// NewResolver expects.
func LoadOverridesYAML(data []byte) (map[byte]Override, error) {
	var raw map[string]yamlOverride
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("thresholds: parse overrides yaml: %w", err)
	}
	out := make(map[byte]Override, len(raw))
	for k, v := range raw {
		if len(k) != 1 {
			return nil, fmt.Errorf("thresholds: override key %q must be a single NTEE major-category letter", k)
		}
		out[k[0]] = v.toOverride()
	}
	return out, nil
}

// DefaultOverrides returns the embedded default sector-override set.
func DefaultOverrides() (map[byte]Override, error) {
	return LoadOverridesYAML(defaultOverridesYAML)
}

// NewDefaultResolver builds a Resolver from DefaultScoringThresholds and the
// embedded default overrides, validating the merged result for every
// sector.
func NewDefaultResolver() (*Resolver, error) {
	overrides, err := DefaultOverrides()
	if err != nil {
		return nil, err
	}
	return NewResolver(DefaultScoringThresholds(), overrides)
}
