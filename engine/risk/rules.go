package risk

import (
	"fmt"
	"math"

	"github.com/finkg-labs/finkg/engine/domain"
)

// comparator is how a rule's threshold decides a violation.
type comparator string

const (
	comparatorGT comparator = "gt"
	comparatorLT comparator = "lt"
)

// scoreFunc turns the actual value and threshold of a firing rule into a
// bounded [0,1] score.
type scoreFunc func(actual, threshold float64) float64

// rule is one row of the rule table: an entity type, the property it
// reads, a threshold, and the severity/recommendation to attach when it
// fires.
type rule struct {
	name           string
	entityType     domain.EntityType
	property       string
	threshold      float64
	comparator     comparator
	severity       domain.Severity
	recommendation string
	score          scoreFunc
	riskType       string
}

func upperBoundedScore(actual, threshold float64) float64 {
	if threshold == 0 {
		return 1
	}
	return math.Min(actual/threshold, 1)
}

func cashFlowScore(actual, _ float64) float64 {
	return math.Min(math.Abs(actual)/1_000_000, 1)
}

// ruleTable is the fixed set of rule-pass rules.
func ruleTable() []rule {
	return []rule{
		{
			name:           "high_variable_rate",
			entityType:     domain.EntityLoan,
			property:       "rate",
			threshold:      0.08,
			comparator:     comparatorGT,
			severity:       domain.SeverityHigh,
			recommendation: "Review refinancing options to cap variable-rate exposure.",
			score:          upperBoundedScore,
			riskType:       "high_variable_rate",
		},
		{
			name:           "high_debt_to_equity",
			entityType:     domain.EntityCompany,
			property:       "debt_to_equity",
			threshold:      2.0,
			comparator:     comparatorGT,
			severity:       domain.SeverityHigh,
			recommendation: "Assess deleveraging plan; high debt-to-equity increases default risk.",
			score:          upperBoundedScore,
			riskType:       "high_debt_to_equity",
		},
		{
			name:           "low_current_ratio",
			entityType:     domain.EntityCompany,
			property:       "current_ratio",
			threshold:      1.0,
			comparator:     comparatorLT,
			severity:       domain.SeverityMedium,
			recommendation: "Monitor short-term liquidity; current liabilities may exceed current assets.",
			score:          func(actual, threshold float64) float64 { return upperBoundedScore(threshold, actual) },
			riskType:       "low_current_ratio",
		},
		{
			name:           "negative_cash_flow",
			entityType:     domain.EntityMetric,
			property:       "cash_flow",
			threshold:      0,
			comparator:     comparatorLT,
			severity:       domain.SeverityMedium,
			recommendation: "Investigate cause of negative cash flow and remediation timeline.",
			score:          cashFlowScore,
			riskType:       "negative_cash_flow",
		},
		{
			name:           "loan_maturity_imminent",
			entityType:     domain.EntityLoan,
			property:       "months_to_maturity",
			threshold:      6,
			comparator:     comparatorLT,
			severity:       domain.SeverityMedium,
			recommendation: "Begin refinancing or repayment planning ahead of maturity.",
			score:          func(actual, threshold float64) float64 { return upperBoundedScore(threshold, actual) },
			riskType:       "loan_maturity_imminent",
		},
		{
			name:           "past_due_invoice",
			entityType:     domain.EntityInvoice,
			property:       "days_overdue",
			threshold:      30,
			comparator:     comparatorGT,
			severity:       domain.SeverityLow,
			recommendation: "Follow up on overdue invoice collection.",
			score:          upperBoundedScore,
			riskType:       "past_due_invoice",
		},
	}
}

// violates reports whether actual trips the rule's comparator/threshold.
func (r rule) violates(actual float64) bool {
	switch r.comparator {
	case comparatorLT:
		return actual < r.threshold
	default:
		return actual > r.threshold
	}
}

func (r rule) describe(entity domain.Entity, actual float64) string {
	return fmt.Sprintf("%s: %s %s=%.4g breaches threshold %.4g", r.name, entity.Name, r.property, actual, r.threshold)
}
