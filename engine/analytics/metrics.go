package analytics

import (
	"github.com/finkg-labs/finkg/engine/domain"
)

func builtinMetrics() []Metric {
	return []Metric{
		{
			Name:              "property_threshold",
			AllowedTypes:      allEntityTypes(),
			DefaultParameters: map[string]any{"property": "value", "operator": "gt", "threshold": 0.0},
			Handler:           propertyThreshold,
		},
		{
			Name:              "property_comparison",
			AllowedTypes:      allEntityTypes(),
			DefaultParameters: map[string]any{"left": "value", "right": "value", "mode": "ratio"},
			Handler:           propertyComparison,
		},
		{
			Name:              "grouped_aggregation",
			AllowedTypes:      allEntityTypes(),
			DefaultParameters: map[string]any{"group_by": "type", "aggregate": "value", "function": "sum"},
			Handler:           groupedAggregation,
		},
		{
			Name:              "sequential_drop",
			AllowedTypes:      allEntityTypes(),
			DefaultParameters: map[string]any{"group_by": "type", "order_by": "value", "ratio_threshold": 0.2},
			Handler:           sequentialDrop,
		},
		{
			Name:              "liquidity_analysis",
			AllowedTypes:      []domain.EntityType{domain.EntityMetric, domain.EntityCompany},
			DefaultParameters: map[string]any{"property": "current_ratio", "operator": "lt", "threshold": 1.0},
			Handler:           propertyThreshold,
		},
		{
			Name:              "debt_risk",
			AllowedTypes:      []domain.EntityType{domain.EntityLoan, domain.EntityInstrument},
			DefaultParameters: map[string]any{"property": "debt_to_equity", "operator": "gt", "threshold": 2.0},
			Handler:           propertyThreshold,
		},
		{
			Name:              "loan_maturity",
			AllowedTypes:      []domain.EntityType{domain.EntityLoan},
			DefaultParameters: map[string]any{"group_by": "maturity_date", "aggregate": "principal", "function": "sum"},
			Handler:           groupedAggregation,
		},
	}
}

// propertyThreshold filters entities by a property compared to a literal.
func propertyThreshold(entities []domain.Entity, params map[string]any) []map[string]any {
	property := paramString(params, "property", "value")
	operator := paramString(params, "operator", "gt")
	threshold := paramFloat(params, "threshold", 0)

	var results []map[string]any
	for _, e := range entities {
		v, ok := propFloat(e, property)
		if !ok {
			continue
		}
		if compare(v, operator, threshold) {
			results = append(results, entityResult(e, map[string]any{
				"property":  property,
				"value":     v,
				"threshold": threshold,
			}))
		}
	}
	return results
}

func compare(actual float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return actual > threshold
	case "lt":
		return actual < threshold
	case "gte":
		return actual >= threshold
	case "lte":
		return actual <= threshold
	case "eq":
		return actual == threshold
	default:
		return false
	}
}

// propertyComparison compares two properties per entity.
func propertyComparison(entities []domain.Entity, params map[string]any) []map[string]any {
	left := paramString(params, "left", "value")
	right := paramString(params, "right", "value")
	mode := paramString(params, "mode", "ratio")

	var results []map[string]any
	for _, e := range entities {
		l, ok1 := propFloat(e, left)
		r, ok2 := propFloat(e, right)
		if !ok1 || !ok2 {
			continue
		}
		var computed float64
		switch mode {
		case "diff":
			computed = l - r
		case "pct":
			if r == 0 {
				continue
			}
			computed = (l - r) / r * 100
		default:
			if r == 0 {
				continue
			}
			computed = l / r
		}
		results = append(results, entityResult(e, map[string]any{
			"left":  l,
			"right": r,
			"mode":  mode,
			"value": computed,
		}))
	}
	return results
}

// groupedAggregation groups entities by a field and aggregates another.
func groupedAggregation(entities []domain.Entity, params map[string]any) []map[string]any {
	groupBy := paramString(params, "group_by", "type")
	aggregate := paramString(params, "aggregate", "value")
	function := paramString(params, "function", "sum")

	groups := groupEntities(entities, groupBy)
	var results []map[string]any
	for _, key := range sortedKeys(groups) {
		var values []float64
		for _, e := range groups[key] {
			if v, ok := propFloat(e, aggregate); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		results = append(results, map[string]any{
			"group":     key,
			"aggregate": aggregate,
			"function":  function,
			"value":     aggregateValues(values, function),
			"count":     len(values),
		})
	}
	return results
}

func aggregateValues(values []float64, function string) float64 {
	switch function {
	case "avg":
		return sum(values) / float64(len(values))
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case "count":
		return float64(len(values))
	default:
		return sum(values)
	}
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// sequentialDrop orders each group descending by a property and flags
// adjacent drops whose ratio meets or exceeds the threshold.
func sequentialDrop(entities []domain.Entity, params map[string]any) []map[string]any {
	groupBy := paramString(params, "group_by", "type")
	orderBy := paramString(params, "order_by", "value")
	threshold := paramFloat(params, "ratio_threshold", 0.2)

	groups := groupEntities(entities, groupBy)
	var results []map[string]any
	for _, key := range sortedKeys(groups) {
		members := withProperty(groups[key], orderBy)
		sortDescendingByProperty(members, orderBy)
		for i := 1; i < len(members); i++ {
			prev, _ := propFloat(members[i-1], orderBy)
			cur, _ := propFloat(members[i], orderBy)
			if prev == 0 {
				continue
			}
			ratio := (prev - cur) / prev
			if ratio >= threshold {
				results = append(results, entityResult(members[i], map[string]any{
					"group":          key,
					"previous_value": prev,
					"value":          cur,
					"drop_ratio":     ratio,
				}))
			}
		}
	}
	return results
}

func groupEntities(entities []domain.Entity, field string) map[string][]domain.Entity {
	groups := map[string][]domain.Entity{}
	for _, e := range entities {
		key := string(e.Type)
		if field != "type" {
			if s, ok := propString(e, field); ok {
				key = s
			} else {
				continue
			}
		}
		groups[key] = append(groups[key], e)
	}
	return groups
}

func withProperty(entities []domain.Entity, field string) []domain.Entity {
	var out []domain.Entity
	for _, e := range entities {
		if _, ok := propFloat(e, field); ok {
			out = append(out, e)
		}
	}
	return out
}

func sortDescendingByProperty(entities []domain.Entity, field string) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0; j-- {
			a, _ := propFloat(entities[j-1], field)
			b, _ := propFloat(entities[j], field)
			if a >= b {
				break
			}
			entities[j-1], entities[j] = entities[j], entities[j-1]
		}
	}
}
