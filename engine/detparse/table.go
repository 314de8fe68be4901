package detparse

import (
	"strconv"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/google/uuid"
)

// ParseTables is the normalizer's deterministic workhorse: it recovers
// every table in markdown, merges continuation tables that repeat the
// same header row, and converts each data row into one Entity keyed by
// its first column. Numeric cells are coerced to float64 so downstream
// metric analytics can compare them directly.
func ParseTables(markdown, documentID string) []domain.Entity {
	tables := mergeContinuations(extractTables(markdown))
	var entities []domain.Entity
	for _, t := range tables {
		if len(t.Headers) == 0 {
			continue
		}
		entityType := classifyEntityType(t.Headers)
		for rowIdx, row := range t.Rows {
			name := ""
			if len(row) > 0 {
				name = strings.TrimSpace(row[0])
			}
			if name == "" {
				continue
			}
			props := make(map[string]domain.PropValue, len(t.Headers))
			for i, header := range t.Headers {
				if i >= len(row) || i == 0 {
					continue
				}
				header = strings.TrimSpace(header)
				if header == "" {
					continue
				}
				if v, ok := cleanNumeric(row[i]); ok {
					props[header] = v
				} else {
					props[strings.ToLower(header)] = strings.TrimSpace(row[i])
				}
			}
			entities = append(entities, domain.Entity{
				ID:         "ent_" + uuid.NewString()[:12],
				Type:       entityType,
				Name:       name,
				Properties: props,
				Citations: []domain.Citation{{
					TableID: t.ID,
					Cell:    "row_" + strconv.Itoa(rowIdx),
				}},
				DocumentID: documentID,
			})
		}
	}
	return entities
}

// mergeContinuations folds a table into the preceding one when its header
// row is identical, which is how multi-page tables reappear once parsed
// out of markdown.
func mergeContinuations(tables []htmlTable) []htmlTable {
	var merged []htmlTable
	for _, t := range tables {
		if len(merged) > 0 && sameHeaders(merged[len(merged)-1].Headers, t.Headers) {
			merged[len(merged)-1].Rows = append(merged[len(merged)-1].Rows, t.Rows...)
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

func sameHeaders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			continue
		}
		return false
	}
	return true
}

// classifyEntityType guesses which closed EntityType a table's rows
// represent from its header vocabulary, defaulting to Metric for purely
// numeric/tabular data with no recognizable entity-name column.
func classifyEntityType(headers []string) domain.EntityType {
	joined := strings.ToLower(strings.Join(headers, " "))
	switch {
	case strings.Contains(joined, "vendor") || strings.Contains(joined, "supplier"):
		return domain.EntityVendor
	case strings.Contains(joined, "borrower") || strings.Contains(joined, "lender") || strings.Contains(joined, "loan"):
		return domain.EntityLoan
	case strings.Contains(joined, "invoice"):
		return domain.EntityInvoice
	case strings.Contains(joined, "subsidiary"):
		return domain.EntitySubsidiary
	case strings.Contains(joined, "name") && (strings.Contains(joined, "title") || strings.Contains(joined, "role")):
		return domain.EntityPerson
	case strings.Contains(joined, "city") || strings.Contains(joined, "address") || strings.Contains(joined, "location") || strings.Contains(joined, "country"):
		return domain.EntityLocation
	case strings.Contains(joined, "company") || strings.Contains(joined, "entity") || strings.Contains(joined, "issuer"):
		return domain.EntityCompany
	default:
		return domain.EntityMetric
	}
}
