package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/google/uuid"
)

// rawTypeMapping is the fixed {ORGANIZATION→Company, DEBT→Loan, …} table
// the schema-based candidate decodes the remote extraction service's free
// string types through.
var rawTypeMapping = map[string]domain.EntityType{
	"ORGANIZATION":     domain.EntityCompany,
	"COMPANY":          domain.EntityCompany,
	"ISSUER":           domain.EntityCompany,
	"SUBSIDIARY":       domain.EntitySubsidiary,
	"DEBT":             domain.EntityLoan,
	"LOAN":             domain.EntityLoan,
	"CREDIT_FACILITY":  domain.EntityLoan,
	"INVOICE":          domain.EntityInvoice,
	"BILL":             domain.EntityInvoice,
	"METRIC":           domain.EntityMetric,
	"FINANCIAL_METRIC": domain.EntityMetric,
	"CLAUSE":           domain.EntityClause,
	"COVENANT":         domain.EntityClause,
	"SECTION":          domain.EntityClause,
	"INSTRUMENT":       domain.EntityInstrument,
	"SECURITY":         domain.EntityInstrument,
	"VENDOR":           domain.EntityVendor,
	"SUPPLIER":         domain.EntityVendor,
	"PERSON":           domain.EntityPerson,
	"INDIVIDUAL":       domain.EntityPerson,
	"LOCATION":         domain.EntityLocation,
	"ADDRESS":          domain.EntityLocation,
}

func mapRawType(raw string) domain.EntityType {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if t, ok := rawTypeMapping[key]; ok {
		return t
	}
	if titled := titleCase(key); domain.ValidEntityTypes[domain.EntityType(titled)] {
		return domain.EntityType(titled)
	}
	return domain.EntityMetric
}

func titleCase(upper string) string {
	if upper == "" {
		return upper
	}
	return upper[:1] + strings.ToLower(upper[1:])
}

func newEntityID() string {
	return "ent_" + uuid.NewString()[:12]
}

// schemaEntities decodes an extraction record's entities[], key_values[],
// and tables[] into Entities via the fixed type mapping.
func schemaEntities(extraction domain.Extraction, documentID string) []domain.Entity {
	var entities []domain.Entity

	if extraction.StructuredExtraction != nil {
		for _, re := range extraction.StructuredExtraction.Entities {
			props := make(map[string]domain.PropValue, len(re.Properties))
			for k, v := range re.Properties {
				props[k] = v
			}
			e := domain.Entity{
				ID:           newEntityID(),
				Type:         mapRawType(re.Type),
				Name:         re.Name,
				OriginalType: re.Type,
				Properties:   props,
				DocumentID:   documentID,
			}
			if re.Citation != nil {
				e.Citations = []domain.Citation{*re.Citation}
			}
			entities = append(entities, e)
		}
	}

	for k, v := range extraction.KeyValues {
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityMetric,
			Name:       k,
			Properties: map[string]domain.PropValue{"value": v},
			DocumentID: documentID,
		})
	}

	for _, t := range extraction.Tables {
		entities = append(entities, entitiesFromTable(t, documentID)...)
	}

	if len(entities) == 0 && extraction.StructuredExtraction != nil && extraction.StructuredExtraction.Summary != "" {
		entities = append(entities, metricsFromSummary(extraction.StructuredExtraction.Summary, documentID)...)
	}

	return entities
}

// entitiesFromTable mirrors engine/detparse's table-to-entity conversion
// for extraction.Tables (already-parsed domain.Table values rather than
// markdown this package would have to re-scan).
func entitiesFromTable(t domain.Table, documentID string) []domain.Entity {
	if len(t.Headers) == 0 {
		return nil
	}
	var entities []domain.Entity
	for rowIdx, row := range t.Rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
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
			if v, err := strconv.ParseFloat(strings.ReplaceAll(row[i], ",", ""), 64); err == nil {
				props[header] = v
			} else {
				props[strings.ToLower(header)] = strings.TrimSpace(row[i])
			}
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityMetric,
			Name:       strings.TrimSpace(row[0]),
			Properties: props,
			Citations:  []domain.Citation{{TableID: t.ID, Cell: "row_" + strconv.Itoa(rowIdx)}},
			DocumentID: documentID,
		})
	}
	return entities
}

var summaryMetricPattern = regexp.MustCompile(`(?i)([A-Za-z][A-Za-z \-]{2,40}?)\s*[:\-]\s*\$?\s*([\d,]+\.?\d*)\s*%?`)

// metricsFromSummary synthesizes fallback Metric entities from a
// summary-only extraction, so even a record with nothing but prose
// yields something the cascade can select.
func metricsFromSummary(summary, documentID string) []domain.Entity {
	var entities []domain.Entity
	for _, m := range summaryMetricPattern.FindAllStringSubmatch(summary, -1) {
		name := strings.TrimSpace(m[1])
		valueStr := strings.ReplaceAll(m[2], ",", "")
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil || name == "" {
			continue
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityMetric,
			Name:       name,
			Properties: map[string]domain.PropValue{"value": v},
			Citations:  []domain.Citation{{Section: "summary"}},
			DocumentID: documentID,
		})
	}
	return entities
}

// derivedLookup scans the whole markdown document for grouping-field
// values ("County: Cook", "State: IL", …) that may be missing on the
// schema-based candidate.
func derivedLookup(markdown string) map[string]string {
	fields := []string{"county", "state", "country", "region", "industry", "sector"}
	out := map[string]string{}
	for _, field := range fields {
		pattern := regexp.MustCompile(`(?i)` + field + `\s*[:\-]\s*([A-Za-z0-9 ,.\-]+?)(?:\n|$)`)
		if m := pattern.FindStringSubmatch(markdown); m != nil {
			out[field] = strings.TrimSpace(m[1])
		}
	}
	return out
}
