package detparse

import "github.com/finkg-labs/finkg/engine/domain"

// Parse runs the deterministic cascade the normalizer uses as its
// "candidate B": the document-type-specific specialist (if the markdown
// is recognizable as one), unioned with whatever the table parser finds,
// deduplicated by entity name+type so a specialist and the table parser
// spotting the same row don't double-count it.
func Parse(markdown, documentID string) []domain.Entity {
	docType := DetectDocumentType(markdown)
	var specialized []domain.Entity
	switch docType {
	case "invoice":
		specialized = ParseInvoice(markdown, documentID)
	case "loan":
		specialized = ParseLoan(markdown, documentID)
	case "contract":
		specialized = ParseContract(markdown, documentID)
	case "receipt_email":
		specialized = ParseReceiptEmail(markdown, documentID)
	}
	tables := ParseTables(markdown, documentID)
	return dedup(append(specialized, tables...))
}

func dedup(entities []domain.Entity) []domain.Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		key := string(e.Type) + "|" + e.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
