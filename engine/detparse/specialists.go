package detparse

import (
	"regexp"
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/google/uuid"
)

func newEntityID() string {
	return "ent_" + uuid.NewString()[:12]
}

func plain(markdown string) string {
	return StripHTML(markdown)
}

var (
	invoiceNumberPattern = regexp.MustCompile(`(?i)invoice\s*(?:number|#|no\.?)\s*[:\-]?\s*([A-Za-z0-9\-]+)`)
	invoiceTotalPattern  = regexp.MustCompile(`(?i)(?:total|amount due|balance due)\s*[:\-]?\s*\$?\s*([\d,]+\.?\d*)`)
	invoiceDuePattern    = regexp.MustCompile(`(?i)due\s*date\s*[:\-]?\s*([A-Za-z0-9,\s/\-]+?)(?:\n|$)`)
	vendorPattern        = regexp.MustCompile(`(?i)(?:vendor|from|bill from)\s*[:\-]\s*([A-Za-z0-9&.,\s]+?)(?:\n|$)`)
	billToPattern        = regexp.MustCompile(`(?i)(?:bill to|to)\s*[:\-]\s*([A-Za-z0-9&.,\s]+?)(?:\n|$)`)
)

// ParseInvoice recognizes invoice-number/total/due-date/vendor fields and
// returns an Invoice entity plus, when present, a Vendor entity for the
// billing party.
func ParseInvoice(markdown, documentID string) []domain.Entity {
	text := plain(markdown)
	props := map[string]domain.PropValue{}
	if m := invoiceNumberPattern.FindStringSubmatch(text); m != nil {
		props["invoice_number"] = strings.TrimSpace(m[1])
	}
	if m := invoiceTotalPattern.FindStringSubmatch(text); m != nil {
		if v, ok := cleanNumeric(m[1]); ok {
			props["total"] = v
		}
	}
	if m := invoiceDuePattern.FindStringSubmatch(text); m != nil {
		props["due_date"] = strings.TrimSpace(m[1])
	}
	if len(props) == 0 {
		return nil
	}
	entities := []domain.Entity{{
		ID:         newEntityID(),
		Type:       domain.EntityInvoice,
		Name:       nameOr(props["invoice_number"], "Invoice"),
		Properties: props,
		Citations:  []domain.Citation{{Section: "invoice"}},
		DocumentID: documentID,
	}}
	if m := vendorPattern.FindStringSubmatch(text); m != nil {
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityVendor,
			Name:       strings.TrimSpace(m[1]),
			Properties: map[string]domain.PropValue{},
			Citations:  []domain.Citation{{Section: "invoice"}},
			DocumentID: documentID,
		})
	}
	return entities
}

func nameOr(v domain.PropValue, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return fallback + " " + s
	}
	return fallback
}

var (
	contractPartiesPattern = regexp.MustCompile(`(?i)(?:this agreement|this contract)[^.]*?between\s+([A-Za-z0-9&.,\s]+?)\s+and\s+([A-Za-z0-9&.,\s]+?)[,.\n]`)
	effectiveDatePattern   = regexp.MustCompile(`(?i)effective\s*(?:date|as of)\s*[:\-]?\s*([A-Za-z0-9,\s/\-]+?)(?:\n|$)`)
	clauseHeadingPattern   = regexp.MustCompile(`(?im)^\s*(?:section|article|clause)\s+([0-9]+(?:\.[0-9]+)*)\s*[:\-.]?\s*(.*)$`)
)

// ParseContract recognizes a "between X and Y" party clause, an effective
// date, and numbered section/article/clause headings.
func ParseContract(markdown, documentID string) []domain.Entity {
	text := plain(markdown)
	var entities []domain.Entity
	if m := contractPartiesPattern.FindStringSubmatch(text); m != nil {
		for _, party := range []string{m[1], m[2]} {
			name := strings.TrimSpace(party)
			if name == "" {
				continue
			}
			entities = append(entities, domain.Entity{
				ID:         newEntityID(),
				Type:       domain.EntityCompany,
				Name:       name,
				Properties: map[string]domain.PropValue{},
				Citations:  []domain.Citation{{Section: "preamble"}},
				DocumentID: documentID,
			})
		}
	}
	effective := ""
	if m := effectiveDatePattern.FindStringSubmatch(text); m != nil {
		effective = strings.TrimSpace(m[1])
	}
	for _, m := range clauseHeadingPattern.FindAllStringSubmatch(text, -1) {
		number := strings.TrimSpace(m[1])
		title := strings.TrimSpace(m[2])
		props := map[string]domain.PropValue{"clause_number": number}
		if title != "" {
			props["title"] = title
		}
		if effective != "" {
			props["effective_date"] = effective
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityClause,
			Name:       "Clause " + number,
			Properties: props,
			Citations:  []domain.Citation{{Section: "clause_" + number}},
			DocumentID: documentID,
		})
	}
	return entities
}

var (
	loanBorrowerPattern = regexp.MustCompile(`(?i)borrower\s*[:\-]\s*([A-Za-z0-9&.,\s]+?)(?:\n|$)`)
	loanLenderPattern   = regexp.MustCompile(`(?i)lender\s*[:\-]\s*([A-Za-z0-9&.,\s]+?)(?:\n|$)`)
	principalPattern    = regexp.MustCompile(`(?i)principal(?:\s*amount)?\s*[:\-]?\s*\$?\s*([\d,]+\.?\d*)`)
	interestRatePattern = regexp.MustCompile(`(?i)interest\s*rate\s*[:\-]?\s*([\d.]+)\s*%`)
	maturityPattern     = regexp.MustCompile(`(?i)maturity\s*(?:date)?\s*[:\-]?\s*([A-Za-z0-9,\s/\-]+?)(?:\n|$)`)
)

// ParseLoan recognizes borrower/lender, principal amount, interest rate,
// and maturity date in a loan agreement, producing one Loan entity plus
// Company entities for the named parties.
func ParseLoan(markdown, documentID string) []domain.Entity {
	text := plain(markdown)
	props := map[string]domain.PropValue{}
	if m := principalPattern.FindStringSubmatch(text); m != nil {
		if v, ok := cleanNumeric(m[1]); ok {
			props["principal"] = v
		}
	}
	if m := interestRatePattern.FindStringSubmatch(text); m != nil {
		if v, ok := cleanNumeric(m[1]); ok {
			props["interest_rate"] = v
		}
	}
	if m := maturityPattern.FindStringSubmatch(text); m != nil {
		props["maturity_date"] = strings.TrimSpace(m[1])
	}
	var borrower, lender string
	if m := loanBorrowerPattern.FindStringSubmatch(text); m != nil {
		borrower = strings.TrimSpace(m[1])
		props["borrower"] = borrower
	}
	if m := loanLenderPattern.FindStringSubmatch(text); m != nil {
		lender = strings.TrimSpace(m[1])
		props["lender"] = lender
	}
	if len(props) == 0 {
		return nil
	}
	name := "Loan"
	if borrower != "" {
		name = "Loan: " + borrower
	}
	entities := []domain.Entity{{
		ID:         newEntityID(),
		Type:       domain.EntityLoan,
		Name:       name,
		Properties: props,
		Citations:  []domain.Citation{{Section: "loan_terms"}},
		DocumentID: documentID,
	}}
	for _, party := range []string{borrower, lender} {
		if party == "" {
			continue
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityCompany,
			Name:       party,
			Properties: map[string]domain.PropValue{},
			Citations:  []domain.Citation{{Section: "loan_terms"}},
			DocumentID: documentID,
		})
	}
	return entities
}

var (
	emailFromPattern    = regexp.MustCompile(`(?im)^from\s*[:\-]\s*([A-Za-z0-9@.,\s'"_-]+?)\s*$`)
	emailToPattern      = regexp.MustCompile(`(?im)^to\s*[:\-]\s*([A-Za-z0-9@.,\s'"_-]+?)\s*$`)
	emailSubjectPattern = regexp.MustCompile(`(?im)^subject\s*[:\-]\s*(.+?)\s*$`)
	emailAmountPattern  = regexp.MustCompile(`(?i)(?:total|amount|paid)\s*[:\-]?\s*\$\s*([\d,]+\.?\d*)`)
	nameEmailPattern    = regexp.MustCompile(`(?i)^([A-Za-z0-9.,\s'"_-]*?)\s*<?([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})>?$`)
)

// ParseReceiptEmail recognizes From/To/Subject headers and a dollar
// amount, the shape of a forwarded receipt or confirmation email.
func ParseReceiptEmail(markdown, documentID string) []domain.Entity {
	text := plain(markdown)
	var entities []domain.Entity
	addPerson := func(raw, section string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		name := raw
		props := map[string]domain.PropValue{}
		if m := nameEmailPattern.FindStringSubmatch(raw); m != nil {
			if strings.TrimSpace(m[1]) != "" {
				name = strings.TrimSpace(m[1])
			} else {
				name = m[2]
			}
			props["email"] = m[2]
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityPerson,
			Name:       name,
			Properties: props,
			Citations:  []domain.Citation{{Section: section}},
			DocumentID: documentID,
		})
	}
	if m := emailFromPattern.FindStringSubmatch(text); m != nil {
		addPerson(m[1], "email_header")
	}
	if m := emailToPattern.FindStringSubmatch(text); m != nil {
		addPerson(m[1], "email_header")
	}
	props := map[string]domain.PropValue{}
	if m := emailSubjectPattern.FindStringSubmatch(text); m != nil {
		props["subject"] = strings.TrimSpace(m[1])
	}
	if m := emailAmountPattern.FindStringSubmatch(text); m != nil {
		if v, ok := cleanNumeric(m[1]); ok {
			props["amount"] = v
		}
	}
	if len(props) > 0 {
		name := "Receipt"
		if subj, ok := props["subject"].(string); ok && subj != "" {
			name = subj
		}
		entities = append(entities, domain.Entity{
			ID:         newEntityID(),
			Type:       domain.EntityInvoice,
			Name:       name,
			Properties: props,
			Citations:  []domain.Citation{{Section: "email_body"}},
			DocumentID: documentID,
		})
	}
	return entities
}

// DetectDocumentType classifies markdown into the specialist it should be
// routed to, mirroring the keyword heuristic the schema analyzer uses for
// its own document classification but returning a parser-selection label
// instead of a JSON Schema template name.
func DetectDocumentType(markdown string) string {
	text := strings.ToLower(plain(markdown))
	switch {
	case strings.Contains(text, "invoice") && (strings.Contains(text, "amount due") || strings.Contains(text, "invoice number") || strings.Contains(text, "invoice #")):
		return "invoice"
	case strings.Contains(text, "borrower") && strings.Contains(text, "lender"):
		return "loan"
	case strings.Contains(text, "agreement") && (strings.Contains(text, "section") || strings.Contains(text, "article") || strings.Contains(text, "clause")):
		return "contract"
	case strings.Contains(text, "from:") && strings.Contains(text, "to:") && strings.Contains(text, "subject:"):
		return "receipt_email"
	default:
		return "table"
	}
}
