// Package schemaanalyzer deterministically infers a JSON Schema from
// extracted markdown, so the Extraction Orchestrator's adaptive-schema
// mode can ask the remote Extract call for a shape tailored to the
// document instead of a generic summary.
package schemaanalyzer

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/net/html"
)

// financialKeywords flags a table header as numeric-typed in the
// synthesized schema.
var financialKeywords = map[string]bool{
	"amount": true, "total": true, "balance": true, "revenue": true,
	"price": true, "cost": true, "value": true, "rate": true,
	"percentage": true, "percent": true, "count": true, "quantity": true,
	"sum": true, "income": true, "expense": true, "debt": true,
	"assets": true, "liabilities": true, "equity": true, "cash": true,
	"payable": true, "receivable": true, "margin": true, "ratio": true,
	"interest": true, "principal": true, "fee": true, "tax": true,
	"year": true, "quarter": true, "month": true, "age": true,
}

var pipeRowPattern = regexp.MustCompile(`^\|.*\|$`)
var pipeSeparatorPattern = regexp.MustCompile(`^\|[\s:|-]+\|$`)

// Analyzer infers a JSON Schema from document markdown.
type Analyzer struct{}

// New creates an Analyzer. It is stateless; exported as a type for
// symmetry with the other pipeline components and so callers can inject
// test doubles.
func New() *Analyzer { return &Analyzer{} }

// Infer never fails: on any inability to find structure it returns the
// default single-property {"summary": string} schema.
func (a *Analyzer) Infer(markdown string) map[string]any {
	if tables := extractHTMLTables(markdown); len(tables) > 0 {
		return a.validate(schemaFromTables(tables))
	}
	if tables := extractPipeTables(markdown); len(tables) > 0 {
		return a.validate(schemaFromTables(tables))
	}
	if label := classifyDocument(markdown); label != "" {
		return a.validate(domainTemplate(label))
	}
	return DefaultSchema()
}

// DefaultSchema is the minimal fallback schema used whenever structure
// cannot be inferred, or adaptive extraction otherwise fails.
func DefaultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"summary"},
	}
}

// validate compiles schema with a real JSON Schema validator before
// handing it back; a compile failure (which should not happen for
// schemas this package itself constructs) degrades to DefaultSchema so
// the orchestrator never has to special-case a broken schema.
func (a *Analyzer) validate(schema map[string]any) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return DefaultSchema()
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return DefaultSchema()
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return DefaultSchema()
	}
	return schema
}

type htmlTable struct {
	headers []string
	rows    [][]string
}

// extractHTMLTables finds every <table> element in markdown and extracts
// a header row plus data rows, following the "most non-empty cells among
// the first three rows" rule.
func extractHTMLTables(markdown string) []htmlTable {
	if !strings.Contains(markdown, "<table") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(markdown))
	if err != nil {
		return nil
	}
	var tables []htmlTable
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			if t, ok := parseHTMLTable(n); ok {
				tables = append(tables, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables
}

func parseHTMLTable(table *html.Node) (htmlTable, bool) {
	var rows [][]string
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, strings.TrimSpace(textContent(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(table)
	if len(rows) == 0 {
		return htmlTable{}, false
	}
	headerIdx := bestHeaderRow(rows)
	headers := rows[headerIdx]
	var dataRows [][]string
	for i, r := range rows {
		if i != headerIdx {
			dataRows = append(dataRows, r)
		}
	}
	return htmlTable{headers: headers, rows: dataRows}, true
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// bestHeaderRow picks the row with the most non-empty cells among the
// first three rows.
func bestHeaderRow(rows [][]string) int {
	best := 0
	bestCount := -1
	limit := len(rows)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		count := 0
		for _, cell := range rows[i] {
			if strings.TrimSpace(cell) != "" {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = i
		}
	}
	return best
}

// extractPipeTables finds GitHub-flavored pipe-delimited markdown tables:
// a header row, a separator row of dashes/colons, then data rows.
func extractPipeTables(markdown string) []htmlTable {
	lines := strings.Split(markdown, "\n")
	var tables []htmlTable
	for i := 0; i < len(lines)-1; i++ {
		if !pipeRowPattern.MatchString(strings.TrimSpace(lines[i])) {
			continue
		}
		if !pipeSeparatorPattern.MatchString(strings.TrimSpace(lines[i+1])) {
			continue
		}
		headers := splitPipeRow(lines[i])
		var rows [][]string
		j := i + 2
		for ; j < len(lines); j++ {
			if !pipeRowPattern.MatchString(strings.TrimSpace(lines[j])) {
				break
			}
			rows = append(rows, splitPipeRow(lines[j]))
		}
		if len(headers) > 0 {
			tables = append(tables, htmlTable{headers: headers, rows: rows})
		}
		i = j - 1
	}
	return tables
}

func splitPipeRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// schemaFromTables unions headers across all tables (first-seen order)
// and emits a single top-level array schema named by classifyArrayName.
func schemaFromTables(tables []htmlTable) map[string]any {
	var headers []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, h := range t.headers {
			key := strings.ToLower(strings.TrimSpace(h))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			headers = append(headers, h)
		}
	}
	arrayName := classifyArrayName(headers)
	props := make(map[string]any, len(headers))
	for _, h := range headers {
		props[propertyKey(h)] = map[string]any{"type": propertyType(h)}
	}
	itemSchema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			arrayName: map[string]any{
				"type":  "array",
				"items": itemSchema,
			},
		},
	}
}

func propertyKey(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	if h == "" {
		return "field"
	}
	return h
}

func propertyType(header string) string {
	h := strings.ToLower(header)
	for kw := range financialKeywords {
		if strings.Contains(h, kw) {
			return "number"
		}
	}
	return "string"
}

// classifyArrayName picks the top-level array name by scanning headers
// for domain vocabulary.
func classifyArrayName(headers []string) string {
	joined := strings.ToLower(strings.Join(headers, " "))
	switch {
	case containsAny(joined, "city", "cities", "county", "state", "region", "location"):
		return "cities"
	case containsAny(joined, "company", "companies", "corporation", "subsidiary", "vendor"):
		return "companies"
	case containsAny(joined, "person", "people", "name", "employee", "contact"):
		return "people"
	default:
		return "records"
	}
}

// classifyDocument keyword-classifies markdown with no detected tables
// into a domain label, or "" if nothing matches.
func classifyDocument(markdown string) string {
	text := strings.ToLower(markdown)
	switch {
	case containsAny(text, "invoice number", "invoice #", "bill to", "remit to"):
		return "invoice"
	case containsAny(text, "receipt", "subtotal", "cashier"):
		return "receipt"
	case containsAny(text, "agreement", "whereas", "party of the first part", "covenant"):
		return "contract"
	case containsAny(text, "balance sheet", "income statement", "cash flow statement", "statement of operations"):
		return "financial_statement"
	default:
		return ""
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// domainTemplate returns a schema template for a keyword-classified
// document with no tables.
func domainTemplate(label string) map[string]any {
	switch label {
	case "invoice":
		return objectSchema(map[string]string{
			"invoice_number": "string", "vendor_name": "string", "total_amount": "number",
			"due_date": "string", "line_items": "string",
		})
	case "receipt":
		return objectSchema(map[string]string{
			"merchant": "string", "total_amount": "number", "date": "string", "items": "string",
		})
	case "contract":
		return objectSchema(map[string]string{
			"parties": "string", "effective_date": "string", "term": "string",
			"governing_law": "string", "clauses": "string",
		})
	case "financial_statement":
		return objectSchema(map[string]string{
			"period": "string", "total_revenue": "number", "total_expenses": "number",
			"net_income": "number", "total_assets": "number", "total_liabilities": "number",
		})
	default:
		return DefaultSchema()
	}
}

func objectSchema(fields map[string]string) map[string]any {
	props := make(map[string]any, len(fields))
	for k, t := range fields {
		props[k] = map[string]any{"type": t}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
