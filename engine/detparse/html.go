// Package detparse implements the deterministic fallback parsers: one
// table parser (the normalizer's workhorse) plus four document-type
// specialists (invoice, contract, loan, receipt/email). Every parser is a
// pure function over markdown and document identifiers, with no network
// calls and no LLM, so the cascade in engine/normalize always has a
// deterministic candidate to fall back on.
package detparse

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// StripHTML renders markdown/HTML-mixed text down to plain text, used by
// every specialist parser so its regex pattern library never has to
// account for markup.
func StripHTML(input string) string {
	if !strings.Contains(input, "<") {
		return input
	}
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "table" || n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// htmlTable is one parsed table: a header row plus data rows.
type htmlTable struct {
	ID      string
	Headers []string
	Rows    [][]string
	Page    int
}

var pipeRowPattern = regexp.MustCompile(`^\|.*\|$`)
var pipeSeparatorPattern = regexp.MustCompile(`^\|[\s:|-]+\|$`)

// extractTables finds both HTML <table> elements and pipe-delimited
// markdown tables: all HTML tables first, then all pipe tables, each
// group in document order.
func extractTables(markdown string) []htmlTable {
	var tables []htmlTable
	tables = append(tables, extractHTMLTables(markdown)...)
	tables = append(tables, extractPipeTables(markdown)...)
	return tables
}

func extractHTMLTables(markdown string) []htmlTable {
	if !strings.Contains(markdown, "<table") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(markdown))
	if err != nil {
		return nil
	}
	var tables []htmlTable
	idx := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			if t, ok := parseHTMLTable(n); ok {
				idx++
				t.ID = "table_" + strconv.Itoa(idx)
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
	return htmlTable{Headers: headers, Rows: dataRows}, true
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

func extractPipeTables(markdown string) []htmlTable {
	lines := strings.Split(markdown, "\n")
	var tables []htmlTable
	idx := 0
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
			idx++
			tables = append(tables, htmlTable{ID: "table_pipe_" + strconv.Itoa(idx), Headers: headers, Rows: rows})
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

// cleanNumeric strips thousands separators/currency symbols and reports
// whether what remains is fully numeric, per the table parser's coercion
// rule.
func cleanNumeric(s string) (float64, bool) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.TrimSuffix(trimmed, "%")
	negative := false
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") {
		negative = true
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "("), ")")
	}
	cleaned := strings.ReplaceAll(trimmed, ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}
