package chatagent

import (
	"strings"

	"github.com/finkg-labs/finkg/engine/domain"
)

const matchThreshold = 0.2

// propertyVocabulary collects the distinct property keys seen across a
// set of entities, used as the candidate pool for fuzzy field-name
// matching in graph_query.
func propertyVocabulary(entities []domain.Entity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entities {
		for k := range e.Properties {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// normalizeProperty maps a user-supplied field name (as typed in a chat
// message, e.g. "cash balance") onto the closest known property key
// (e.g. "cash_and_cash_equivalents") by token overlap. Falls back to a
// normalized form of the raw field when no known key scores above
// matchThreshold.
func normalizeProperty(field string, known []string) string {
	fieldTokens := tokenize(field)
	if len(known) == 0 || len(fieldTokens) == 0 {
		return snakeCase(field)
	}

	best := ""
	bestScore := 0.0
	for _, candidate := range known {
		score := jaccard(fieldTokens, tokenize(candidate))
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore >= matchThreshold {
		return best
	}
	return snakeCase(field)
}

func tokenize(s string) map[string]bool {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		tokens[tok] = true
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func snakeCase(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}
