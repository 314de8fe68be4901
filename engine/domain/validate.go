package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns: SQL/NoSQL/template fragments that should never
// appear in an analyst chat question, since the question text can end up
// embedded in graph queries or prompts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const minQueryLength = 3

// ValidateChatQuery validates an analyst chat question before it reaches
// the chat agent.
func ValidateChatQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return NewValidationError("text", trimmed, ErrQueryTooShort)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(trimmed) {
			return NewValidationError("text", trimmed, ErrQueryInjection)
		}
	}
	return nil
}

// ValidateEntity checks an Entity's type is in the closed taxonomy and it
// carries a name.
func ValidateEntity(e Entity) error {
	if !ValidEntityTypes[e.Type] {
		return NewValidationError("type", string(e.Type), ErrInvalidEntityType)
	}
	if strings.TrimSpace(e.Name) == "" {
		return NewValidationError("name", e.Name, ErrInvalidDocument)
	}
	return nil
}

// ValidateEdge checks an Edge's type is in the closed taxonomy and that it
// does not reference an entity missing from knownEntityIDs.
func ValidateEdge(e Edge, knownEntityIDs map[string]bool) error {
	if !ValidEdgeTypes[e.Type] {
		return NewValidationError("type", string(e.Type), ErrInvalidEdgeType)
	}
	if !knownEntityIDs[e.Source] || !knownEntityIDs[e.Target] {
		return NewValidationError("edge", e.ID, ErrDanglingEdge)
	}
	return nil
}
