package entries

import (
	"strings"
	"unicode"

	"github.com/vault-cli/lockbox/internal/domain"
)

// ParseSearchTokens splits the raw search string into lower-cased tokens.
// Tokens are delimited by '+' or any whitespace character.
func ParseSearchTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == '+'
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tokens = append(tokens, strings.ToLower(field))
	}

	if len(tokens) == 0 {
		return nil
	}

	return tokens
}

// MatchesSearchTokens reports whether the entry satisfies all search tokens.
// Each token must be contained in the title, username, url, notes or in a
// custom field key or plain custom field value. Protected values are never
// searched.
func MatchesSearchTokens(entry *domain.Entry, tokens []string) bool {
	if len(tokens) == 0 || entry == nil {
		return true
	}

	haystack := []string{
		strings.ToLower(entry.Title),
		strings.ToLower(entry.Username),
		strings.ToLower(entry.URL),
		strings.ToLower(entry.Notes),
	}
	for _, f := range entry.CustomFields {
		haystack = append(haystack, strings.ToLower(f.Key))
		if plain, ok := f.Value.(domain.PlainValue); ok {
			haystack = append(haystack, strings.ToLower(string(plain)))
		}
	}

	for _, token := range tokens {
		if !containsToken(haystack, strings.ToLower(token)) {
			return false
		}
	}

	return true
}

func containsToken(values []string, token string) bool {
	if token == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(v, token) {
			return true
		}
	}
	return false
}
