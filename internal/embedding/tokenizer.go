package embedding

import "strings"

// Tokenize lower-cases text and returns its runs of ASCII letters, digits and
// underscores, in order. Everything else separates tokens.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	start := -1
	for i := 0; i < len(lower); i++ {
		if isTokenByte(lower[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, lower[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, lower[start:])
	}
	return tokens
}

func isTokenByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
