package dialogue

import (
	"strings"
	"unicode"
)

// LooksLikeNameAttempt reports whether text is probably the caller saying a
// name, using the default phrase lists.
func LooksLikeNameAttempt(text, pendingField, pendingValue string) bool {
	return DefaultPhrases().LooksLikeNameAttempt(text, pendingField, pendingValue)
}

// LooksLikeNameAttempt is true when text has two or three tokens and none is a
// question word, or when a name field is pending and its value is missing or
// shorter than two characters.
func (p Phrases) LooksLikeNameAttempt(text, pendingField, pendingValue string) bool {
	if p.IsNameField(pendingField) && len([]rune(strings.TrimSpace(pendingValue))) < 2 {
		return true
	}

	tokens := tokenize(text)
	if len(tokens) < 2 || len(tokens) > 3 {
		return false
	}
	for _, tok := range tokens {
		for _, q := range p.QuestionWords {
			if tok == strings.ToLower(q) {
				return false
			}
		}
	}
	return true
}

// IsNameField reports whether field holds a person's name.
func (p Phrases) IsNameField(field string) bool {
	field = strings.ToLower(strings.TrimSpace(field))
	if field == "" {
		return false
	}
	for _, f := range p.NameFields {
		if field == f {
			return true
		}
	}
	return false
}

// tokenize lower-cases text and splits it into words. Typographic
// apostrophes are folded so "I’m" and "I'm" agree.
func tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}
