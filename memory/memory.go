// Package memory provides storage-agnostic helpers for remembered facts.
// Use these with any memory backend, such as memory/sqlite.
package memory

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentRunes caps the length of a single remembered fact.
	MaxContentRunes = 2000
	// MaxEntries is how many facts a backend keeps; older ones are pruned.
	MaxEntries = 1000
)

var (
	ErrEmpty   = errors.New("memory content is empty")
	ErrTrivial = errors.New("memory content carries no information")
	ErrTooLong = errors.New("memory content is too long")
)

// trivial holds acknowledgements that are never worth remembering.
var trivial = map[string]bool{
	"ok": true, "okay": true, "okey": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"yes": true, "no": true, "yep": true, "nope": true,
	"nice": true, "good": true, "great": true, "cool": true,
	"lol": true, "haha": true, "hmm": true, "hm": true, "oh": true, "ah": true,
}

// Clean normalizes a fact before it is stored: whitespace runs collapse to
// one space, and empty, trivial or oversized content is rejected.
func Clean(content string) (string, error) {
	cleaned := strings.Join(strings.Fields(content), " ")
	switch {
	case cleaned == "":
		return "", ErrEmpty
	case trivial[strings.ToLower(strings.Trim(cleaned, ".!?"))]:
		return "", ErrTrivial
	case utf8.RuneCountInString(cleaned) > MaxContentRunes:
		return "", ErrTooLong
	}
	return cleaned, nil
}

// Terms splits a recall query into lower-cased search terms, dropping
// duplicates and one-letter words.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '?' || r == '!' || r == ';' || r == ':' || r == '\t' || r == '\n'
	}) {
		if utf8.RuneCountInString(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Score counts how many terms occur in content, case-insensitively.
func Score(content string, terms []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}
