// Package moderation censors forbidden words in relayed messages.
// Matching runs on a normalized view of the text (lowercased, leet
// speak folded, punctuation stripped) so spacing or symbol tricks do
// not slip a word past the automaton.
package moderation

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"chat-relay/errors"

	goahocorasick "github.com/anknown/ahocorasick"
)

type Moderator struct {
	matcher         *goahocorasick.Machine
	replacementChar rune
}

// NewModerator builds the Aho-Corasick automaton over the normalized
// forms of the forbidden words.
func NewModerator(words []string, replacementChar rune) (*Moderator, error) {
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		normalized := normalize([]rune(word), nil)
		if len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: machine, replacementChar: replacementChar}, nil
}

// LoadWords reads one forbidden word per line, skipping blanks and
// "#" comment lines.
func LoadWords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words, scanner.Err()
}

// Censor stars out every forbidden word found in the text, preserving
// the original length, spacing, and untouched characters.
func (m *Moderator) Censor(original string) string {
	origRunes := []rune(original)
	var origIdx []int
	normalized := normalize(origRunes, &origIdx)
	if len(normalized) == 0 {
		return original
	}

	spans := m.matcher.MultiPatternSearch(normalized, false)
	if len(spans) == 0 {
		return original
	}

	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		// Map the normalized span back onto the original runes and
		// star out everything between its first and last character.
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			origRunes[i] = m.replacementChar
		}
	}
	return string(origRunes)
}

// normalize lowercases, folds leet speak, and drops noise runes. When
// origIdx is non-nil it records, for every kept rune, its index in the
// input so matches can be mapped back.
func normalize(input []rune, origIdx *[]int) []rune {
	out := make([]rune, 0, len(input))
	for i, r := range input {
		folded := foldLeet(r)
		if isNoise(folded) {
			continue
		}
		out = append(out, unicode.ToLower(folded))
		if origIdx != nil {
			*origIdx = append(*origIdx, i)
		}
	}
	return out
}

// foldLeet maps common leet speak characters back to their standard
// alphabet counterparts.
func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
