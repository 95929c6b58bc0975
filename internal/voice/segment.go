package voice

import (
	"strings"
	"unicode"
)

// abbreviations that end in a period without ending a sentence. Keys are
// lowercased with internal periods stripped, so "p.m." and "e.g." match.
var abbreviations = map[string]bool{
	"dr":   true,
	"mr":   true,
	"mrs":  true,
	"ms":   true,
	"prof": true,
	"st":   true,
	"jr":   true,
	"sr":   true,
	"vs":   true,
	"etc":  true,
	"eg":   true,
	"ie":   true,
	"am":   true,
	"pm":   true,
}

// Segmenter accumulates streamed text fragments and emits complete
// sentences as they form, preserving stream order. A sentence ends at
// terminal punctuation followed by whitespace; periods that belong to
// abbreviations or single-letter initials do not count. Sentence
// boundaries never depend on fragment boundaries.
//
// A Segmenter is not safe for concurrent use; the stream hook that feeds
// it already serializes pushes.
type Segmenter struct {
	buf []rune
}

// Push appends a fragment and returns the sentences it completed, in
// order. Text after the last boundary stays buffered for the next Push
// or Flush.
func (s *Segmenter) Push(fragment string) []string {
	s.buf = append(s.buf, []rune(fragment)...)

	var sentences []string
	start := 0
	for i := 0; i < len(s.buf)-1; i++ {
		r := s.buf[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Only a following space confirms the boundary; a period at the
		// end of the buffer could still be mid-number ("3." + "14").
		if !unicode.IsSpace(s.buf[i+1]) {
			continue
		}
		if r == '.' && nonTerminalPeriod(s.buf[:i]) {
			continue
		}
		if sent := strings.TrimSpace(string(s.buf[start : i+1])); sent != "" {
			sentences = append(sentences, sent)
		}
		start = i + 1
	}
	s.buf = s.buf[start:]
	return sentences
}

// Flush returns whatever is still buffered, trimmed, and resets the
// segmenter. Called once the stream has ended so a reply without trailing
// whitespace still gets spoken.
func (s *Segmenter) Flush() string {
	tail := strings.TrimSpace(string(s.buf))
	s.buf = nil
	return tail
}

// nonTerminalPeriod reports whether the period following prefix belongs
// to an abbreviation or an initial rather than ending a sentence.
func nonTerminalPeriod(prefix []rune) bool {
	// Walk back over the word the period attaches to. Internal periods
	// are part of the word so "p.m" and "e.g" come back whole.
	end := len(prefix)
	begin := end
	for begin > 0 {
		r := prefix[begin-1]
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		begin--
	}
	word := strings.ReplaceAll(string(prefix[begin:end]), ".", "")
	if word == "" {
		return false
	}
	// A single letter is an initial: "J. Smith".
	if len([]rune(word)) == 1 {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}
