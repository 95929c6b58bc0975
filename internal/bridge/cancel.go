package bridge

import (
	"strings"
	"unicode/utf8"
)

// fuzzyCancelLimit bounds fuzzy keyword matching to short messages. A long
// message that happens to mention "stop" is an instruction, not a
// cancellation.
const fuzzyCancelLimit = 25 // runes

// cancelPhrases match exactly (after normalization) at any length.
var cancelPhrases = map[string]bool{
	"stop":        true,
	"cancel":      true,
	"abort":       true,
	"cancel that": true,
	"stop it":     true,
	"nevermind":   true,
	"never mind":  true,
	"forget it":   true,
	"wait stop":   true,
}

// cancelKeywords match as substrings, but only inside short messages.
var cancelKeywords = []string{"stop", "cancel", "abort", "nevermind", "never mind"}

// IsCancellation reports whether an inbound message should be read as a
// request to cancel the running turn rather than as a new instruction.
func IsCancellation(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.TrimRight(norm, "!.?, ")
	if norm == "" {
		return false
	}
	if cancelPhrases[norm] {
		return true
	}
	if utf8.RuneCountInString(norm) <= fuzzyCancelLimit {
		for _, kw := range cancelKeywords {
			if strings.Contains(norm, kw) {
				return true
			}
		}
	}
	return false
}
