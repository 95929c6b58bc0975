package bridge

import (
	"strings"
	"unicode/utf8"
)

// SplitLimit is the per-message size ceiling for posted responses. Slack
// rejects messages near 4000 characters; 3900 leaves headroom for the
// platform's own markup expansion.
const SplitLimit = 3900

// minBreakPercent rejects break points that land too early in the window.
// Splitting at a paragraph 200 bytes into a 3900-byte window would produce
// a pathologically small chunk; below this fraction the next strategy is
// tried instead.
const minBreakPercent = 30

// SplitMessage splits text into chunks of at most limit bytes. Break-point
// preference: double newline, then single newline, then a hard cut, each
// tried only when its break lands past minBreakPercent of the window.
// Continuation chunks have their leading newlines trimmed; apart from that
// trim, the chunks concatenate back to the input.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	minBreak := limit * minBreakPercent / 100
	for len(text) > limit {
		window := text[:limit]

		cut := -1
		if i := strings.LastIndex(window, "\n\n"); i >= minBreak {
			cut = i
		} else if i := strings.LastIndex(window, "\n"); i >= minBreak {
			cut = i
		}
		if cut <= 0 {
			cut = limit
			// Never cut mid-rune.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}

		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}

	// The newline break point leaves the separator at the head of the next
	// chunk; trim it for display.
	out := chunks[:0]
	for i, c := range chunks {
		if i > 0 {
			c = strings.TrimLeft(c, "\n")
		}
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
