package bridge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_ShortPassthrough(t *testing.T) {
	chunks := SplitMessage("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v, want [hello]", chunks)
	}
}

func TestSplitMessage_PrefersParagraphBreak(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	chunks := SplitMessage(a+"\n\n"+b, 100)

	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0] != a {
		t.Errorf("chunks[0] = %q, want first paragraph", chunks[0])
	}
	if chunks[1] != b {
		t.Errorf("chunks[1] = %q, want second paragraph", chunks[1])
	}
}

func TestSplitMessage_FallsBackToLineBreak(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	chunks := SplitMessage(a+"\n"+b, 100)

	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0] != a {
		t.Errorf("chunks[0] = %q, want first line", chunks[0])
	}
	if chunks[1] != b {
		t.Errorf("chunks[1] = %q, want second line", chunks[1])
	}
}

func TestSplitMessage_HardCutWithoutBreaks(t *testing.T) {
	chunks := SplitMessage(strings.Repeat("a", 250), 100)

	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks[:2] {
		if len(c) != 100 {
			t.Errorf("len(chunks[%d]) = %d, want 100", i, len(c))
		}
	}
	if len(chunks[2]) != 50 {
		t.Errorf("len(chunks[2]) = %d, want 50", len(chunks[2]))
	}
}

func TestSplitMessage_EarlyBreakRejected(t *testing.T) {
	// The only break sits at 3% of the window; splitting there would leave
	// a tiny fragment, so a hard cut wins.
	text := "ab\n\n" + strings.Repeat("c", 200)
	chunks := SplitMessage(text, 100)

	if len(chunks[0]) != 100 {
		t.Errorf("len(chunks[0]) = %d, want hard cut at 100", len(chunks[0]))
	}
}

func TestSplitMessage_NeverCutsMidRune(t *testing.T) {
	text := strings.Repeat("é", 120) // 2 bytes per rune
	chunks := SplitMessage(text, 99)

	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunks[%d] is not valid UTF-8", i)
		}
		if len(c) > 99 {
			t.Errorf("len(chunks[%d]) = %d, want <= 99", i, len(c))
		}
	}
}

func TestSplitMessage_ContentSurvivesSplit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("paragraph with a handful of words in it\n\n")
	}
	text := b.String()

	chunks := SplitMessage(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("len(chunks[%d]) = %d, want <= 200", i, len(c))
		}
	}

	// Only boundary whitespace may differ.
	got := strings.Join(strings.Fields(strings.Join(chunks, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if got != want {
		t.Errorf("joined chunks lost content:\ngot  %q\nwant %q", got, want)
	}
}

func TestSplitMessage_ZeroLimitPassthrough(t *testing.T) {
	chunks := SplitMessage("anything", 0)
	if len(chunks) != 1 || chunks[0] != "anything" {
		t.Errorf("chunks = %v, want passthrough", chunks)
	}
}
