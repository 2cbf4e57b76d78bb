package channel

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestIsStopWord(t *testing.T) {
	for _, word := range []string{"stop", "STOP", " cancel ", "Abort", "esc"} {
		if !isStopWord(word) {
			t.Errorf("%q not recognized as stop word", word)
		}
	}
	for _, text := range []string{"", "stop the music", "please cancel my order", "escape"} {
		if isStopWord(text) {
			t.Errorf("%q wrongly treated as stop word", text)
		}
	}
}

func TestAccumulatorBuffersPerChat(t *testing.T) {
	acc := newAccumulator()

	acc.add("100", "Hello, ")
	acc.add("200", "other chat")
	acc.add("100", "world!")

	if got := acc.flush("100"); got != "Hello, world!" {
		t.Errorf("flush = %q", got)
	}
	if got := acc.flush("200"); got != "other chat" {
		t.Errorf("flush = %q", got)
	}
}

func TestAccumulatorFlushResets(t *testing.T) {
	acc := newAccumulator()

	acc.add("100", "first")
	acc.flush("100")

	if got := acc.flush("100"); got != "" {
		t.Errorf("buffer survived flush: %q", got)
	}

	acc.add("100", "second")
	if got := acc.flush("100"); got != "second" {
		t.Errorf("reuse after flush broken: %q", got)
	}
}

func TestAccumulatorConcurrentChats(t *testing.T) {
	acc := newAccumulator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(chat string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				acc.add(chat, "x")
			}
		}(fmt.Sprintf("chat-%d", i))
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		chat := fmt.Sprintf("chat-%d", i)
		if got := acc.flush(chat); len(got) != 100 {
			t.Errorf("%s: expected 100 chars, got %d", chat, len(got))
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate mangled short text: %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestSplitMessageRuneBoundary(t *testing.T) {
	// 3-byte runes make the byte cap land mid-rune
	text := strings.Repeat("世", 1000)
	chunks := splitMessage(text)

	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunk(s)", len(chunks))
	}
	var rejoined string
	for i, c := range chunks {
		if len(c) > discordMaxMessage {
			t.Errorf("chunk %d exceeds the message cap: %d bytes", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d cuts a rune mid-sequence", i)
		}
		rejoined += c
	}
	if rejoined != text {
		t.Error("split lost content")
	}

	if short := splitMessage("hello"); len(short) != 1 || short[0] != "hello" {
		t.Errorf("short text should pass through untouched: %v", short)
	}
}

func TestIsImagePath(t *testing.T) {
	for _, p := range []string{"a.png", "b.JPG", "/tmp/c.jpeg", "d.gif", "e.webp"} {
		if !isImagePath(p) {
			t.Errorf("%q not treated as image", p)
		}
	}
	for _, p := range []string{"a.pdf", "b.txt", "noext", "c.mp4"} {
		if isImagePath(p) {
			t.Errorf("%q wrongly treated as image", p)
		}
	}
}
