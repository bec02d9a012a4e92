// Package chunking turns document text and tenant records into
// retrieval-sized chunks with deterministic identifiers.
package chunking

import (
	"strings"
)

const (
	DefaultTargetSize   = 800
	DefaultOverlapWords = 20
)

// Split splits text on sentence boundaries into pieces of roughly target
// characters.
//
// Sentences accumulate until the next one would push the buffer's fresh
// content past target. The buffer is then emitted and the next one is
// seeded with the last overlapWords words of the emitted chunk, so every
// chunk after the first starts with the tail of its predecessor. The seed
// does not count toward target; chunks can reach target plus the overlap.
// A single sentence longer than target becomes its own chunk.
func Split(text string, target, overlapWords int) []string {
	if target <= 0 {
		target = DefaultTargetSize
	}
	if overlapWords < 0 {
		overlapWords = 0
	}

	var (
		chunks []string
		seed   string
		fresh  strings.Builder
	)
	emit := func() string {
		c := fresh.String()
		if seed != "" {
			c = seed + " " + c
		}
		chunks = append(chunks, c)
		return c
	}

	for _, s := range splitSentences(text) {
		if fresh.Len() > 0 && fresh.Len()+1+len(s) > target {
			seed = tailWords(emit(), overlapWords)
			fresh.Reset()
		}
		if fresh.Len() > 0 {
			fresh.WriteByte(' ')
		}
		fresh.WriteString(s)
	}
	if fresh.Len() > 0 {
		emit()
	}
	return chunks
}

// splitSentences cuts after each '.', '!' or '?' and drops sentences that
// are empty once trimmed. Internal whitespace is collapsed.
func splitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.Join(strings.Fields(text[start:end]), " "); s != "" && strings.Trim(s, ".!?") != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			flush(i + 1)
		}
	}
	flush(len(text))
	return out
}

func tailWords(s string, n int) string {
	if n == 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
