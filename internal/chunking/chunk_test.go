package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clinicSentence = "Our clinic offers gentle preventive care for every patient."

func repeatTo(sentence string, max int) string {
	var b strings.Builder
	for b.Len()+len(sentence)+1 <= max {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	return b.String()
}

func TestSplit_ThreeThousandChars(t *testing.T) {
	text := repeatTo(clinicSentence, 3000)
	require.LessOrEqual(t, len(text), 3000)
	require.Greater(t, len(text), 2900)

	chunks := Split(text, DefaultTargetSize, DefaultOverlapWords)
	require.Len(t, chunks, 4)

	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	assert.Equal(t, []int{779, 914, 914, 794}, sizes)
}

func TestSplit_OverlapInvariant(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(" talks about teeth and gums! ")
	}
	chunks := Split(b.String(), 300, 5)
	require.Greater(t, len(chunks), 3)

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		tail := strings.Join(prev[len(prev)-5:], " ")
		assert.True(t, strings.HasPrefix(chunks[i], tail+" "), "chunk %d starts with the tail of chunk %d", i, i-1)
	}
}

func TestSplit_Edges(t *testing.T) {
	assert.Nil(t, Split("", 800, 20))
	assert.Nil(t, Split("   \n\t  ", 800, 20))
	assert.Nil(t, Split("... !!! ??", 800, 20))

	assert.Equal(t, []string{"No terminator here"}, Split("No terminator here", 800, 20))
	assert.Equal(t, []string{"One. Two? Three!"}, Split("One.   Two?\n\nThree!", 800, 20))

	long := strings.Repeat("a", 50) + "."
	got := Split(long+" Short.", 10, 0)
	assert.Equal(t, []string{long, "Short."}, got, "sentence longer than target stands alone")
}

func TestSplit_Deterministic(t *testing.T) {
	text := repeatTo(clinicSentence, 2000)
	assert.Equal(t, Split(text, 400, 10), Split(text, 400, 10))
}

func TestTailWords(t *testing.T) {
	assert.Equal(t, "c d", tailWords("a b c d", 2))
	assert.Equal(t, "a b", tailWords("a b", 5))
	assert.Equal(t, "", tailWords("a b", 0))
}

func TestParseFAQs(t *testing.T) {
	raw := `Q: Do you take insurance?
A: Yes, most major plans.
We also offer payment plans.

question: Is parking free?
answer: Yes.
Q: Dangling question without answer`

	faqs := ParseFAQs(raw)
	require.Len(t, faqs, 2)
	assert.Equal(t, FAQ{Question: "Do you take insurance?", Answer: "Yes, most major plans. We also offer payment plans."}, faqs[0])
	assert.Equal(t, FAQ{Question: "Is parking free?", Answer: "Yes."}, faqs[1])
	assert.Equal(t, "Q: Is parking free?\nA: Yes.", faqs[1].text())

	assert.Empty(t, ParseFAQs(""))
	assert.Empty(t, ParseFAQs("just prose"))
}
