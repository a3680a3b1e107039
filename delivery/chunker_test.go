package delivery

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("hello mesh", 200)
	assert.Equal(t, []string{"hello mesh"}, chunks)
}

func TestSplit_EmptyText(t *testing.T) {
	assert.Nil(t, Split("", 200))
	assert.Nil(t, Split("   ", 200))
}

func TestSplit_RespectsLimit(t *testing.T) {
	text := strings.Repeat("word ", 200) // 1000 chars
	chunks := Split(text, 200)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 200)
		assert.NotEmpty(t, c)
	}
	// No content lost apart from separating whitespace.
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	first := strings.Repeat("a", 150) + ". "
	text := first + strings.Repeat("b", 100)
	chunks := Split(text, 200)
	assert.Equal(t, strings.Repeat("a", 150)+".", chunks[0])
}

func TestSplit_IgnoresEarlySentenceBoundary(t *testing.T) {
	// Sentence end before half the limit: fall through to word boundary.
	text := "Hi. " + strings.Repeat("c", 190) + " " + strings.Repeat("d", 50)
	chunks := Split(text, 200)
	assert.Equal(t, "Hi. "+strings.Repeat("c", 190), chunks[0])
}

func TestSplit_HardCutWithoutSpaces(t *testing.T) {
	text := strings.Repeat("x", 450)
	chunks := Split(text, 200)
	assert.Equal(t, []string{strings.Repeat("x", 200), strings.Repeat("x", 200), strings.Repeat("x", 50)}, chunks)
}

func TestSplit_MultiByteRunesStayIntact(t *testing.T) {
	text := strings.Repeat("→", 100)
	chunks := Split(text, 60)
	assert.Equal(t, []string{strings.Repeat("→", 60), strings.Repeat("→", 40)}, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplit_MultiByteWordBoundary(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 40)
	chunks := Split(text, 50)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestFormatChunk_SingleChunkUnlabeled(t *testing.T) {
	assert.Equal(t, "hello", FormatChunk("hello", 0, 1, ""))
}

func TestFormatChunk_LabelsAndPrefix(t *testing.T) {
	got := FormatChunk("part two", 1, 3, "[s] ")
	assert.Equal(t, "[s] [2/3] part two", got)
}

func TestSplit_450CharsThreeChunks(t *testing.T) {
	text := strings.Repeat("lorem ipsum ", 38)[:450]
	chunks := Split(text, 200)
	assert.Len(t, chunks, 3)
	labels := make([]string, len(chunks))
	for i, c := range chunks {
		labels[i] = FormatChunk(c, i, len(chunks), "")
	}
	assert.True(t, strings.HasPrefix(labels[0], "[1/3] "))
	assert.True(t, strings.HasPrefix(labels[1], "[2/3] "))
	assert.True(t, strings.HasPrefix(labels[2], "[3/3] "))
}
