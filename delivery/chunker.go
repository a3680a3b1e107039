package delivery

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// sentence terminators considered by the splitter, in "end of sentence plus
// space" form so mid-token punctuation does not trigger a break.
var sentenceEnds = []string{". ", "! ", "? "}

// Split cuts text into chunks of at most limit runes, preferring sentence
// boundaries, then word boundaries, before falling back to a hard cut. A
// boundary is only taken when it lies past half the limit so chunks stay
// reasonably full. Cuts land on rune boundaries so multi-byte text never
// yields an invalid chunk.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > limit {
		window := string(remaining[:limit])

		split := -1
		for _, end := range sentenceEnds {
			if idx := strings.LastIndex(window, end); idx >= 0 {
				if n := utf8.RuneCountInString(window[:idx]); n > split {
					split = n
				}
			}
		}
		if split > limit/2 {
			split += 2 // keep the punctuation, drop the space
		} else if idx := strings.LastIndex(window, " "); idx > 0 {
			split = utf8.RuneCountInString(window[:idx])
		} else {
			split = limit
		}

		chunks = append(chunks, strings.TrimSpace(string(remaining[:split])))
		remaining = []rune(strings.TrimSpace(string(remaining[split:])))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

// FormatChunk renders the wire payload for chunk i (0-based) of total,
// prepending the session-indicator prefix and an index marker when the
// message spans more than one chunk.
func FormatChunk(chunk string, i, total int, prefix string) string {
	if total > 1 {
		chunk = fmt.Sprintf("[%d/%d] %s", i+1, total, chunk)
	}
	return prefix + chunk
}
