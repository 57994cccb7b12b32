package document

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most size runes, breaking only at
// whitespace. Runs of whitespace collapse to one space. A single word longer
// than size is cut at rune boundaries.
func Chunk(text string, size int) []string {
	if size <= 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
		length  int
	)
	flush := func() {
		if length > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			length = 0
		}
	}

	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)
		for n > size {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:size]))
			word = string(runes[size:])
			n -= size
		}
		if n == 0 {
			continue
		}

		if length > 0 && length+1+n > size {
			flush()
		}
		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(word)
		length += n
	}
	flush()
	return chunks
}
