package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk size limits used by the pipeline, in characters.
const (
	FilterChunkChars = 3000
	SpeechChunkChars = 500
)

const unitSeparator = " "

// Split breaks text into ordered chunks of at most maxLen characters.
//
// Sentences (text up to '.', '!' or '?' followed by whitespace) are packed
// greedily. A sentence longer than maxLen is split on ',', ';' and ':' and
// its clauses are packed the same way; a clause that is still too long is
// emitted unchanged. Text without any sentence boundary comes back as a
// single chunk. Units inside a chunk are joined by a single space, so
// joining the chunks with a space reproduces the input's word sequence.
func Split(input string, maxLen int) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	sentences := SplitSentences(trimmed)
	if maxLen <= 0 || !hasSentenceBoundary(sentences) {
		return []string{trimmed}
	}

	packer := newChunkPacker(maxLen)

	for _, sentence := range sentences {
		if charCount(sentence) <= maxLen {
			packer.add(sentence)

			continue
		}

		packer.flush()

		clausePacker := newChunkPacker(maxLen)
		for _, clause := range SplitClauses(sentence) {
			clausePacker.add(clause)
		}

		clausePacker.flush()
		packer.chunks = append(packer.chunks, clausePacker.chunks...)
	}

	packer.flush()

	return packer.chunks
}

// SplitSentences splits text after sentence-ending punctuation that is
// followed by whitespace. Each returned sentence is trimmed.
func SplitSentences(input string) []string {
	return splitAfter(input, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

// SplitClauses splits a sentence after commas, semicolons and colons that
// are followed by whitespace.
func SplitClauses(sentence string) []string {
	return splitAfter(sentence, func(r rune) bool {
		return r == ',' || r == ';' || r == ':'
	})
}

// splitAfter cuts input after every run of boundary runes that is followed
// by whitespace. Closing quotes and brackets directly after the boundary
// stay with the unit they close.
func splitAfter(input string, isBoundary func(rune) bool) []string {
	var (
		units []string
		start int
	)

	runes := []rune(input)

	for index := 0; index < len(runes); index++ {
		if !isBoundary(runes[index]) {
			continue
		}

		end := index + 1
		for end < len(runes) && (isBoundary(runes[end]) || isCloser(runes[end])) {
			end++
		}

		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			index = end - 1

			continue
		}

		unit := strings.TrimSpace(string(runes[start:end]))
		if unit != "" {
			units = append(units, unit)
		}

		start = end
		index = end - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		units = append(units, tail)
	}

	return units
}

// hasSentenceBoundary reports whether the split found at least one
// sentence end, including a terminal mark at the very end of the text.
func hasSentenceBoundary(sentences []string) bool {
	if len(sentences) > 1 {
		return true
	}

	if len(sentences) == 0 {
		return false
	}

	last := strings.TrimRightFunc(sentences[0], isCloser)
	lastRune, _ := utf8.DecodeLastRuneInString(last)

	return lastRune == '.' || lastRune == '!' || lastRune == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’':
		return true
	default:
		return false
	}
}

func charCount(s string) int {
	return utf8.RuneCountInString(s)
}

// chunkPacker greedily accumulates units into chunks bounded by maxLen.
type chunkPacker struct {
	maxLen  int
	buffer  strings.Builder
	current int
	chunks  []string
}

func newChunkPacker(maxLen int) *chunkPacker {
	return &chunkPacker{maxLen: maxLen}
}

func (p *chunkPacker) add(unit string) {
	unitLen := charCount(unit)

	if p.current > 0 && p.current+len(unitSeparator)+unitLen > p.maxLen {
		p.flush()
	}

	if p.current > 0 {
		p.buffer.WriteString(unitSeparator)
		p.current += len(unitSeparator)
	}

	p.buffer.WriteString(unit)
	p.current += unitLen
}

func (p *chunkPacker) flush() {
	if p.current == 0 {
		return
	}

	p.chunks = append(p.chunks, p.buffer.String())
	p.buffer.Reset()
	p.current = 0
}
