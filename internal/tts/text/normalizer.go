// Package text normalizes extracted document text and prepares it for
// speech synthesis.
//
// Every function in this package is pure and idempotent: running it again on
// its own output returns the same string.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// Encoding names one of the source encodings Sanitize can detect.
type Encoding string

// Candidate source encodings.
const (
	EncodingUTF8        Encoding = "UTF-8"
	EncodingWindows1252 Encoding = "Windows-1252"
	EncodingLatin1      Encoding = "ISO-8859-1"
)

const (
	c1RangeStart = 0x80
	c1RangeEnd   = 0x9f

	maxRepeatedChars = 3
)

var (
	horizontalSpacePattern = regexp.MustCompile(`[\t\p{Zs}]+`)
	newlineSpacePattern    = regexp.MustCompile(` *\n *`)
	blankLinesPattern      = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern        = regexp.MustCompile(`[ \t]+`)
)

// invisibleRunes are format characters that survive control-character
// stripping but carry no speakable content.
var invisibleRunes = map[rune]struct{}{
	'\uFEFF': {},
	'\u200B': {},
	'\u200C': {},
	'\u200D': {},
	'\u2060': {},
	'\u00AD': {},
}

// DetectEncoding guesses the encoding of raw bytes. Mostly-valid UTF-8 with a
// few broken fragments is still reported as UTF-8 so the fragments can be
// stripped instead of re-decoding the whole buffer as a legacy code page.
func DetectEncoding(raw []byte) Encoding {
	if utf8.Valid(raw) {
		return EncodingUTF8
	}

	validMultiByte, invalid := 0, 0

	for index := 0; index < len(raw); {
		r, size := utf8.DecodeRune(raw[index:])
		if r == utf8.RuneError && size <= 1 {
			invalid++
			index++

			continue
		}

		if size > 1 {
			validMultiByte++
		}

		index += size
	}

	if validMultiByte > invalid {
		return EncodingUTF8
	}

	for _, b := range raw {
		if b >= c1RangeStart && b <= c1RangeEnd {
			return EncodingWindows1252
		}
	}

	return EncodingLatin1
}

// ToUTF8 converts raw bytes from the detected encoding into a valid UTF-8
// string, dropping any byte sequence that cannot be decoded.
func ToUTF8(raw []byte) string {
	var decoded []byte

	switch DetectEncoding(raw) {
	case EncodingWindows1252:
		converted, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err == nil {
			decoded = converted
		}
	case EncodingLatin1:
		converted, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err == nil {
			decoded = converted
		}
	case EncodingUTF8:
		decoded = raw
	}

	if decoded == nil {
		decoded = raw
	}

	return strings.ToValidUTF8(string(decoded), "")
}

// Sanitize turns raw extracted text into clean UTF-8: it repairs the
// encoding, drops replacement and control characters (newline and tab
// survive), normalizes line endings, collapses horizontal whitespace and
// allows at most one blank line between paragraphs.
func Sanitize(raw string) string {
	cleaned := ToUTF8([]byte(raw))
	cleaned = strings.ReplaceAll(cleaned, string(utf8.RuneError), "")
	cleaned = strings.ReplaceAll(cleaned, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")
	cleaned = stripControl(cleaned)
	// Composition runs after removals so a mark exposed by them still joins
	// its base letter.
	cleaned = norm.NFC.String(cleaned)
	cleaned = horizontalSpacePattern.ReplaceAllString(cleaned, " ")
	cleaned = newlineSpacePattern.ReplaceAllString(cleaned, "\n")
	cleaned = blankLinesPattern.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}

// OptimizeForSpeech removes characters a voice cannot pronounce, collapses
// duplicated sentence punctuation and shortens runs of the same character.
// Symbols are replaced by a space so neighbouring words stay apart. Digit
// runs are never shortened since they are usually figures.
func OptimizeForSpeech(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	for _, r := range input {
		if isSpeakable(r) {
			builder.WriteRune(r)
		} else {
			builder.WriteRune(' ')
		}
	}

	optimized := collapseRuns(builder.String())
	optimized = spaceRunPattern.ReplaceAllString(optimized, " ")
	optimized = newlineSpacePattern.ReplaceAllString(optimized, "\n")
	optimized = blankLinesPattern.ReplaceAllString(optimized, "\n\n")

	return strings.TrimSpace(optimized)
}

func isSpeakable(r rune) bool {
	return unicode.IsLetter(r) ||
		unicode.IsNumber(r) ||
		unicode.IsPunct(r) ||
		unicode.IsSpace(r) ||
		unicode.IsMark(r)
}

func stripControl(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}

		if unicode.IsControl(r) {
			return -1
		}

		if _, invisible := invisibleRunes[r]; invisible {
			return -1
		}

		return r
	}, input)
}

func isTerminalPunctuation(r rune) bool {
	switch r {
	case '.', '!', '?', ',', ';', ':':
		return true
	default:
		return false
	}
}

// collapseRuns keeps one copy of repeated punctuation and at most
// maxRepeatedChars copies of any other repeated non-digit, non-space rune.
func collapseRuns(input string) string {
	var (
		builder  strings.Builder
		previous rune = -1
		run      int
	)

	builder.Grow(len(input))

	for _, r := range input {
		if r == previous {
			run++
		} else {
			previous = r
			run = 1
		}

		switch {
		case unicode.IsDigit(r) || unicode.IsSpace(r):
		case isTerminalPunctuation(r):
			if run > 1 {
				continue
			}
		case run > maxRepeatedChars:
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}
