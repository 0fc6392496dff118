package extract

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/book-expert/docspeech/internal/tts/text"
	"github.com/klauspost/compress/zlib"
)

const (
	maxInflatedStreamBytes = 16 << 20
	minScannedLetters      = 20
	minPrintableRatio      = 0.85
	minLetterRatio         = 0.5
)

var (
	streamKeyword    = []byte("stream")
	endstreamKeyword = []byte("endstream")
)

// textShowOperators end a run of shown text inside a BT..ET block.
var textShowOperators = map[string]bool{
	"Tj": true, "TJ": true, "'": true, `"`: true,
	"Td": true, "TD": true, "T*": true, "Tm": true,
}

// scanTextOperators is the last-resort extraction: it inflates every content
// stream it can and collects the literal strings shown between BT and ET.
// The result is empty unless it reads like natural-language text.
func scanTextOperators(data []byte) string {
	var collected bytes.Buffer

	for _, stream := range contentStreams(data) {
		collected.Write(textFromContent(inflate(stream)))
	}

	result := text.ToUTF8(collected.Bytes())
	if !looksLikeText(result) {
		return ""
	}

	return result
}

// contentStreams returns the raw bodies between "stream" and "endstream".
func contentStreams(data []byte) [][]byte {
	var streams [][]byte

	offset := 0

	for {
		index := bytes.Index(data[offset:], streamKeyword)
		if index < 0 {
			return streams
		}

		start := offset + index
		offset = start + len(streamKeyword)

		if start >= 3 && bytes.Equal(data[start-3:start], []byte("end")) {
			continue
		}

		bodyStart := offset
		if bodyStart < len(data) && data[bodyStart] == '\r' {
			bodyStart++
		}

		if bodyStart < len(data) && data[bodyStart] == '\n' {
			bodyStart++
		}

		end := bytes.Index(data[bodyStart:], endstreamKeyword)
		if end < 0 {
			return streams
		}

		streams = append(streams, bytes.TrimRight(data[bodyStart:bodyStart+end], "\r\n"))
		offset = bodyStart + end + len(endstreamKeyword)
	}
}

// inflate decompresses a FlateDecode stream, returning the input unchanged
// when it is not zlib data.
func inflate(stream []byte) []byte {
	reader, err := zlib.NewReader(bytes.NewReader(stream))
	if err != nil {
		return stream
	}
	defer reader.Close()

	inflated, err := readAllLimited(reader, maxInflatedStreamBytes)
	if err != nil && len(inflated) == 0 {
		return stream
	}

	return inflated
}

// textFromContent walks a content stream and returns the text shown inside
// BT..ET blocks, one line per block.
func textFromContent(content []byte) []byte {
	var (
		out    bytes.Buffer
		inText bool
	)

	for index := 0; index < len(content); {
		char := content[index]

		switch {
		case inText && char == '(':
			literal, next := readLiteral(content, index+1)
			out.Write(literal)
			index = next
		case inText && char == '<' && index+1 < len(content) && content[index+1] != '<':
			closing := bytes.IndexByte(content[index:], '>')
			if closing < 0 {
				return out.Bytes()
			}

			index += closing + 1
		case isDelimiter(char):
			index++
		default:
			token, next := readToken(content, index)
			index = next

			switch {
			case token == "BT":
				inText = true
			case token == "ET" && inText:
				inText = false

				out.WriteByte('\n')
			case inText && textShowOperators[token]:
				out.WriteByte(' ')
			}
		}
	}

	return out.Bytes()
}

// readLiteral decodes a parenthesized PDF string starting after '('.
func readLiteral(content []byte, index int) ([]byte, int) {
	var literal []byte

	depth := 1

	for index < len(content) {
		char := content[index]
		index++

		switch char {
		case '\\':
			if index >= len(content) {
				return literal, index
			}

			decoded, next := decodeEscape(content, index)
			literal = append(literal, decoded...)
			index = next
		case '(':
			depth++

			literal = append(literal, char)
		case ')':
			depth--
			if depth == 0 {
				return literal, index
			}

			literal = append(literal, char)
		default:
			literal = append(literal, char)
		}
	}

	return literal, index
}

func decodeEscape(content []byte, index int) ([]byte, int) {
	char := content[index]

	switch char {
	case 'n', 'r':
		return []byte{'\n'}, index + 1
	case 't':
		return []byte{'\t'}, index + 1
	case 'b', 'f':
		return nil, index + 1
	case '\r', '\n':
		return nil, index + 1
	}

	if char < '0' || char > '7' {
		return []byte{char}, index + 1
	}

	value := 0
	end := index

	for end < len(content) && end < index+3 && content[end] >= '0' && content[end] <= '7' {
		value = value*8 + int(content[end]-'0')
		end++
	}

	return []byte{byte(value)}, end
}

func readToken(content []byte, index int) (string, int) {
	start := index
	for index < len(content) && !isDelimiter(content[index]) && content[index] != '(' && content[index] != '<' {
		index++
	}

	if index == start {
		index++
	}

	return string(content[start:index]), index
}

func isDelimiter(char byte) bool {
	switch char {
	case ' ', '\t', '\r', '\n', '\f', 0, '[', ']', '/', '{', '}', '>':
		return true
	default:
		return false
	}
}

// looksLikeText rejects binary noise: enough letters, mostly printable.
func looksLikeText(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return false
	}

	var total, letters, printable int

	for _, r := range trimmed {
		total++

		switch {
		case unicode.IsLetter(r):
			letters++
			printable++
		case unicode.IsDigit(r), unicode.IsSpace(r), unicode.IsPunct(r):
			printable++
		}
	}

	return letters >= minScannedLetters &&
		float64(printable)/float64(total) >= minPrintableRatio &&
		float64(letters)/float64(total) >= minLetterRatio
}
