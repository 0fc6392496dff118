package text

import (
	"regexp"
	"strings"
)

// Patterns used by BasicClean, applied in order.
var (
	urlPattern       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	isbnPattern      = regexp.MustCompile(`(?i)\b(?:[ep]-)?(?:ISBN|ISSN)(?:-1[03])?\b[:\s]*[0-9X][0-9X\- ]{6,}[0-9X]`)
	pageMarkPattern  = regexp.MustCompile(`(?i)\b(?:halaman|hal\.|page)\s+\d+(?:\s+(?:dari|of)\s+\d+)?`)
	headerPattern    = regexp.MustCompile(`(?im)^[ \t]*(?:badan pusat statistik(?:[ \t]+(?:provinsi|kabupaten|kota)[^\n]*)?|bps[- ]?statistics[^\n]*|statistics indonesia|bps[ \t]+(?:provinsi|kabupaten|kota)[^\n]*)[ \t]*$`)
	tableRunPattern  = regexp.MustCompile(`(?:\d[\d.,]*[ \t]+){3,}\d[\d.,]*`)
	barePagePattern  = regexp.MustCompile(`(?m)^[ \t]*\d{1,4}[ \t]*$`)
	ellipsisPattern  = regexp.MustCompile(`\.{4,}|…`)
	punctGapPattern  = regexp.MustCompile(` +([.,;:!?])`)
	emptyLinePattern = regexp.MustCompile(`(?m)^[ \t]+$`)
)

// BasicClean is the deterministic fallback used when the AI filter is not
// available for a chunk. It removes page markers, bare page numbers,
// number-heavy table rows, the publisher's running headers, ISBN/ISSN
// identifiers, e-mail addresses, URLs and immediately repeated words.
func BasicClean(input string) string {
	cleaned := urlPattern.ReplaceAllString(input, " ")
	cleaned = emailPattern.ReplaceAllString(cleaned, " ")
	cleaned = isbnPattern.ReplaceAllString(cleaned, " ")
	cleaned = pageMarkPattern.ReplaceAllString(cleaned, " ")
	cleaned = headerPattern.ReplaceAllString(cleaned, "")
	cleaned = tableRunPattern.ReplaceAllString(cleaned, " ")
	cleaned = barePagePattern.ReplaceAllString(cleaned, "")
	cleaned = removeRepeatedWords(cleaned)
	cleaned = ellipsisPattern.ReplaceAllString(cleaned, "...")
	cleaned = spaceRunPattern.ReplaceAllString(cleaned, " ")
	cleaned = punctGapPattern.ReplaceAllString(cleaned, "$1")
	cleaned = emptyLinePattern.ReplaceAllString(cleaned, "")
	cleaned = newlineSpacePattern.ReplaceAllString(cleaned, "\n")
	cleaned = blankLinesPattern.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}

// removeRepeatedWords drops a word that repeats the previous word on the
// same line, ignoring case ("the the" becomes "the").
func removeRepeatedWords(input string) string {
	lines := strings.Split(input, "\n")

	for index, line := range lines {
		words := strings.Fields(line)
		if len(words) < 2 {
			continue
		}

		kept := words[:1]

		for _, word := range words[1:] {
			if strings.EqualFold(word, kept[len(kept)-1]) {
				continue
			}

			kept = append(kept, word)
		}

		lines[index] = strings.Join(kept, " ")
	}

	return strings.Join(lines, "\n")
}
