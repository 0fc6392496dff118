package extract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/nguyenthenguyen/docx"
)

var wordBreakReplacer = strings.NewReplacer(
	"<w:tab/>", " ",
	"<w:br/>", "\n",
	"<w:cr/>", "\n",
)

// extractDOCX reads the document body and joins its paragraphs with blank
// lines.
func extractDOCX(data []byte) (string, error) {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer reader.Close()

	return paragraphText(reader.Editable().GetContent()), nil
}

// paragraphText splits WordprocessingML on paragraph ends and returns the
// text of every non-empty paragraph.
func paragraphText(xmlContent string) string {
	var paragraphs []string

	for _, part := range strings.Split(xmlContent, "</w:p>") {
		cleaned := strings.TrimSpace(html.UnescapeString(stripTags(wordBreakReplacer.Replace(part))))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}

	return strings.Join(paragraphs, "\n\n")
}

func stripTags(xmlContent string) string {
	var builder strings.Builder

	inTag := false

	for _, r := range xmlContent {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// extractDOC handles legacy Word files. Files that are really OOXML are read
// directly; everything else goes through antiword.
func (e *Extractor) extractDOC(ctx context.Context, data []byte) (string, error) {
	text, err := extractDOCX(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	if e.tools.Antiword == "" {
		return "", fmt.Errorf("antiword: %w", errToolDisabled)
	}

	inPath, cleanup, err := e.writeTemp(data, "docspeech-input-*.doc")
	if err != nil {
		return "", err
	}
	defer cleanup()

	result, err := audio.RunCommand(ctx, e.runner, e.tools.Antiword, "-w", "0", "-m", "UTF-8.txt", inPath)
	if err != nil {
		return "", fmt.Errorf("antiword failed: %w", err)
	}

	return result.Stdout, nil
}
