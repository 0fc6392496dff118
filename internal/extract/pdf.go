package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errPDFPanic = errors.New("pdf parser panicked")

// parsePDF extracts the plain text of every page. The parser panics on some
// malformed files; a panic is reported as an error.
func parsePDF(data []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			text = ""
			err = fmt.Errorf("%w: %v", errPDFPanic, recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var builder strings.Builder

	numPages := reader.NumPage()
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			return "", fmt.Errorf("failed to read page %d: %w", pageIndex, pageErr)
		}

		if strings.TrimSpace(pageText) == "" {
			continue
		}

		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}

		builder.WriteString(pageText)
	}

	return builder.String(), nil
}

// readAllLimited is io.ReadAll with an upper bound, used for inflated
// content streams. Data read before an error is returned with it.
func readAllLimited(reader io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return data, fmt.Errorf("failed to read stream: %w", err)
	}

	return data, nil
}
