// Package extract converts uploaded documents into clean plain text ready
// for speech synthesis. Protected PDFs go through a chain of workarounds
// before the user is told how to unlock them.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/docspeech/internal/tts/text"
	"github.com/book-expert/logger"
)

// Default external tools, resolved through PATH.
const (
	DefaultPDFToTextPath = "pdftotext"
	DefaultQPDFPath      = "qpdf"
	DefaultAntiwordPath  = "antiword"
)

// Tools names the external extraction executables. An empty name disables
// the tool.
type Tools struct {
	PDFToText string
	QPDF      string
	Antiword  string
}

// DefaultTools returns the executables looked up on PATH.
func DefaultTools() Tools {
	return Tools{
		PDFToText: DefaultPDFToTextPath,
		QPDF:      DefaultQPDFPath,
		Antiword:  DefaultAntiwordPath,
	}
}

// Extractor implements core.TextExtractor.
type Extractor struct {
	tools   Tools
	runner  audio.CommandRunner
	filter  *Filter
	tempDir string
	log     *logger.Logger
	parse   func(data []byte) (string, error)
	decrypt func(data []byte) ([]byte, error)
}

// New creates an extractor. A nil runner executes real processes and a nil
// filter skips the narrative filter entirely.
func New(tools Tools, runner audio.CommandRunner, filter *Filter, tempDir string, log *logger.Logger) *Extractor {
	if runner == nil {
		runner = audio.ExecRunner{}
	}

	return &Extractor{
		tools:   tools,
		runner:  runner,
		filter:  filter,
		tempDir: tempDir,
		log:     log,
		parse:   parsePDF,
		decrypt: decryptWithPDFCPU,
	}
}

// Extract returns the sanitized and filtered text of a document. Failures
// are *ExtractionError values.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	raw, err := e.extractRaw(ctx, data, mimeType)
	if err != nil {
		return "", err
	}

	sanitized := text.Sanitize(raw)
	if sanitized == "" {
		return "", &ExtractionError{Kind: ErrEmptyDocument, Protection: ProtectionNone}
	}

	if e.filter != nil {
		sanitized = text.Sanitize(e.filter.FilterImportantText(ctx, sanitized))
		if sanitized == "" {
			return "", &ExtractionError{
				Kind:       ErrEmptyDocument,
				Protection: ProtectionNone,
				Message:    "document contains no narrative text after filtering",
			}
		}
	}

	e.log.Info("Extracted %d characters from %s document", len([]rune(sanitized)), mimeType)

	return sanitized, nil
}

func (e *Extractor) extractRaw(ctx context.Context, data []byte, mimeType string) (string, error) {
	switch normalizeMIME(mimeType) {
	case core.MimePDF:
		return e.extractPDF(ctx, data)
	case core.MimeDOCX:
		raw, err := extractDOCX(data)
		if err != nil {
			return "", newParseError(err)
		}

		return requireText(raw)
	case core.MimeDOC:
		raw, err := e.extractDOC(ctx, data)
		if err != nil {
			return "", newParseError(err)
		}

		return requireText(raw)
	default:
		return "", &ExtractionError{
			Kind:       ErrUnsupportedFormat,
			Protection: ProtectionNone,
			Message:    fmt.Sprintf("unsupported document format %q", mimeType),
		}
	}
}

// extractPDF runs the protection probe and routes protected documents into
// the strategy chain.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	raw, err := e.parse(data)
	if err == nil {
		return requireText(raw)
	}

	if isProtectionError(err) {
		protection := ClassifyProtection(data)
		e.log.Warn("PDF is protected (%s): %v", protection, err)

		return e.extractProtected(ctx, data, protection, err)
	}

	if isInvalidReferenceError(err) {
		e.log.Warn("PDF has broken object references, retrying with pdftotext: %v", err)

		raw, cliErr := e.runPDFToText(ctx, data)
		if cliErr != nil {
			return "", newParseError(fmt.Errorf("%w; pdftotext fallback: %w", err, cliErr))
		}

		return requireText(raw)
	}

	return "", newParseError(err)
}

func requireText(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &ExtractionError{Kind: ErrEmptyDocument, Protection: ProtectionNone}
	}

	return raw, nil
}

func normalizeMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")

	return strings.ToLower(strings.TrimSpace(base))
}
