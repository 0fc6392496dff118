package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Strategy errors.
var (
	// ErrOCRUnavailable is returned by the OCR strategy, which has no engine.
	ErrOCRUnavailable = errors.New("ocr is not available")
	// ErrNoTextFound indicates a strategy ran but recovered no text.
	ErrNoTextFound = errors.New("no text found")

	errToolDisabled = errors.New("tool not configured")
)

var disableConfigDirOnce sync.Once

// strategy is one way of getting text out of a protected PDF.
type strategy struct {
	name string
	run  func(ctx context.Context, data []byte) (string, error)
}

// protectedStrategies lists the workarounds in the order they are tried.
func (e *Extractor) protectedStrategies() []strategy {
	return []strategy{
		{name: "ocr", run: e.extractWithOCR},
		{name: "decrypt and parse", run: e.extractWithDecryption},
		{name: "command line", run: e.extractWithCommandLine},
	}
}

// extractProtected runs every strategy in order and returns the first
// non-empty text. Failures are logged and the next strategy is tried.
func (e *Extractor) extractProtected(ctx context.Context, data []byte, protection Protection, cause error) (string, error) {
	var failures []error

	for _, candidate := range e.protectedStrategies() {
		text, err := candidate.run(ctx, data)
		if err == nil && strings.TrimSpace(text) != "" {
			e.log.Info("Recovered text from %s PDF with strategy '%s'", protection, candidate.name)

			return text, nil
		}

		if err == nil {
			err = ErrNoTextFound
		}

		e.log.Warn("Strategy '%s' failed for %s PDF: %v", candidate.name, protection, err)
		failures = append(failures, fmt.Errorf("%s: %w", candidate.name, err))
	}

	failures = append(failures, cause)

	return "", newProtectedError(protection, errors.Join(failures...))
}

func (e *Extractor) extractWithOCR(context.Context, []byte) (string, error) {
	return "", ErrOCRUnavailable
}

// extractWithDecryption removes the encryption with an empty user password
// and parses the result. pdfcpu is tried first, then qpdf when configured.
func (e *Extractor) extractWithDecryption(ctx context.Context, data []byte) (string, error) {
	decrypted, err := e.decrypt(data)
	if err != nil {
		e.log.Warn("pdfcpu could not decrypt document: %v", err)

		decrypted, err = e.decryptWithQPDF(ctx, data)
		if err != nil {
			return "", err
		}
	}

	return e.parse(decrypted)
}

func decryptWithPDFCPU(data []byte) (decrypted []byte, err error) {
	disableConfigDirOnce.Do(api.DisableConfigDir)

	defer func() {
		if recovered := recover(); recovered != nil {
			decrypted = nil
			err = fmt.Errorf("%w: pdfcpu: %v", errPDFPanic, recovered)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.UserPW = ""
	conf.OwnerPW = ""
	conf.ValidationMode = model.ValidationRelaxed

	var out bytes.Buffer

	err = api.Decrypt(bytes.NewReader(data), &out, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu decrypt failed: %w", err)
	}

	return out.Bytes(), nil
}

func (e *Extractor) decryptWithQPDF(ctx context.Context, data []byte) ([]byte, error) {
	if e.tools.QPDF == "" {
		return nil, fmt.Errorf("qpdf: %w", errToolDisabled)
	}

	inPath, cleanup, err := e.writeTemp(data, "docspeech-protected-*.pdf")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := inPath + ".decrypted.pdf"
	defer e.removeFile(outPath)

	_, err = audio.RunCommand(ctx, e.runner, e.tools.QPDF, "--decrypt", "--password=", inPath, outPath)
	if err != nil {
		return nil, fmt.Errorf("qpdf decrypt failed: %w", err)
	}

	decrypted, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read decrypted pdf: %w", err)
	}

	return decrypted, nil
}

// extractWithCommandLine runs pdftotext and, when that fails, scans the raw
// content streams for text operators.
func (e *Extractor) extractWithCommandLine(ctx context.Context, data []byte) (string, error) {
	text, err := e.runPDFToText(ctx, data)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	if err != nil {
		e.log.Warn("pdftotext failed, scanning content streams: %v", err)
	}

	scanned := scanTextOperators(data)
	if scanned == "" {
		if err == nil {
			err = ErrNoTextFound
		}

		return "", fmt.Errorf("content stream scan found no readable text after pdftotext: %w", err)
	}

	return scanned, nil
}

func (e *Extractor) runPDFToText(ctx context.Context, data []byte) (string, error) {
	if e.tools.PDFToText == "" {
		return "", fmt.Errorf("pdftotext: %w", errToolDisabled)
	}

	inPath, cleanup, err := e.writeTemp(data, "docspeech-input-*.pdf")
	if err != nil {
		return "", err
	}
	defer cleanup()

	result, err := audio.RunCommand(ctx, e.runner, e.tools.PDFToText, "-layout", "-enc", "UTF-8", inPath, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}

	return result.Stdout, nil
}

// writeTemp stores data in a temporary file. The returned cleanup removes it.
func (e *Extractor) writeTemp(data []byte, pattern string) (string, func(), error) {
	tempFile, err := os.CreateTemp(e.tempDir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	path := tempFile.Name()
	cleanup := func() { e.removeFile(path) }

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr != nil || closeErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("failed to write temp file: %w", errors.Join(writeErr, closeErr))
	}

	return path, cleanup, nil
}

func (e *Extractor) removeFile(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
