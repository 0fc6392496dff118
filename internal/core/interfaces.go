// Package core defines the shared types and interfaces of the
// document-to-speech pipeline.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/events"
)

// Supported document MIME types.
const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrObjectNotFound is returned by an ObjectStore for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// TextExtractor turns raw document bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// SpeechConverter turns plain text into finished audio.
type SpeechConverter interface {
	Convert(ctx context.Context, text string, onProgress ProgressFunc) (*ConversionResult, error)
}

// DocumentConverter runs extraction and synthesis for one document.
type DocumentConverter interface {
	ConvertDocument(ctx context.Context, data []byte, mimeType string, onProgress ProgressFunc) (*ConversionResult, error)
}

// ProgressFunc is called after every chunk with the number of chunks handled
// so far and the total.
type ProgressFunc func(done, total int)

// ConversionResult is the output of one conversion. FLAC is nil when FLAC
// encoding failed or was disabled.
type ConversionResult struct {
	MP3             []byte
	FLAC            []byte
	DurationSeconds float64
	SuccessRate     float64
	TotalChunks     int
	CompletedChunks int
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DocumentUploadedEvent asks for a stored document to be converted.
type DocumentUploadedEvent struct {
	Header      events.EventHeader `json:"header"`
	DocumentKey string             `json:"document_key"`
	MimeType    string             `json:"mime_type"`
	Title       string             `json:"title,omitempty"`
}

// SpeechGeneratedEvent reports the outcome of a conversion. Error is set
// and the keys are empty when the conversion failed.
type SpeechGeneratedEvent struct {
	Header          events.EventHeader `json:"header"`
	DocumentKey     string             `json:"document_key"`
	MP3Key          string             `json:"mp3_key,omitempty"`
	FLACKey         string             `json:"flac_key,omitempty"`
	DurationSeconds float64            `json:"duration_seconds"`
	SuccessRate     float64            `json:"success_rate"`
	Error           string             `json:"error,omitempty"`
}
