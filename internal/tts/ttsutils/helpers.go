// Package ttsutils provides file and path helpers shared by the docspeech
// commands: input type detection, output naming and human-readable sizes and
// durations for log lines.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/tts/audio"
)

const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
	fallbackBaseName       = "speech"
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

const (
	extPDF  = ".pdf"
	extDOC  = ".doc"
	extDOCX = ".docx"
)

// ErrUnsupportedDocument is returned for files whose type cannot be inferred.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
		}
	}

	return nil
}

// DetectMimeType infers the document MIME type from the file extension.
func DetectMimeType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extPDF:
		return core.MimePDF, nil
	case extDOCX:
		return core.MimeDOCX, nil
	case extDOC:
		return core.MimeDOC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDocument, filepath.Base(path))
	}
}

// OutputPaths names the MP3 and FLAC files produced for inputPath inside
// outDir. An empty outDir means the directory of the input.
func OutputPaths(inputPath, outDir string) (mp3Path, flacPath string) {
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	base = SanitizeFilename(strings.TrimSpace(base))

	if base == "" || base == "." {
		base = fallbackBaseName
	}

	stem := filepath.Join(outDir, base)

	return stem + audio.FormatMP3.Extension(), stem + audio.FormatFLAC.Extension()
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
