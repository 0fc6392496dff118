package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/logger"
)

const (
	segmentListName = "segments.txt"
	combinedWAVName = "combined.wav"
	finalMP3Name    = "final.mp3"
	finalFLACName   = "final.flac"
	listFilePerm    = 0o600
)

// ErrNoSegments is returned when there is nothing to assemble.
var ErrNoSegments = errors.New("no audio segments to assemble")

// Assembler joins ordered segments into the final MP3 and optional FLAC.
type Assembler struct {
	transcoder audio.Transcoder
	flac       bool
	log        *logger.Logger
}

// NewAssembler creates an Assembler. When flac is false no FLAC rendition is
// produced.
func NewAssembler(transcoder audio.Transcoder, flac bool, log *logger.Logger) *Assembler {
	return &Assembler{transcoder: transcoder, flac: flac, log: log}
}

// Assemble produces the final audio from segments, which must already be in
// chunk order. Every intermediate file it knows of is removed before it
// returns, whatever the outcome.
func (a *Assembler) Assemble(
	ctx context.Context,
	segments []AudioSegment,
	workDir string,
) (*Assembly, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	scratch := make([]string, 0, len(segments)+4)
	for _, segment := range segments {
		scratch = append(scratch, segment.Path)
	}

	defer func() {
		for _, path := range scratch {
			a.remove(path)
		}
	}()

	master, err := a.combine(ctx, segments, workDir, &scratch)
	if err != nil {
		return nil, err
	}

	mp3Path := filepath.Join(workDir, finalMP3Name)
	scratch = append(scratch, mp3Path)

	err = a.transcoder.Transcode(ctx, master, mp3Path, audio.FormatMP3)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mp3: %w", err)
	}

	mp3, err := os.ReadFile(mp3Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mp3: %w", err)
	}

	assembly := &Assembly{
		MP3:             mp3,
		FLAC:            nil,
		DurationSeconds: a.transcoder.ProbeDuration(ctx, mp3Path),
	}

	if a.flac {
		flacPath := filepath.Join(workDir, finalFLACName)
		scratch = append(scratch, flacPath)
		assembly.FLAC = a.encodeFLAC(ctx, master, flacPath)
	}

	return assembly, nil
}

// Assembly is the encoded output of Assemble. FLAC is nil when the lossless
// rendition was disabled or failed.
type Assembly struct {
	MP3             []byte
	FLAC            []byte
	DurationSeconds float64
}

// combine returns the path of a single WAV holding every segment. A single
// segment is used as is; several are joined with the concat demuxer.
func (a *Assembler) combine(
	ctx context.Context,
	segments []AudioSegment,
	workDir string,
	scratch *[]string,
) (string, error) {
	if len(segments) == 1 {
		return segments[0].Path, nil
	}

	listPath := filepath.Join(workDir, segmentListName)
	*scratch = append(*scratch, listPath)

	list, err := segmentList(segments)
	if err != nil {
		return "", err
	}

	err = os.WriteFile(listPath, []byte(list), listFilePerm)
	if err != nil {
		return "", fmt.Errorf("failed to write segment list: %w", err)
	}

	combinedPath := filepath.Join(workDir, combinedWAVName)
	*scratch = append(*scratch, combinedPath)

	err = a.transcoder.Concat(ctx, listPath, combinedPath)
	if err != nil {
		return "", fmt.Errorf("failed to concatenate %d segments: %w", len(segments), err)
	}

	return combinedPath, nil
}

func (a *Assembler) encodeFLAC(ctx context.Context, master, flacPath string) []byte {
	err := a.transcoder.Transcode(ctx, master, flacPath, audio.FormatFLAC)
	if err != nil {
		a.log.Warn("FLAC encoding failed, continuing with MP3 only: %v", err)

		return nil
	}

	flac, err := os.ReadFile(flacPath)
	if err != nil {
		a.log.Warn("Failed to read FLAC output, continuing with MP3 only: %v", err)

		return nil
	}

	return flac
}

func (a *Assembler) remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.Warn("Failed to remove intermediate file %s: %v", path, err)
	}
}

// segmentList renders a concat-demuxer list with one absolute path per line.
func segmentList(segments []AudioSegment) (string, error) {
	var builder strings.Builder

	for _, segment := range segments {
		absolute, err := filepath.Abs(segment.Path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve segment path: %w", err)
		}

		builder.WriteString("file '")
		builder.WriteString(strings.ReplaceAll(absolute, "'", `'\''`))
		builder.WriteString("'\n")
	}

	return builder.String(), nil
}
