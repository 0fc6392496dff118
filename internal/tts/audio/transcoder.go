package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
)

// Default executable names, resolved through PATH.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
)

// ErrEmptyOutput indicates the command succeeded but produced no file.
var ErrEmptyOutput = errors.New("command produced no output")

// Transcoder converts, joins and measures audio files.
type Transcoder interface {
	// ResamplePCM converts raw s16le mono PCM at sampleRate into a WAV file
	// with the transcoder's quality settings.
	ResamplePCM(ctx context.Context, inPath, outPath string, sampleRate int) error
	// Transcode re-encodes inPath into format.
	Transcode(ctx context.Context, inPath, outPath string, format Format) error
	// Concat joins the files named in a concat-demuxer list without
	// re-encoding.
	Concat(ctx context.Context, listPath, outPath string) error
	// ProbeDuration returns the duration in seconds, or 0 when unknown.
	ProbeDuration(ctx context.Context, path string) float64
}

// FFmpegTranscoder implements Transcoder with the ffmpeg and ffprobe CLIs.
type FFmpegTranscoder struct {
	ffmpegPath  string
	ffprobePath string
	quality     Quality
	runner      CommandRunner
	log         *logger.Logger
}

// NewFFmpegTranscoder creates a transcoder. Empty paths fall back to the
// executables on PATH and a nil runner executes real processes.
func NewFFmpegTranscoder(
	ffmpegPath, ffprobePath string,
	quality Quality,
	runner CommandRunner,
	log *logger.Logger,
) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	if ffprobePath == "" {
		ffprobePath = DefaultFFprobePath
	}

	if runner == nil {
		runner = ExecRunner{}
	}

	return &FFmpegTranscoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		quality:     quality,
		runner:      runner,
		log:         log,
	}
}

// ResamplePCM implements Transcoder.
func (t *FFmpegTranscoder) ResamplePCM(ctx context.Context, inPath, outPath string, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = SourceSampleRate
	}

	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(SourceChannels),
		"-i", inPath,
	}
	args = append(args, t.quality.encoderArgs(FormatWAV)...)

	return t.ffmpeg(ctx, outPath, args...)
}

// Transcode implements Transcoder.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inPath, outPath string, format Format) error {
	args := append([]string{"-i", inPath}, t.quality.encoderArgs(format)...)

	return t.ffmpeg(ctx, outPath, args...)
}

// Concat implements Transcoder.
func (t *FFmpegTranscoder) Concat(ctx context.Context, listPath, outPath string) error {
	return t.ffmpeg(ctx, outPath, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy")
}

// ProbeDuration implements Transcoder. Any failure yields 0.
func (t *FFmpegTranscoder) ProbeDuration(ctx context.Context, path string) float64 {
	result, err := RunCommand(ctx, t.runner, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		t.log.Warn("Failed to probe duration of '%s': %v", path, err)

		return 0
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil || math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		t.log.Warn("Unparsable duration %q for '%s'", strings.TrimSpace(result.Stdout), path)

		return 0
	}

	return duration
}

// ffmpeg runs ffmpeg with args followed by outPath and checks that a
// non-empty output file exists.
func (t *FFmpegTranscoder) ffmpeg(ctx context.Context, outPath string, args ...string) error {
	fullArgs := make([]string, 0, len(args)+5)
	fullArgs = append(fullArgs, "-hide_banner", "-loglevel", "error", "-y")
	fullArgs = append(fullArgs, args...)
	fullArgs = append(fullArgs, outPath)

	_, err := RunCommand(ctx, t.runner, t.ffmpegPath, fullArgs...)
	if err != nil {
		return fmt.Errorf("ffmpeg could not produce '%s': %w", outPath, err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, outPath)
	}

	return nil
}
