// Package tts turns narrative text into speech: it splits the text into
// chunks, synthesizes each one through the Gemini speech model with key
// rotation and retries, and assembles the ordered segments into MP3 and FLAC.
package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/book-expert/docspeech/internal/keypool"
	"github.com/book-expert/docspeech/internal/metrics"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/docspeech/internal/tts/text"
	"github.com/book-expert/logger"
)

// Synthesis defaults.
const (
	DefaultModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice = "Kore"

	attemptsPerKey       = 3
	maxAttemptBudget     = 15
	maxRateLimitWait     = 5
	serverErrorWait      = 5 * time.Second
	connectionWaitOffset = 2
	maxConnectionWait    = 10
	maxBackoffWait       = 8
	filePermissions      = 0o600
)

const (
	workDirPattern     = "docspeech-*"
	segmentFileFormat  = "segment_%04d%s"
	rawPCMExtension    = ".pcm"
	logFmtChunkStart   = "Synthesizing chunk %d/%d (%d chars)"
	logFmtChunkDone    = "Chunk %d/%d completed"
	logFmtChunkSkipped = "Chunk %d/%d skipped: %v"
	logFmtAttempt      = "Chunk %d attempt %d/%d with key %s failed: %v"
	logFmtAborted      = "Conversion aborted: %v"
	logFmtFinished     = "Conversion finished: %d/%d chunks, %.1f seconds of audio"
)

// SpeechGenerator is the subset of the Gemini client used for synthesis.
type SpeechGenerator interface {
	GenerateContent(ctx context.Context, apiKey, model string, req *gemini.Request) (*gemini.Response, error)
}

// Settings configures a Synthesizer.
type Settings struct {
	Model      string
	Voice      string
	ChunkChars int
	// WorkDir is the parent of each conversion's scratch directory; empty
	// means the system temp directory.
	WorkDir string
}

// Synthesizer implements core.SpeechConverter.
type Synthesizer struct {
	generator  SpeechGenerator
	pool       *keypool.Pool
	transcoder audio.Transcoder
	assembler  *Assembler
	settings   Settings
	sleep      core.Sleeper
	metrics    *metrics.Recorder
	log        *logger.Logger
}

// NewSynthesizer wires a Synthesizer. Zero settings take the defaults.
func NewSynthesizer(
	generator SpeechGenerator,
	pool *keypool.Pool,
	transcoder audio.Transcoder,
	assembler *Assembler,
	settings Settings,
	recorder *metrics.Recorder,
	log *logger.Logger,
) *Synthesizer {
	if settings.Model == "" {
		settings.Model = DefaultModel
	}

	if settings.Voice == "" {
		settings.Voice = DefaultVoice
	}

	if settings.ChunkChars <= 0 {
		settings.ChunkChars = text.SpeechChunkChars
	}

	return &Synthesizer{
		generator:  generator,
		pool:       pool,
		transcoder: transcoder,
		assembler:  assembler,
		settings:   settings,
		sleep:      core.Sleep,
		metrics:    recorder,
		log:        log,
	}
}

// WithSleeper replaces the delay function, for tests.
func (s *Synthesizer) WithSleeper(sleeper core.Sleeper) *Synthesizer {
	s.sleep = sleeper

	return s
}

// Convert synthesizes input into speech. Chunks are processed strictly in
// order; failed chunks are skipped until an abort threshold is crossed.
func (s *Synthesizer) Convert(
	ctx context.Context,
	input string,
	onProgress core.ProgressFunc,
) (*core.ConversionResult, error) {
	prepared := text.OptimizeForSpeech(text.Sanitize(input))
	if prepared == "" {
		s.metrics.Conversion(string(EmptyInput))

		return nil, &AbortError{Reason: EmptyInput}
	}

	pieces := text.Split(prepared, s.settings.ChunkChars)

	chunks := make([]TextChunk, len(pieces))
	for index, piece := range pieces {
		chunks[index] = TextChunk{Index: index, Text: piece, Status: ChunkPending}
	}

	workDir, err := os.MkdirTemp(s.settings.WorkDir, workDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			s.log.Warn("Failed to remove work directory %s: %v", workDir, removeErr)
		}
	}()

	segments, err := s.synthesizeChunks(ctx, chunks, workDir, onProgress)
	if err != nil {
		return nil, err
	}

	assembly, err := s.assembler.Assemble(ctx, segments, workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble audio: %w", err)
	}

	result := &core.ConversionResult{
		MP3:             assembly.MP3,
		FLAC:            assembly.FLAC,
		DurationSeconds: assembly.DurationSeconds,
		SuccessRate:     float64(len(segments)) / float64(len(chunks)),
		TotalChunks:     len(chunks),
		CompletedChunks: len(segments),
	}

	s.metrics.Conversion(metrics.ResultCompleted)
	s.metrics.SuccessRate(result.SuccessRate)
	s.log.Info(logFmtFinished, result.CompletedChunks, result.TotalChunks, result.DurationSeconds)

	return result, nil
}

// synthesizeChunks runs the chunk loop and returns the completed segments in
// chunk order.
func (s *Synthesizer) synthesizeChunks(
	ctx context.Context,
	chunks []TextChunk,
	workDir string,
	onProgress core.ProgressFunc,
) ([]AudioSegment, error) {
	total := len(chunks)
	history := make([]ChunkOutcome, 0, total)
	segments := make([]AudioSegment, 0, total)

	var lastErr error

	for index := range chunks {
		if index > 0 {
			err := s.sleep(ctx, interChunkDelay(tally(history)))
			if err != nil {
				return nil, fmt.Errorf("conversion interrupted: %w", err)
			}
		}

		chunk := &chunks[index]
		chunk.Status = ChunkProcessing
		s.log.Info(logFmtChunkStart, index+1, total, len([]rune(chunk.Text)))

		outcome := s.synthesizeChunk(ctx, *chunk, workDir)
		history = append(history, outcome)

		switch outcome.Kind {
		case OutcomeCompleted:
			chunk.Status = ChunkCompleted
			segments = append(segments, outcome.Segment)
			s.metrics.ChunkOutcome(metrics.OutcomeCompleted)
			s.log.Info(logFmtChunkDone, index+1, total)
		case OutcomeSkipped:
			chunk.Status = ChunkFailed
			lastErr = outcome.Err
			s.metrics.ChunkOutcome(metrics.OutcomeSkipped)
			s.log.Warn(logFmtChunkSkipped, index+1, total, outcome.Err)
		case OutcomeFatal:
			chunk.Status = ChunkFailed
			s.metrics.ChunkOutcome(metrics.OutcomeFatal)

			return nil, fmt.Errorf("chunk %d: %w", index+1, outcome.Err)
		}

		if onProgress != nil {
			onProgress(index+1, total)
		}

		reason, abort := assess(history, total)
		if abort {
			return nil, s.abort(reason, history, total, lastErr)
		}
	}

	if len(segments) == 0 {
		return nil, s.abort(AllChunksFailed, history, total, lastErr)
	}

	return segments, nil
}

func (s *Synthesizer) abort(reason AbortReason, history []ChunkOutcome, total int, cause error) error {
	counters := tally(history)
	abortErr := &AbortError{
		Reason:          reason,
		CompletedChunks: len(history) - counters.total,
		FailedChunks:    counters.total,
		TotalChunks:     total,
		Err:             cause,
	}

	s.metrics.Conversion(string(reason))
	s.log.Error(logFmtAborted, abortErr)

	return abortErr
}

// synthesizeChunk classifies the result of one chunk. Chunk-level failures
// are skipped; cancellation is fatal.
func (s *Synthesizer) synthesizeChunk(ctx context.Context, chunk TextChunk, workDir string) ChunkOutcome {
	path, err := s.generateAudioChunkWithRetry(ctx, chunk, workDir)
	if err == nil {
		return Completed(AudioSegment{Order: chunk.Index, Path: path, Format: audio.FormatWAV})
	}

	var synthesisErr *SynthesisError
	if errors.As(err, &synthesisErr) && ctx.Err() == nil {
		return Skipped(err)
	}

	return Fatal(err)
}

// generateAudioChunkWithRetry requests audio for one chunk until it succeeds
// or the attempt budget, three attempts per key capped at fifteen, runs out.
func (s *Synthesizer) generateAudioChunkWithRetry(
	ctx context.Context,
	chunk TextChunk,
	workDir string,
) (string, error) {
	budget := min(s.pool.Len()*attemptsPerKey, maxAttemptBudget)
	request := gemini.NewSpeechRequest(chunk.Text, s.settings.Voice)
	lastFailure := &SynthesisError{Kind: ErrRequestFailed, ChunkIndex: chunk.Index}

	previousKey := -1
	attemptsOnKey := 0

	for attempt := 1; attempt <= budget; attempt++ {
		keyIndex, key := s.pool.Available()
		if keyIndex != previousKey {
			previousKey = keyIndex
			attemptsOnKey = 0
		}

		attemptsOnKey++

		path, failure, wait := s.attempt(ctx, chunk, workDir, request, attempt, keyIndex, key)
		if failure == nil {
			return path, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("chunk %d: %w", chunk.Index+1, ctx.Err())
		}

		failure.ChunkIndex = chunk.Index
		failure.Attempts = attempt
		lastFailure = failure
		s.log.Warn(logFmtAttempt, chunk.Index+1, attempt, budget, keypool.Mask(key), failure.Err)

		if errors.Is(failure.Kind, ErrBadRequest) {
			return "", failure
		}

		if errors.Is(failure.Kind, ErrRateLimited) {
			attemptsOnKey = 0
		} else if attemptsOnKey%attemptsPerKey == 0 && s.pool.Len() > 1 {
			s.pool.Rotate()
			s.metrics.KeyRotation(metrics.RotationScheduled)
		}

		if attempt == budget {
			break
		}

		err := s.sleep(ctx, wait)
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", chunk.Index+1, err)
		}
	}

	lastFailure.Attempts = budget

	return "", lastFailure
}

// attempt makes one request. On failure it returns the classified error and
// how long to wait before the next attempt.
func (s *Synthesizer) attempt(
	ctx context.Context,
	chunk TextChunk,
	workDir string,
	request *gemini.Request,
	attempt, keyIndex int,
	key string,
) (string, *SynthesisError, time.Duration) {
	response, err := s.generator.GenerateContent(ctx, key, s.settings.Model, request)
	if err == nil {
		path, writeErr := s.writeSegment(ctx, response, chunk.Index, workDir)
		if writeErr != nil {
			return "", writeErr, backoffWait(attempt)
		}

		s.pool.RecordUse(keyIndex)

		return path, nil, 0
	}

	status := gemini.StatusCode(err)

	switch {
	case status == http.StatusTooManyRequests:
		s.pool.MarkFailed(keyIndex)
		s.pool.Rotate()
		s.metrics.KeyRotation(metrics.RotationRateLimited)

		return "", &SynthesisError{Kind: ErrRateLimited, StatusCode: status, Err: err},
			time.Duration(min(attempt, maxRateLimitWait)) * time.Second
	case status == http.StatusBadRequest:
		return "", &SynthesisError{Kind: ErrBadRequest, StatusCode: status, Err: err}, 0
	case status >= http.StatusInternalServerError:
		return "", &SynthesisError{Kind: ErrServerError, StatusCode: status, Err: err}, serverErrorWait
	case gemini.IsConnectionError(err):
		return "", &SynthesisError{Kind: ErrTimeout, Err: err},
			time.Duration(min(attempt+connectionWaitOffset, maxConnectionWait)) * time.Second
	default:
		return "", &SynthesisError{Kind: ErrRequestFailed, StatusCode: status, Err: err}, backoffWait(attempt)
	}
}

// backoffWait is min(2^attempt, 8) seconds.
func backoffWait(attempt int) time.Duration {
	seconds := maxBackoffWait
	if attempt < 4 {
		seconds = min(1<<attempt, maxBackoffWait)
	}

	return time.Duration(seconds) * time.Second
}

// writeSegment decodes the inline audio of response and leaves a WAV file at
// the target quality in workDir.
func (s *Synthesizer) writeSegment(
	ctx context.Context,
	response *gemini.Response,
	index int,
	workDir string,
) (string, *SynthesisError) {
	inline := response.InlineAudio()
	if inline == nil || inline.Data == "" {
		return "", &SynthesisError{Kind: ErrEmptyResponse}
	}

	data, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return "", &SynthesisError{Kind: ErrDecodeFailure, Err: err}
	}

	if len(data) == 0 {
		return "", &SynthesisError{Kind: ErrEmptyResponse}
	}

	wavPath := segmentPath(workDir, index, audio.FormatWAV.Extension())
	payload, sampleRate := audio.ClassifyMIME(inline.MimeType)

	switch payload {
	case audio.PayloadPCM:
		return wavPath, s.convertPayload(data, segmentPath(workDir, index, rawPCMExtension), wavPath,
			func(rawPath string) error {
				return s.transcoder.ResamplePCM(ctx, rawPath, wavPath, sampleRate)
			})
	case audio.PayloadMP3:
		return wavPath, s.convertPayload(data, segmentPath(workDir, index, audio.FormatMP3.Extension()), wavPath,
			func(rawPath string) error {
				return s.transcoder.Transcode(ctx, rawPath, wavPath, audio.FormatWAV)
			})
	default:
		err = os.WriteFile(wavPath, data, filePermissions)
		if err != nil {
			return "", &SynthesisError{Kind: ErrTranscodeFailure, Err: fmt.Errorf("failed to write segment: %w", err)}
		}

		return wavPath, nil
	}
}

// convertPayload writes data to rawPath, runs convert on it and removes the
// raw file.
func (s *Synthesizer) convertPayload(
	data []byte,
	rawPath, wavPath string,
	convert func(rawPath string) error,
) *SynthesisError {
	err := os.WriteFile(rawPath, data, filePermissions)
	if err != nil {
		return &SynthesisError{Kind: ErrTranscodeFailure, Err: fmt.Errorf("failed to write payload: %w", err)}
	}

	defer func() {
		removeErr := os.Remove(rawPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove raw payload %s: %v", rawPath, removeErr)
		}
	}()

	err = convert(rawPath)
	if err != nil {
		removeErr := os.Remove(wavPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove partial segment %s: %v", wavPath, removeErr)
		}

		return &SynthesisError{Kind: ErrTranscodeFailure, Err: err}
	}

	return nil
}

func segmentPath(workDir string, index int, extension string) string {
	return filepath.Join(workDir, fmt.Sprintf(segmentFileFormat, index, extension))
}
