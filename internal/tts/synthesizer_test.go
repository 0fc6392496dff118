package tts_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/book-expert/docspeech/internal/keypool"
	"github.com/book-expert/docspeech/internal/tts"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type synthesizerFixture struct {
	synthesizer *tts.Synthesizer
	generator   *scriptedGenerator
	transcoder  *fakeTranscoder
	sleeper     *recordingSleeper
	pool        *keypool.Pool
	workDir     string
}

func newSynthesizerFixture(t *testing.T, keys []string, generator *scriptedGenerator) *synthesizerFixture {
	t.Helper()

	pool, err := keypool.New(keys, time.Minute)
	require.NoError(t, err)

	log := newTestLogger(t)
	transcoder := &fakeTranscoder{duration: 12.5}
	sleeper := &recordingSleeper{}
	workDir := t.TempDir()

	synthesizer := tts.NewSynthesizer(
		generator,
		pool,
		transcoder,
		tts.NewAssembler(transcoder, true, log),
		tts.Settings{ChunkChars: 20, WorkDir: workDir},
		nil,
		log,
	).WithSleeper(sleeper.Sleep)

	return &synthesizerFixture{
		synthesizer: synthesizer,
		generator:   generator,
		transcoder:  transcoder,
		sleeper:     sleeper,
		pool:        pool,
		workDir:     workDir,
	}
}

func alwaysSucceed() *scriptedGenerator {
	return newScriptedGenerator(func(_ int, _, text string) (*gemini.Response, error) {
		return pcmResponse(text), nil
	})
}

func alwaysFail(status int) *scriptedGenerator {
	return newScriptedGenerator(func(int, string, string) (*gemini.Response, error) {
		return nil, apiError(status)
	})
}

func TestConvert_TransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	input, parts := sentences(10)
	flaky := map[string]bool{parts[2]: true, parts[6]: true}

	generator := newScriptedGenerator(func(attempt int, _, text string) (*gemini.Response, error) {
		if flaky[text] && attempt == 0 {
			return nil, apiError(http.StatusServiceUnavailable)
		}

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a", "key-b"}, generator)

	var progress []int

	result, err := fixture.synthesizer.Convert(context.Background(), input, func(done, total int) {
		assert.Equal(t, 10, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.SuccessRate, 1e-9)
	assert.Equal(t, 10, result.TotalChunks)
	assert.Equal(t, 10, result.CompletedChunks)
	assert.InDelta(t, 12.5, result.DurationSeconds, 1e-9)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, progress)
	assert.Equal(t, 12, generator.callCount())
	assert.NotEmpty(t, result.MP3)
	assert.NotEmpty(t, result.FLAC)

	require.Len(t, fixture.transcoder.lists, 1)

	lines := strings.Split(strings.TrimSpace(fixture.transcoder.lists[0]), "\n")
	require.Len(t, lines, 10)

	for index, line := range lines {
		assert.Contains(t, line, fmt.Sprintf("segment_%04d.wav'", index))
	}

	assert.Contains(t, fixture.sleeper.recorded(), 5*time.Second)
}

func TestConvert_ThreeConsecutiveFailuresAbort(t *testing.T) {
	t.Parallel()

	input, _ := sentences(10)
	fixture := newSynthesizerFixture(t, []string{"key-a"}, alwaysFail(http.StatusBadRequest))

	var progress int

	_, err := fixture.synthesizer.Convert(context.Background(), input, func(done, _ int) { progress = done })
	require.ErrorIs(t, err, tts.ErrPipelineAborted)
	require.ErrorIs(t, err, tts.ErrBadRequest)

	var abortErr *tts.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, tts.TooManyConsecutiveFailures, abortErr.Reason)
	assert.Equal(t, 3, abortErr.FailedChunks)
	assert.Equal(t, 0, abortErr.CompletedChunks)
	assert.Equal(t, 3, fixture.generator.callCount())
	assert.Equal(t, 3, progress)
	assert.Empty(t, fixture.transcoder.lists)
}

func TestConvert_TotalFailuresAbort(t *testing.T) {
	t.Parallel()

	input, parts := sentences(20)
	failing := make(map[string]bool)

	for index := 0; index < len(parts); index += 2 {
		failing[parts[index]] = true
	}

	generator := newScriptedGenerator(func(_ int, _, text string) (*gemini.Response, error) {
		if failing[text] {
			return nil, apiError(http.StatusBadRequest)
		}

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)

	_, err := fixture.synthesizer.Convert(context.Background(), input, nil)

	var abortErr *tts.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, tts.TooManyTotalFailures, abortErr.Reason)
	assert.Equal(t, 6, abortErr.FailedChunks)
	assert.Equal(t, 5, abortErr.CompletedChunks)
	assert.Equal(t, 11, generator.callCount())
}

func TestConvert_PartialSuccessReportsRate(t *testing.T) {
	t.Parallel()

	input, parts := sentences(4)
	generator := newScriptedGenerator(func(_ int, _, text string) (*gemini.Response, error) {
		if text == parts[1] {
			return nil, apiError(http.StatusBadRequest)
		}

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)

	result, err := fixture.synthesizer.Convert(context.Background(), input, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, result.SuccessRate, 1e-9)
	assert.Equal(t, 3, result.CompletedChunks)

	delays := fixture.sleeper.recorded()
	require.Len(t, delays, 3)
	assert.Equal(t, 200*time.Millisecond, delays[0])
	assert.Equal(t, 800*time.Millisecond, delays[1])
	assert.Equal(t, 300*time.Millisecond, delays[2])
}

func TestConvert_AllChunksFailed(t *testing.T) {
	t.Parallel()

	fixture := newSynthesizerFixture(t, []string{"key-a"}, alwaysFail(http.StatusInternalServerError))

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)

	var abortErr *tts.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, tts.AllChunksFailed, abortErr.Reason)
	require.ErrorIs(t, err, tts.ErrServerError)
	assert.Equal(t, 3, fixture.generator.callCount())

	var synthesisErr *tts.SynthesisError
	require.ErrorAs(t, err, &synthesisErr)
	assert.Equal(t, 3, synthesisErr.Attempts)
	assert.Equal(t, http.StatusInternalServerError, synthesisErr.StatusCode)
}

func TestConvert_EmptyInput(t *testing.T) {
	t.Parallel()

	fixture := newSynthesizerFixture(t, []string{"key-a"}, alwaysSucceed())

	_, err := fixture.synthesizer.Convert(context.Background(), " \x00\u200b\n\t ", nil)

	var abortErr *tts.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, tts.EmptyInput, abortErr.Reason)
	assert.Zero(t, fixture.generator.callCount())
}

func TestConvert_RateLimitCoolsKeyAndRotates(t *testing.T) {
	t.Parallel()

	generator := newScriptedGenerator(func(attempt int, _, text string) (*gemini.Response, error) {
		if attempt == 0 {
			return nil, apiError(http.StatusTooManyRequests)
		}

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a", "key-b", "key-c"}, generator)

	result, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.SuccessRate, 1e-9)

	assert.Equal(t, []string{"key-a", "key-b"}, generator.keys())
	assert.True(t, fixture.pool.CoolingDown(0))
	assert.Equal(t, []time.Duration{time.Second}, fixture.sleeper.recorded())
}

func TestConvert_RotatesEveryThirdAttemptOnSameKey(t *testing.T) {
	t.Parallel()

	fixture := newSynthesizerFixture(t, []string{"key-a", "key-b"}, alwaysFail(http.StatusBadGateway))

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.Error(t, err)

	assert.Equal(t, []string{"key-a", "key-a", "key-a", "key-b", "key-b", "key-b"}, fixture.generator.keys())
	assert.Len(t, fixture.sleeper.recorded(), 5)
}

func TestConvert_AttemptBudgetIsCapped(t *testing.T) {
	t.Parallel()

	keys := make([]string, 8)
	for index := range keys {
		keys[index] = fmt.Sprintf("key-%d", index)
	}

	fixture := newSynthesizerFixture(t, keys, alwaysFail(http.StatusServiceUnavailable))

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.Error(t, err)
	assert.Equal(t, 15, fixture.generator.callCount())
}

func TestConvert_ConnectionErrorsBackOff(t *testing.T) {
	t.Parallel()

	generator := newScriptedGenerator(func(attempt int, _, text string) (*gemini.Response, error) {
		if attempt < 2 {
			return nil, fmt.Errorf("request failed: %w", context.DeadlineExceeded)
		}

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 4 * time.Second}, fixture.sleeper.recorded())
}

func TestConvert_UnexpectedStatusUsesExponentialBackoff(t *testing.T) {
	t.Parallel()

	fixture := newSynthesizerFixture(t, []string{"key-a"}, alwaysFail(http.StatusForbidden))

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.ErrorIs(t, err, tts.ErrRequestFailed)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, fixture.sleeper.recorded())
}

func TestConvert_PayloadHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		response        *gemini.Response
		expectedMethods []string
		expectedKind    error
	}{
		{
			name:            "pcm is resampled",
			response:        audioResponse(pcmMimeType, []byte("pcm")),
			expectedMethods: []string{"resample", "transcode:mp3", "probe", "transcode:flac"},
		},
		{
			name:            "mp3 is transcoded to wav",
			response:        audioResponse("audio/mpeg", []byte("ID3")),
			expectedMethods: []string{"transcode:wav", "transcode:mp3", "probe", "transcode:flac"},
		},
		{
			name:            "other payloads are written as wav",
			response:        audioResponse("audio/wav", []byte("RIFF")),
			expectedMethods: []string{"transcode:mp3", "probe", "transcode:flac"},
		},
		{
			name:         "missing audio",
			response:     &gemini.Response{Candidates: []gemini.Candidate{{}}},
			expectedKind: tts.ErrEmptyResponse,
		},
		{
			name: "invalid base64",
			response: &gemini.Response{Candidates: []gemini.Candidate{{Content: gemini.Content{
				Parts: []gemini.Part{{InlineData: &gemini.InlineData{MimeType: pcmMimeType, Data: "%%%"}}},
			}}}},
			expectedKind: tts.ErrDecodeFailure,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			generator := newScriptedGenerator(func(int, string, string) (*gemini.Response, error) {
				return testCase.response, nil
			})
			fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)

			result, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)

			if testCase.expectedKind != nil {
				require.ErrorIs(t, err, testCase.expectedKind)
				assert.Equal(t, 3, generator.callCount())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.expectedMethods, fixture.transcoder.methods())
			assert.NotEmpty(t, result.MP3)
		})
	}
}

func TestConvert_SegmentTranscodeFailureSkipsChunk(t *testing.T) {
	t.Parallel()

	generator := newScriptedGenerator(func(int, string, string) (*gemini.Response, error) {
		return audioResponse("audio/mpeg", []byte("ID3")), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)
	fixture.transcoder.failFormats = map[audio.Format]bool{audio.FormatWAV: true}

	_, err := fixture.synthesizer.Convert(context.Background(), "Satu kalimat saja.", nil)
	require.ErrorIs(t, err, tts.ErrTranscodeFailure)
	require.ErrorIs(t, err, errFakeEncoder)
}

func TestConvert_CancellationIsNotAnAbort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	generator := newScriptedGenerator(func(_ int, _, text string) (*gemini.Response, error) {
		cancel()

		return pcmResponse(text), nil
	})
	fixture := newSynthesizerFixture(t, []string{"key-a"}, generator)

	input, _ := sentences(3)

	_, err := fixture.synthesizer.Convert(ctx, input, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, tts.ErrPipelineAborted)
	assert.Equal(t, 1, generator.callCount())
}

func TestConvert_RemovesWorkDirectory(t *testing.T) {
	t.Parallel()

	input, _ := sentences(3)
	fixture := newSynthesizerFixture(t, []string{"key-a"}, alwaysSucceed())

	_, err := fixture.synthesizer.Convert(context.Background(), input, nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(fixture.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	leftovers, err := filepath.Glob(filepath.Join(fixture.workDir, "*", "segment_*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
