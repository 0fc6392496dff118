package extract

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/book-expert/docspeech/internal/keypool"
	"github.com/book-expert/docspeech/internal/metrics"
	"github.com/book-expert/docspeech/internal/tts/text"
	"github.com/book-expert/logger"
)

// Filter defaults.
const (
	DefaultFilterPacing          = 500 * time.Millisecond
	DefaultFilterTemperature     = 0.1
	DefaultFilterMaxOutputTokens = 8192
)

const filterPrompt = "You are cleaning text extracted from an official statistics publication " +
	"so it can be read aloud. Return only the narrative paragraph text from the input below. " +
	"Remove headers, footers, page numbers, tables, figure and table captions, tables of contents, " +
	"and publisher boilerplate. Do not paraphrase, summarize, translate or add anything: " +
	"copy the kept sentences exactly as written. If nothing qualifies, return an empty response."

// ContentGenerator is the subset of the Gemini client used for filtering.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, apiKey, model string, req *gemini.Request) (*gemini.Response, error)
}

// FilterSettings configures the model call.
type FilterSettings struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	ChunkChars      int
	Pacing          time.Duration
}

// Filter keeps only the narrative text of a document, asking the model
// chunk by chunk and falling back to heuristic cleaning per chunk.
type Filter struct {
	generator ContentGenerator
	pool      *keypool.Pool
	settings  FilterSettings
	sleep     core.Sleeper
	metrics   *metrics.Recorder
	log       *logger.Logger
}

// NewFilter creates a filter. A nil pool or generator disables the model
// and every chunk is cleaned heuristically.
func NewFilter(
	generator ContentGenerator,
	pool *keypool.Pool,
	settings FilterSettings,
	recorder *metrics.Recorder,
	log *logger.Logger,
) *Filter {
	if settings.ChunkChars <= 0 {
		settings.ChunkChars = text.FilterChunkChars
	}

	if settings.Pacing <= 0 {
		settings.Pacing = DefaultFilterPacing
	}

	if settings.MaxOutputTokens <= 0 {
		settings.MaxOutputTokens = DefaultFilterMaxOutputTokens
	}

	return &Filter{
		generator: generator,
		pool:      pool,
		settings:  settings,
		sleep:     core.Sleep,
		metrics:   recorder,
		log:       log,
	}
}

// WithSleeper replaces the pacing sleep, for tests.
func (f *Filter) WithSleeper(sleep core.Sleeper) *Filter {
	f.sleep = sleep

	return f
}

// FilterImportantText returns the narrative text of input. Chunks are joined
// with a blank line. Model failures never fail the call.
func (f *Filter) FilterImportantText(ctx context.Context, input string) string {
	if f.pool == nil || f.generator == nil || f.pool.Len() == 0 {
		return text.BasicClean(input)
	}

	chunks := text.Split(input, f.settings.ChunkChars)
	filtered := make([]string, 0, len(chunks))

	for index, chunk := range chunks {
		if index > 0 {
			sleepErr := f.sleep(ctx, f.settings.Pacing)
			if sleepErr != nil {
				f.log.Warn("Filter interrupted at chunk %d/%d: %v", index+1, len(chunks), sleepErr)

				for _, remaining := range chunks[index:] {
					filtered = appendNonEmpty(filtered, f.fallback(remaining))
				}

				break
			}
		}

		filtered = appendNonEmpty(filtered, f.filterChunk(ctx, index, chunk))
	}

	return strings.Join(filtered, "\n\n")
}

// filterChunk tries each key at most once. Rejections by key (400, 403,
// 429) rotate to the next key; any other failure falls back immediately.
func (f *Filter) filterChunk(ctx context.Context, chunkIndex int, chunk string) string {
	request := gemini.NewTextRequest(&gemini.GenerationConfig{
		Temperature:     f.settings.Temperature,
		MaxOutputTokens: f.settings.MaxOutputTokens,
	}, filterPrompt, chunk)

	for attempt := 0; attempt < f.pool.Len(); attempt++ {
		keyIndex, key := f.pool.Current()

		response, err := f.generator.GenerateContent(ctx, key, f.settings.Model, request)
		if err == nil {
			filtered := strings.TrimSpace(response.Text())
			if filtered == "" {
				f.log.Warn("Filter returned no text for chunk %d, using heuristic cleaning", chunkIndex+1)

				return f.fallback(chunk)
			}

			f.pool.RecordUse(keyIndex)

			return filtered
		}

		switch gemini.StatusCode(err) {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusTooManyRequests:
			f.log.Warn("Filter key %s rejected chunk %d: %v", keypool.Mask(key), chunkIndex+1, err)
			f.pool.Rotate()
			f.metrics.KeyRotation(metrics.RotationRejected)

			continue
		}

		f.log.Warn("Filter failed for chunk %d, using heuristic cleaning: %v", chunkIndex+1, err)

		return f.fallback(chunk)
	}

	f.log.Warn("All %d filter keys rejected chunk %d, using heuristic cleaning", f.pool.Len(), chunkIndex+1)

	return f.fallback(chunk)
}

func (f *Filter) fallback(chunk string) string {
	f.metrics.FilterFallback()

	return text.BasicClean(chunk)
}

func appendNonEmpty(parts []string, part string) []string {
	if part == "" {
		return parts
	}

	return append(parts, part)
}
