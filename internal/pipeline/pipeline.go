// Package pipeline wires extraction and speech synthesis into a single
// document-to-speech conversion.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/docspeech/internal/config"
	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/extract"
	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/book-expert/docspeech/internal/keypool"
	"github.com/book-expert/docspeech/internal/metrics"
	"github.com/book-expert/docspeech/internal/tts"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/logger"
)

// ErrNoAPIKeys is returned by Build when no Gemini key is configured.
var ErrNoAPIKeys = errors.New("no Gemini API keys configured: set " + config.EnvAPIKeys + " or " + config.EnvAPIKey)

// Pipeline converts document bytes into speech.
type Pipeline struct {
	extractor core.TextExtractor
	converter core.SpeechConverter
	log       *logger.Logger
}

// New creates a Pipeline from its two stages.
func New(extractor core.TextExtractor, converter core.SpeechConverter, log *logger.Logger) *Pipeline {
	return &Pipeline{extractor: extractor, converter: converter, log: log}
}

// ConvertDocument extracts the narrative text of data and synthesizes it.
func (p *Pipeline) ConvertDocument(
	ctx context.Context,
	data []byte,
	mimeType string,
	onProgress core.ProgressFunc,
) (*core.ConversionResult, error) {
	narrative, err := p.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	p.log.Info("Extracted %d characters of narrative text", len([]rune(narrative)))

	result, err := p.converter.Convert(ctx, narrative, onProgress)
	if err != nil {
		return nil, fmt.Errorf("speech conversion failed: %w", err)
	}

	return result, nil
}

// Options adjusts Build for a single run.
type Options struct {
	DisableFilter bool
	DisableFLAC   bool
	Runner        audio.CommandRunner
}

// Build assembles a Pipeline from configuration. One key pool is shared by
// the filter and the synthesizer.
func Build(cfg *config.Config, opts Options, recorder *metrics.Recorder, log *logger.Logger) (*Pipeline, *keypool.Pool, error) {
	if len(cfg.Gemini.APIKeys) == 0 {
		return nil, nil, ErrNoAPIKeys
	}

	pool, err := keypool.New(cfg.Gemini.APIKeys, cfg.KeyCooldown())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create key pool: %w", err)
	}

	quality := audio.Quality{
		SampleRate: cfg.Pipeline.SampleRate,
		Channels:   cfg.Pipeline.Channels,
		Bitrate:    cfg.Pipeline.MP3Bitrate,
	}

	err = quality.Validate()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid audio settings: %w", err)
	}

	runner := opts.Runner
	if runner == nil {
		runner = audio.ExecRunner{}
	}

	var filter *extract.Filter
	if !cfg.Pipeline.DisableFilter && !opts.DisableFilter {
		filterClient := gemini.NewClient(cfg.Gemini.BaseURL, cfg.FilterTimeout(), cfg.ConnectTimeout())
		filter = extract.NewFilter(filterClient, pool, extract.FilterSettings{
			Model:           cfg.Gemini.FilterModel,
			Temperature:     cfg.Gemini.Temperature,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
			ChunkChars:      cfg.Pipeline.FilterChunkChars,
			Pacing:          cfg.FilterPacing(),
		}, recorder, log)
	}

	extractor := extract.New(toolsFrom(cfg.Extract), runner, filter, cfg.Pipeline.WorkDir, log)

	transcoder := audio.NewFFmpegTranscoder(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath, quality, runner, log)
	assembler := tts.NewAssembler(transcoder, !cfg.Pipeline.DisableFLAC && !opts.DisableFLAC, log)
	ttsClient := gemini.NewClient(cfg.Gemini.BaseURL, cfg.TTSTimeout(), cfg.ConnectTimeout())

	synthesizer := tts.NewSynthesizer(ttsClient, pool, transcoder, assembler, tts.Settings{
		Model:      cfg.Gemini.TTSModel,
		Voice:      cfg.Gemini.VoiceName,
		ChunkChars: cfg.Pipeline.SpeechChunkChars,
		WorkDir:    cfg.Pipeline.WorkDir,
	}, recorder, log)

	return New(extractor, synthesizer, log), pool, nil
}

func toolsFrom(cfg config.ExtractConfig) extract.Tools {
	tools := extract.DefaultTools()

	if cfg.PDFToTextPath != "" {
		tools.PDFToText = cfg.PDFToTextPath
	}

	if cfg.QPDFPath != "" {
		tools.QPDF = cfg.QPDFPath
	}

	if cfg.AntiwordPath != "" {
		tools.Antiword = cfg.AntiwordPath
	}

	return tools
}
