// Package config provides the configuration structure for docspeech.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/docspeech/internal/keypool"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables holding Gemini API keys. The plural form is a
// comma-separated list and wins over the singular one.
const (
	EnvAPIKeys = "GEMINI_API_KEYS"
	EnvAPIKey  = "GEMINI_API_KEY"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultNATSURL                 = "nats://127.0.0.1:4222"
	DefaultDocumentUploadedSubject = "document.uploaded"
	DefaultSpeechGeneratedSubject  = "speech.generated"
	DefaultQueueGroup              = "docspeech-workers"
	DefaultDocumentsBucket         = "DOCUMENTS"
	DefaultAudioBucket             = "SPEECH_AUDIO"
	DefaultJobTimeoutSeconds       = 3600
	DefaultGeminiBaseURL           = "https://generativelanguage.googleapis.com"
	DefaultFilterModel             = "gemini-2.5-flash"
	DefaultTTSModel                = "gemini-2.5-flash-preview-tts"
	DefaultVoiceName               = "Kore"
	DefaultTemperature             = 0.1
	DefaultMaxOutputTokens         = 8192
	DefaultFilterTimeoutSeconds    = 30
	DefaultTTSTimeoutSeconds       = 120
	DefaultConnectTimeoutSeconds   = 30
	DefaultFilterChunkChars        = 3000
	DefaultSpeechChunkChars        = 500
	DefaultKeyCooldownSeconds      = 600
	DefaultFilterPacingMS          = 500
	DefaultMP3Bitrate              = "128k"
	DefaultSampleRate              = 44100
	DefaultChannels                = 2
	DefaultListenAddr              = ":8080"
	DefaultEnvFile                 = ".env"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                     string `toml:"url"`
	DocumentUploadedSubject string `toml:"document_uploaded_subject"`
	SpeechGeneratedSubject  string `toml:"speech_generated_subject"`
	QueueGroup              string `toml:"queue_group"`
	DocumentsBucket         string `toml:"documents_bucket"`
	AudioBucket             string `toml:"audio_bucket"`
	JobTimeoutSeconds       int    `toml:"job_timeout_seconds"`
}

// GeminiConfig holds the model endpoints and request settings. API keys are
// never read from TOML.
type GeminiConfig struct {
	BaseURL               string   `toml:"base_url"`
	FilterModel           string   `toml:"filter_model"`
	TTSModel              string   `toml:"tts_model"`
	VoiceName             string   `toml:"voice_name"`
	Temperature           float64  `toml:"temperature"`
	MaxOutputTokens       int      `toml:"max_output_tokens"`
	FilterTimeoutSeconds  int      `toml:"filter_timeout_seconds"`
	TTSTimeoutSeconds     int      `toml:"tts_timeout_seconds"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
	APIKeys               []string `toml:"-"`
}

// PipelineConfig holds chunking, pacing and output settings.
type PipelineConfig struct {
	FilterChunkChars   int    `toml:"filter_chunk_chars"`
	SpeechChunkChars   int    `toml:"speech_chunk_chars"`
	KeyCooldownSeconds int    `toml:"key_cooldown_seconds"`
	FilterPacingMS     int    `toml:"filter_pacing_ms"`
	MP3Bitrate         string `toml:"mp3_bitrate"`
	SampleRate         int    `toml:"sample_rate"`
	Channels           int    `toml:"channels"`
	DisableFilter      bool   `toml:"disable_filter"`
	DisableFLAC        bool   `toml:"disable_flac"`
	WorkDir            string `toml:"work_dir"`
}

// AudioConfig holds the audio tool locations.
type AudioConfig struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// ExtractConfig holds the text extraction tool locations.
type ExtractConfig struct {
	PDFToTextPath string `toml:"pdftotext_path"`
	QPDFPath      string `toml:"qpdf_path"`
	AntiwordPath  string `toml:"antiword_path"`
}

// HTTPConfig holds the audio and metrics server settings.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	EnvFile     string `toml:"env_file"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Audio    AudioConfig    `toml:"audio"`
	Extract  ExtractConfig  `toml:"extract"`
	HTTP     HTTPConfig     `toml:"http"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the service configuration through the central configurator,
// then reads API keys from the environment and the configured .env file.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads configuration from a TOML file. An empty path yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	keys, err := LoadAPIKeys(cfg.Paths.EnvFile)
	if err != nil {
		return nil, err
	}

	cfg.Gemini.APIKeys = keys

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadAPIKeys returns the Gemini API keys from the process environment,
// falling back to envFile. A missing envFile is not an error.
func LoadAPIKeys(envFile string) ([]string, error) {
	fileValues := map[string]string{}

	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}

		if values != nil {
			fileValues = values
		}
	}

	return apiKeysFrom(os.LookupEnv, fileValues), nil
}

func apiKeysFrom(lookup func(string) (string, bool), fileValues map[string]string) []string {
	for _, name := range []string{EnvAPIKeys, EnvAPIKey} {
		if value, ok := lookup(name); ok {
			if keys := keypool.ParseKeys(value); len(keys) > 0 {
				return keys
			}
		}

		if keys := keypool.ParseKeys(fileValues[name]); len(keys) > 0 {
			return keys
		}
	}

	return nil
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, DefaultNATSURL)
	setString(&c.NATS.DocumentUploadedSubject, DefaultDocumentUploadedSubject)
	setString(&c.NATS.SpeechGeneratedSubject, DefaultSpeechGeneratedSubject)
	setString(&c.NATS.QueueGroup, DefaultQueueGroup)
	setString(&c.NATS.DocumentsBucket, DefaultDocumentsBucket)
	setString(&c.NATS.AudioBucket, DefaultAudioBucket)
	setInt(&c.NATS.JobTimeoutSeconds, DefaultJobTimeoutSeconds)

	setString(&c.Gemini.BaseURL, DefaultGeminiBaseURL)
	setString(&c.Gemini.FilterModel, DefaultFilterModel)
	setString(&c.Gemini.TTSModel, DefaultTTSModel)
	setString(&c.Gemini.VoiceName, DefaultVoiceName)
	setInt(&c.Gemini.MaxOutputTokens, DefaultMaxOutputTokens)
	setInt(&c.Gemini.FilterTimeoutSeconds, DefaultFilterTimeoutSeconds)
	setInt(&c.Gemini.TTSTimeoutSeconds, DefaultTTSTimeoutSeconds)
	setInt(&c.Gemini.ConnectTimeoutSeconds, DefaultConnectTimeoutSeconds)

	if c.Gemini.Temperature == 0 {
		c.Gemini.Temperature = DefaultTemperature
	}

	setInt(&c.Pipeline.FilterChunkChars, DefaultFilterChunkChars)
	setInt(&c.Pipeline.SpeechChunkChars, DefaultSpeechChunkChars)
	setInt(&c.Pipeline.KeyCooldownSeconds, DefaultKeyCooldownSeconds)
	setInt(&c.Pipeline.FilterPacingMS, DefaultFilterPacingMS)
	setString(&c.Pipeline.MP3Bitrate, DefaultMP3Bitrate)
	setInt(&c.Pipeline.SampleRate, DefaultSampleRate)
	setInt(&c.Pipeline.Channels, DefaultChannels)

	setString(&c.HTTP.ListenAddr, DefaultListenAddr)
	setString(&c.Paths.BaseLogsDir, os.TempDir())
	setString(&c.Paths.EnvFile, DefaultEnvFile)
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	checks := []struct {
		ok    bool
		field string
	}{
		{c.NATS.JobTimeoutSeconds > 0, "nats.job_timeout_seconds"},
		{c.Gemini.Temperature >= 0 && c.Gemini.Temperature <= 2, "gemini.temperature"},
		{c.Gemini.MaxOutputTokens > 0, "gemini.max_output_tokens"},
		{c.Gemini.FilterTimeoutSeconds > 0, "gemini.filter_timeout_seconds"},
		{c.Gemini.TTSTimeoutSeconds > 0, "gemini.tts_timeout_seconds"},
		{c.Gemini.ConnectTimeoutSeconds > 0, "gemini.connect_timeout_seconds"},
		{c.Pipeline.FilterChunkChars > 0, "pipeline.filter_chunk_chars"},
		{c.Pipeline.SpeechChunkChars > 0, "pipeline.speech_chunk_chars"},
		{c.Pipeline.KeyCooldownSeconds >= 0, "pipeline.key_cooldown_seconds"},
		{c.Pipeline.FilterPacingMS >= 0, "pipeline.filter_pacing_ms"},
		{c.Pipeline.SampleRate > 0, "pipeline.sample_rate"},
		{c.Pipeline.Channels > 0, "pipeline.channels"},
	}

	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s is out of range", ErrInvalidConfig, check.field)
		}
	}

	return nil
}

// JobTimeout is the deadline for one document conversion.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.NATS.JobTimeoutSeconds) * time.Second
}

// KeyCooldown is how long a rate-limited key is skipped.
func (c *Config) KeyCooldown() time.Duration {
	return time.Duration(c.Pipeline.KeyCooldownSeconds) * time.Second
}

// FilterPacing is the pause between filter requests.
func (c *Config) FilterPacing() time.Duration {
	return time.Duration(c.Pipeline.FilterPacingMS) * time.Millisecond
}

// FilterTimeout is the HTTP timeout of filter requests.
func (c *Config) FilterTimeout() time.Duration {
	return time.Duration(c.Gemini.FilterTimeoutSeconds) * time.Second
}

// TTSTimeout is the HTTP timeout of speech requests.
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.Gemini.TTSTimeoutSeconds) * time.Second
}

// ConnectTimeout bounds connection establishment for both clients.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Gemini.ConnectTimeoutSeconds) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target == 0 {
		*target = fallback
	}
}
