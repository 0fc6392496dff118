// Package audio turns synthesized speech payloads into playable files. It
// describes the output formats and quality settings and drives ffmpeg and
// ffprobe through a CommandRunner.
package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample layout of raw PCM returned by the speech model.
const (
	SourceSampleRate = 24000
	SourceChannels   = 1
)

// Defaults for every produced segment and final file.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	DefaultMP3Bitrate = "128k"
)

// Quality validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Error formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtBitrate         = "%w: bitrate %q must look like 128k"
)

// Common errors for the audio package.
var (
	ErrInvalidQuality = errors.New("invalid quality settings")
)

// Format represents supported audio formats.
type Format string

// Supported formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
)

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// FormatFromPath infers the format from a file name or object key.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return FormatMP3, true
	case ".flac":
		return FormatFLAC, true
	case ".wav":
		return FormatWAV, true
	default:
		return "", false
	}
}

// Payload classifies inline audio returned by the speech model.
type Payload int

// Payload kinds.
const (
	// PayloadPassthrough is written unchanged and treated as WAV.
	PayloadPassthrough Payload = iota
	// PayloadPCM is headerless signed 16-bit little-endian mono PCM.
	PayloadPCM
	// PayloadMP3 is an MPEG audio stream.
	PayloadMP3
)

// ClassifyMIME maps a payload MIME type such as
// "audio/L16;codec=pcm;rate=24000" to its payload kind and sample rate. The
// rate defaults to SourceSampleRate when absent or unparsable.
func ClassifyMIME(mimeType string) (Payload, int) {
	lower := strings.ToLower(mimeType)
	rate := SourceSampleRate

	for _, param := range strings.Split(lower, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || name != "rate" {
			continue
		}

		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			rate = parsed
		}
	}

	switch {
	case strings.Contains(lower, "l16"), strings.Contains(lower, "pcm"):
		return PayloadPCM, rate
	case strings.Contains(lower, "mpeg"), strings.Contains(lower, "mp3"):
		return PayloadMP3, rate
	default:
		return PayloadPassthrough, rate
	}
}

// Quality holds the sample layout and encoder settings of produced audio.
type Quality struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Bitrate    string `json:"bitrate"`
}

// NewDefaultQuality returns 44.1kHz stereo with a 128k MP3 bitrate.
func NewDefaultQuality() Quality {
	return Quality{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Bitrate:    DefaultMP3Bitrate,
	}
}

// Validate checks that the settings are within reasonable bounds.
func (q Quality) Validate() error {
	if q.SampleRate <= 0 || q.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate)
	}

	if q.Channels <= 0 || q.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels)
	}

	if !strings.HasSuffix(q.Bitrate, "k") {
		return fmt.Errorf(errFmtBitrate, ErrInvalidQuality, q.Bitrate)
	}

	_, err := strconv.Atoi(strings.TrimSuffix(q.Bitrate, "k"))
	if err != nil {
		return fmt.Errorf(errFmtBitrate, ErrInvalidQuality, q.Bitrate)
	}

	return nil
}

// encoderArgs returns the ffmpeg output options for format.
func (q Quality) encoderArgs(format Format) []string {
	layout := []string{"-ar", strconv.Itoa(q.SampleRate), "-ac", strconv.Itoa(q.Channels)}

	switch format {
	case FormatMP3:
		return append(layout, "-codec:a", "libmp3lame", "-b:a", q.Bitrate)
	case FormatFLAC:
		return append(layout, "-codec:a", "flac")
	default:
		return append(layout, "-codec:a", "pcm_s16le")
	}
}
