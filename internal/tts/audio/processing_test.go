package audio_test

import (
	"testing"

	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMIME(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime    string
		payload audio.Payload
		rate    int
	}{
		{mime: "audio/L16;codec=pcm;rate=24000", payload: audio.PayloadPCM, rate: 24000},
		{mime: "audio/L16; rate=16000", payload: audio.PayloadPCM, rate: 16000},
		{mime: "audio/pcm", payload: audio.PayloadPCM, rate: audio.SourceSampleRate},
		{mime: "audio/mpeg", payload: audio.PayloadMP3, rate: audio.SourceSampleRate},
		{mime: "audio/mp3", payload: audio.PayloadMP3, rate: audio.SourceSampleRate},
		{mime: "audio/wav", payload: audio.PayloadPassthrough, rate: audio.SourceSampleRate},
		{mime: "", payload: audio.PayloadPassthrough, rate: audio.SourceSampleRate},
	}

	for _, testCase := range tests {
		payload, rate := audio.ClassifyMIME(testCase.mime)
		assert.Equal(t, testCase.payload, payload, testCase.mime)
		assert.Equal(t, testCase.rate, rate, testCase.mime)
	}
}

func TestQualityValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.NewDefaultQuality().Validate())

	invalid := []audio.Quality{
		{SampleRate: 0, Channels: 2, Bitrate: "128k"},
		{SampleRate: 44100, Channels: 9, Bitrate: "128k"},
		{SampleRate: 44100, Channels: 2, Bitrate: "fast"},
		{SampleRate: 44100, Channels: 2, Bitrate: "k"},
	}

	for _, quality := range invalid {
		require.ErrorIs(t, quality.Validate(), audio.ErrInvalidQuality)
	}
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	format, ok := audio.FormatFromPath("abc.MP3")
	require.True(t, ok)
	assert.Equal(t, "audio/mpeg", format.ContentType())

	format, ok = audio.FormatFromPath("abc.flac")
	require.True(t, ok)
	assert.Equal(t, "audio/flac", format.ContentType())
	assert.Equal(t, ".flac", format.Extension())

	_, ok = audio.FormatFromPath("abc.txt")
	assert.False(t, ok)
}
