package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "gemini-2.5-flash-preview-tts"

func TestGenerateContent_SendsRequestAndDecodesAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/"+testModel+":generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req gemini.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Halo dunia.", req.Contents[0].Parts[0].Text)
		assert.Equal(t, []string{"AUDIO"}, req.GenerationConfig.ResponseModalities)
		assert.Equal(t, "Kore", req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"inlineData":`+
			`{"mimeType":"audio/L16;codec=pcm;rate=24000","data":"AAEC"}}]}}]}`)
	}))
	defer server.Close()

	client := gemini.NewClient(server.URL, 5*time.Second, time.Second)

	resp, err := client.GenerateContent(
		context.Background(), "secret-key", testModel, gemini.NewSpeechRequest("Halo dunia.", "Kore"))
	require.NoError(t, err)

	audio := resp.InlineAudio()
	require.NotNil(t, audio)
	assert.Equal(t, "audio/L16;codec=pcm;rate=24000", audio.MimeType)
	assert.Equal(t, "AAEC", audio.Data)
}

func TestGenerateContent_TextResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Bagian "},{"text":"penting."}]}}]}`)
	}))
	defer server.Close()

	client := gemini.NewClient(server.URL, 5*time.Second, time.Second)

	resp, err := client.GenerateContent(context.Background(), "k", "gemini-2.0-flash",
		gemini.NewTextRequest(&gemini.GenerationConfig{Temperature: 0.1}, "prompt", "text"))
	require.NoError(t, err)
	assert.Equal(t, "Bagian penting.", resp.Text())
	assert.Nil(t, resp.InlineAudio())
}

func TestGenerateContent_ErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantReason  string
	}{
		{
			name:        "structured error",
			status:      http.StatusTooManyRequests,
			body:        `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantMessage: "Resource has been exhausted",
			wantReason:  "RESOURCE_EXHAUSTED",
		},
		{
			name:        "raw body",
			status:      http.StatusBadGateway,
			body:        "upstream unavailable\n",
			wantMessage: "upstream unavailable",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = io.WriteString(w, testCase.body)
			}))
			defer server.Close()

			client := gemini.NewClient(server.URL, 5*time.Second, time.Second)

			_, err := client.GenerateContent(context.Background(), "k", testModel, gemini.NewSpeechRequest("x", "Kore"))
			require.Error(t, err)

			var apiErr *gemini.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, testCase.status, apiErr.StatusCode)
			assert.Equal(t, testCase.wantMessage, apiErr.Message)
			assert.Equal(t, testCase.wantReason, apiErr.Reason)
			assert.Equal(t, testCase.status, gemini.StatusCode(err))
		})
	}
}

func TestGenerateContent_ValidatesArguments(t *testing.T) {
	t.Parallel()

	client := gemini.NewClient("http://127.0.0.1:1", time.Second, time.Second)

	_, err := client.GenerateContent(context.Background(), "", testModel, &gemini.Request{})
	require.ErrorIs(t, err, gemini.ErrAPIKeyEmpty)

	_, err = client.GenerateContent(context.Background(), "k", "", &gemini.Request{})
	require.ErrorIs(t, err, gemini.ErrModelEmpty)
}

func TestGenerateContent_ConnectionErrorHidesKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := gemini.NewClient(baseURL, time.Second, time.Second)

	_, err := client.GenerateContent(context.Background(), "very-secret", testModel, &gemini.Request{})
	require.Error(t, err)
	assert.True(t, gemini.IsConnectionError(err))
	assert.NotContains(t, err.Error(), "very-secret")
	assert.Equal(t, 0, gemini.StatusCode(err))
}

func TestGenerateContent_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := gemini.NewClient(server.URL, 50*time.Millisecond, time.Second)

	_, err := client.GenerateContent(context.Background(), "k", testModel, &gemini.Request{})
	require.Error(t, err)
	assert.True(t, gemini.IsConnectionError(err))
}

func TestIsConnectionError_IgnoresOtherErrors(t *testing.T) {
	t.Parallel()

	assert.False(t, gemini.IsConnectionError(nil))
	assert.False(t, gemini.IsConnectionError(errors.New("boom")))
	assert.False(t, gemini.IsConnectionError(&gemini.APIError{StatusCode: http.StatusInternalServerError}))
	assert.True(t, strings.Contains((&gemini.APIError{Status: "500 Internal Server Error"}).Error(), "500"))
}
