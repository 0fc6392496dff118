package tts_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/docspeech/internal/gemini"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"
)

const pcmMimeType = "audio/L16;codec=pcm;rate=24000"

var errFakeEncoder = errors.New("encoder exited with status 1")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// generatorCall records one request made to the fake generator.
type generatorCall struct {
	key  string
	text string
}

// scriptedGenerator answers each request through respond, which receives the
// zero-based call number for the chunk text and the chunk text itself.
type scriptedGenerator struct {
	mu      sync.Mutex
	calls   []generatorCall
	perText map[string]int
	respond func(attempt int, key, text string) (*gemini.Response, error)
}

func newScriptedGenerator(respond func(attempt int, key, text string) (*gemini.Response, error)) *scriptedGenerator {
	return &scriptedGenerator{perText: make(map[string]int), respond: respond}
}

func (g *scriptedGenerator) GenerateContent(
	_ context.Context,
	apiKey, _ string,
	req *gemini.Request,
) (*gemini.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	chunkText := req.Contents[0].Parts[0].Text
	g.calls = append(g.calls, generatorCall{key: apiKey, text: chunkText})

	attempt := g.perText[chunkText]
	g.perText[chunkText]++

	return g.respond(attempt, apiKey, chunkText)
}

func (g *scriptedGenerator) keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.calls))
	for _, call := range g.calls {
		keys = append(keys, call.key)
	}

	return keys
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.calls)
}

func audioResponse(mimeType string, payload []byte) *gemini.Response {
	return &gemini.Response{Candidates: []gemini.Candidate{{
		Content: gemini.Content{Parts: []gemini.Part{{
			InlineData: &gemini.InlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(payload),
			},
		}}},
	}}}
}

func pcmResponse(text string) *gemini.Response {
	return audioResponse(pcmMimeType, []byte("pcm:"+text))
}

func apiError(status int) error {
	return &gemini.APIError{StatusCode: status, Status: fmt.Sprintf("%d", status), Message: "scripted"}
}

// transcoderCall records one Transcoder method invocation.
type transcoderCall struct {
	method string
	in     string
	out    string
	format audio.Format
}

// fakeTranscoder writes a small marker file for every output it is asked
// for, so the caller sees the same files ffmpeg would leave.
type fakeTranscoder struct {
	mu          sync.Mutex
	calls       []transcoderCall
	lists       []string
	failFormats map[audio.Format]bool
	failConcat  bool
	duration    float64
}

func (f *fakeTranscoder) record(call transcoderCall) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}

func (f *fakeTranscoder) ResamplePCM(_ context.Context, inPath, outPath string, _ int) error {
	f.record(transcoderCall{method: "resample", in: inPath, out: outPath, format: audio.FormatWAV})

	return copyMarked(inPath, outPath, "wav")
}

func (f *fakeTranscoder) Transcode(_ context.Context, inPath, outPath string, format audio.Format) error {
	f.record(transcoderCall{method: "transcode", in: inPath, out: outPath, format: format})

	if f.failFormats[format] {
		return errFakeEncoder
	}

	return copyMarked(inPath, outPath, string(format))
}

func (f *fakeTranscoder) Concat(_ context.Context, listPath, outPath string) error {
	f.record(transcoderCall{method: "concat", in: listPath, out: outPath})

	list, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.lists = append(f.lists, string(list))
	f.mu.Unlock()

	if f.failConcat {
		return errFakeEncoder
	}

	return os.WriteFile(outPath, []byte("concat"), 0o600)
}

func (f *fakeTranscoder) ProbeDuration(_ context.Context, path string) float64 {
	f.record(transcoderCall{method: "probe", in: path})

	return f.duration
}

func (f *fakeTranscoder) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	methods := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		name := call.method
		if call.method == "transcode" {
			name += ":" + string(call.format)
		}

		methods = append(methods, name)
	}

	return methods
}

func copyMarked(inPath, outPath, marker string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}

	return os.WriteFile(outPath, append([]byte(marker+":"), data...), 0o600)
}

// recordingSleeper returns immediately and keeps every requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// sentences builds count short sentences that each become their own chunk
// with a chunk size of 20.
func sentences(count int) (string, []string) {
	parts := make([]string, count)
	for index := range parts {
		parts[index] = fmt.Sprintf("Bagian %c selesai.", 'A'+index)
	}

	return strings.Join(parts, " "), parts
}
