// Package server exposes finished audio, Prometheus metrics and a health
// probe over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	fallbackContentType      = "application/octet-stream"
	keyPathValue             = "key"
)

// Routes served by Handler.
const (
	AudioRoute   = "GET /audio/{key...}"
	MetricsRoute = "GET /metrics"
	HealthRoute  = "GET /healthz"
)

// contentTyper is implemented by stores that record the upload content type.
type contentTyper interface {
	ContentType(ctx context.Context, key string) (string, error)
}

// AudioHandler serves objects from the audio bucket with range support.
type AudioHandler struct {
	store core.ObjectStore
	log   *logger.Logger
}

// NewAudioHandler creates an AudioHandler reading from store.
func NewAudioHandler(store core.ObjectStore, log *logger.Logger) *AudioHandler {
	return &AudioHandler{store: store, log: log}
}

// ServeHTTP writes the object named by the key path value. Range requests
// are answered with 206 or 416 by http.ServeContent.
func (h *AudioHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	key := request.PathValue(keyPathValue)
	if key == "" {
		http.Error(writer, "missing audio key", http.StatusBadRequest)

		return
	}

	data, err := h.store.Download(request.Context(), key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			http.NotFound(writer, request)

			return
		}

		h.log.Error("Failed to read audio %s: %v", key, err)
		http.Error(writer, "failed to read audio", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", h.contentType(request.Context(), key))
	writer.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(writer, request, key, time.Time{}, bytes.NewReader(data))
}

func (h *AudioHandler) contentType(ctx context.Context, key string) string {
	if format, ok := audio.FormatFromPath(key); ok {
		return format.ContentType()
	}

	if typer, ok := h.store.(contentTyper); ok {
		contentType, err := typer.ContentType(ctx, key)
		if err == nil && contentType != "" {
			return contentType
		}
	}

	return fallbackContentType
}

// Handler builds the routing table for the audio store and the metrics
// gatherer.
func Handler(store core.ObjectStore, gatherer prometheus.Gatherer, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(AudioRoute, NewAudioHandler(store, log))
	mux.Handle(MetricsRoute, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(HealthRoute, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})

	return mux
}

// Server runs Handler on a listen address.
type Server struct {
	addr    string
	handler http.Handler
	log     *logger.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a Server for addr.
func New(addr string, handler http.Handler, log *logger.Logger) *Server {
	return &Server{addr: addr, handler: handler, log: log}
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown or when Shutdown was called first.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	httpServer := s.server
	s.mu.Unlock()

	s.log.System("Serving audio and metrics on %s", s.addr)

	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}
