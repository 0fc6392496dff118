// Package worker provides a NATS worker that turns uploaded documents into
// speech.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/tts/audio"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultJobTimeout     = time.Hour
	uploadMaxElapsedTime  = time.Minute
	uploadInitialInterval = 500 * time.Millisecond
)

var (
	// ErrSubjectEmpty indicates that no subject was given to listen on.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrDocumentKeyEmpty indicates an event without a document key.
	ErrDocumentKeyEmpty = errors.New("document key cannot be empty")
	// ErrMimeTypeEmpty indicates an event without a MIME type.
	ErrMimeTypeEmpty = errors.New("mime type cannot be empty")
)

// Settings configures a NatsWorker.
type Settings struct {
	// Subject carries core.DocumentUploadedEvent messages.
	Subject string
	// QueueGroup load-balances jobs across workers when set.
	QueueGroup string
	// ResultSubject receives the outcome of jobs that did not ask for a
	// reply. Empty disables publishing.
	ResultSubject string
	// JobTimeout bounds one conversion.
	JobTimeout time.Duration
}

// NatsWorker listens for uploaded documents on a NATS subject and converts
// them to speech.
type NatsWorker struct {
	natsConnection *nats.Conn
	settings       Settings
	documents      core.ObjectStore
	audioStore     core.ObjectStore
	converter      core.DocumentConverter
	newBackOff     func() backoff.BackOff
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Documents are read
// from documents and finished audio is written to audioStore.
func NewNatsWorker(
	natsConnection *nats.Conn,
	settings Settings,
	documents core.ObjectStore,
	audioStore core.ObjectStore,
	converter core.DocumentConverter,
	log *logger.Logger,
) (*NatsWorker, error) {
	if settings.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if settings.JobTimeout <= 0 {
		settings.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		settings:       settings,
		documents:      documents,
		audioStore:     audioStore,
		converter:      converter,
		newBackOff:     defaultBackOff,
		log:            log,
	}, nil
}

// WithBackOff replaces the retry policy for audio uploads.
func (w *NatsWorker) WithBackOff(factory func() backoff.BackOff) *NatsWorker {
	w.newBackOff = factory

	return w
}

func defaultBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = uploadInitialInterval
	policy.MaxElapsedTime = uploadMaxElapsedTime

	return policy
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.settings.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.settings.Subject, w.settings.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.settings.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.settings.Subject, err)
	}

	w.log.System("Listening for documents on subject: %s", w.settings.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.settings.JobTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.publishResult(msg, &core.SpeechGeneratedEvent{Header: newHeader(events.EventHeader{}), Error: err.Error()})

		return
	}

	result := w.processDocument(ctx, event)

	w.publishResult(msg, result)
}

// processDocument downloads, converts and stores one document. Failures are
// reported in the returned event.
func (w *NatsWorker) processDocument(ctx context.Context, event *core.DocumentUploadedEvent) *core.SpeechGeneratedEvent {
	reply := &core.SpeechGeneratedEvent{
		Header:      newHeader(event.Header),
		DocumentKey: event.DocumentKey,
	}

	fail := func(err error) *core.SpeechGeneratedEvent {
		w.log.Error("Failed to convert document %s for workflow %s: %v",
			event.DocumentKey, event.Header.WorkflowID, err)
		reply.Error = err.Error()

		return reply
	}

	data, err := w.documents.Download(ctx, event.DocumentKey)
	if err != nil {
		return fail(fmt.Errorf("failed to download document '%s': %w", event.DocumentKey, err))
	}

	w.log.Info("Converting document %s (%s, %d bytes)", event.DocumentKey, event.MimeType, len(data))

	result, err := w.converter.ConvertDocument(ctx, data, event.MimeType, func(done, total int) {
		w.log.Info("Document %s: %d/%d chunks processed", event.DocumentKey, done, total)
	})
	if err != nil {
		return fail(err)
	}

	base := uuid.NewString()
	mp3Key := base + audio.FormatMP3.Extension()

	err = w.upload(ctx, mp3Key, result.MP3, audio.FormatMP3)
	if err != nil {
		return fail(err)
	}

	reply.MP3Key = mp3Key
	reply.DurationSeconds = result.DurationSeconds
	reply.SuccessRate = result.SuccessRate

	if result.FLAC != nil {
		flacKey := base + audio.FormatFLAC.Extension()

		err = w.upload(ctx, flacKey, result.FLAC, audio.FormatFLAC)
		if err != nil {
			w.log.Warn("FLAC upload failed for %s, continuing with MP3 only: %v", event.DocumentKey, err)
		} else {
			reply.FLACKey = flacKey
		}
	}

	w.log.Info("Document %s converted: %s (%.1fs, success rate %.2f)",
		event.DocumentKey, mp3Key, result.DurationSeconds, result.SuccessRate)

	return reply
}

func (w *NatsWorker) upload(ctx context.Context, key string, data []byte, format audio.Format) error {
	var lastErr error

	operation := func() error {
		lastErr = w.audioStore.Upload(ctx, key, data, format.ContentType())
		if lastErr != nil {
			w.log.Warn("Upload of %s failed, retrying: %v", key, lastErr)
		}

		return lastErr
	}

	err := backoff.Retry(operation, backoff.WithContext(w.newBackOff(), ctx))
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}

		return fmt.Errorf("failed to upload audio for key '%s': %w", key, lastErr)
	}

	return nil
}

// publishResult answers the request when it carries a reply subject and
// publishes to the result subject otherwise.
func (w *NatsWorker) publishResult(msg *nats.Msg, result *core.SpeechGeneratedEvent) {
	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal result event: %v", err)

		return
	}

	if msg.Reply != "" {
		err = msg.Respond(data)
	} else if w.settings.ResultSubject != "" {
		err = w.natsConnection.Publish(w.settings.ResultSubject, data)
	}

	if err != nil {
		w.log.Error("Failed to publish result event for workflow %s: %v", result.Header.WorkflowID, err)
	}
}

func parseAndValidateEvent(msg *nats.Msg) (*core.DocumentUploadedEvent, error) {
	var event core.DocumentUploadedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.DocumentKey == "" {
		return nil, ErrDocumentKeyEmpty
	}

	if event.MimeType == "" {
		return nil, ErrMimeTypeEmpty
	}

	return &event, nil
}

// newHeader derives the header of a reply from the request header.
func newHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
