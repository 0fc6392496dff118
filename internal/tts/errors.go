package tts

import (
	"errors"
	"fmt"
)

// Chunk-level failure kinds carried by SynthesisError.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrServerError      = errors.New("server error")
	ErrBadRequest       = errors.New("bad request")
	ErrTimeout          = errors.New("timeout or connection failure")
	ErrEmptyResponse    = errors.New("response contains no audio")
	ErrDecodeFailure    = errors.New("audio payload could not be decoded")
	ErrTranscodeFailure = errors.New("audio payload could not be transcoded")
	ErrRequestFailed    = errors.New("request failed")
)

// ErrPipelineAborted is the kind of every AbortError.
var ErrPipelineAborted = errors.New("conversion aborted")

// SynthesisError reports why a chunk produced no audio. Kind is one of the
// sentinel errors above.
type SynthesisError struct {
	Kind       error
	ChunkIndex int
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	message := fmt.Sprintf("chunk %d: %v after %d attempt(s)", e.ChunkIndex+1, e.Kind, e.Attempts)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

// Unwrap exposes the kind and the last observed error.
func (e *SynthesisError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// AbortReason names why a conversion stopped without producing audio.
type AbortReason string

// Abort reasons.
const (
	TooManyConsecutiveFailures AbortReason = "TooManyConsecutiveFailures"
	TooManyTotalFailures       AbortReason = "TooManyTotalFailures"
	AllChunksFailed            AbortReason = "AllChunksFailed"
	EmptyInput                 AbortReason = "EmptyInput"
)

// AbortError is returned by Convert when the conversion is abandoned.
type AbortError struct {
	Reason          AbortReason
	CompletedChunks int
	FailedChunks    int
	TotalChunks     int
	Err             error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	message := fmt.Sprintf("conversion aborted (%s): %d of %d chunks completed, %d failed",
		e.Reason, e.CompletedChunks, e.TotalChunks, e.FailedChunks)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

// Unwrap exposes ErrPipelineAborted and the last chunk failure.
func (e *AbortError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPipelineAborted}
	}

	return []error{ErrPipelineAborted, e.Err}
}
