package tts

import (
	"time"

	"github.com/book-expert/docspeech/internal/tts/audio"
)

// Abort thresholds and pacing.
const (
	maxConsecutiveFailures  = 3
	minTotalFailureLimit    = 5
	totalFailurePercent     = 30
	baseChunkDelay          = 200 * time.Millisecond
	consecutiveFailureDelay = 500 * time.Millisecond
	maxConsecutiveDelay     = 2 * time.Second
	totalFailureDelay       = 100 * time.Millisecond
	maxTotalDelay           = time.Second
)

// ChunkStatus tracks a chunk through the conversion.
type ChunkStatus int

// Chunk states.
const (
	ChunkPending ChunkStatus = iota
	ChunkProcessing
	ChunkCompleted
	ChunkFailed
)

// String returns the state name.
func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "Pending"
	case ChunkProcessing:
		return "Processing"
	case ChunkCompleted:
		return "Completed"
	case ChunkFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TextChunk is one unit of synthesis.
type TextChunk struct {
	Index  int
	Text   string
	Status ChunkStatus
}

// AudioSegment is the local audio produced for one completed chunk.
type AudioSegment struct {
	Order  int
	Path   string
	Format audio.Format
}

// OutcomeKind discriminates ChunkOutcome.
type OutcomeKind int

// Outcome kinds.
const (
	// OutcomeCompleted carries a segment.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSkipped means the chunk failed and the conversion goes on.
	OutcomeSkipped
	// OutcomeFatal means the conversion cannot continue at all.
	OutcomeFatal
)

// ChunkOutcome is the result of processing one chunk.
type ChunkOutcome struct {
	Kind    OutcomeKind
	Segment AudioSegment
	Err     error
}

// Completed builds a successful outcome.
func Completed(segment AudioSegment) ChunkOutcome {
	return ChunkOutcome{Kind: OutcomeCompleted, Segment: segment, Err: nil}
}

// Skipped builds a failed-but-recoverable outcome.
func Skipped(err error) ChunkOutcome {
	return ChunkOutcome{Kind: OutcomeSkipped, Segment: AudioSegment{}, Err: err}
}

// Fatal builds an outcome that stops the conversion.
func Fatal(err error) ChunkOutcome {
	return ChunkOutcome{Kind: OutcomeFatal, Segment: AudioSegment{}, Err: err}
}

// failureCounters summarizes an outcome history.
type failureCounters struct {
	consecutive int
	total       int
}

// tally counts failures: consecutive resets on every success, total never
// does.
func tally(history []ChunkOutcome) failureCounters {
	var counters failureCounters

	for _, outcome := range history {
		if outcome.Kind == OutcomeCompleted {
			counters.consecutive = 0

			continue
		}

		counters.consecutive++
		counters.total++
	}

	return counters
}

// totalFailureLimit is max(5, ceil(30% of totalChunks)).
func totalFailureLimit(totalChunks int) int {
	return max(minTotalFailureLimit, (totalChunks*totalFailurePercent+99)/100)
}

// assess decides from the outcome history alone whether the conversion must
// stop. The consecutive threshold is checked first.
func assess(history []ChunkOutcome, totalChunks int) (AbortReason, bool) {
	counters := tally(history)

	if counters.consecutive >= maxConsecutiveFailures {
		return TooManyConsecutiveFailures, true
	}

	if counters.total >= totalFailureLimit(totalChunks) {
		return TooManyTotalFailures, true
	}

	return "", false
}

// interChunkDelay grows with recent and overall failures.
func interChunkDelay(counters failureCounters) time.Duration {
	consecutive := min(time.Duration(counters.consecutive)*consecutiveFailureDelay, maxConsecutiveDelay)
	total := min(time.Duration(counters.total)*totalFailureDelay, maxTotalDelay)

	return baseChunkDelay + consecutive + total
}
