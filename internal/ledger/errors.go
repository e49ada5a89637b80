package ledger

import (
	"fmt"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// DuplicateSampleError reports a clip digest that is already recorded for
// the speaker under a different segment.
type DuplicateSampleError struct {
	SpeakerID string
	Digest    string
	Existing  speaker.Segment
	Requested speaker.Segment
}

func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("sample %s already recorded for %s at %s (requested %s)",
		e.Digest, e.SpeakerID, e.Existing, e.Requested)
}

func (e *DuplicateSampleError) Unwrap() error {
	return services.ErrValidation
}

// SampleNotFoundError reports an unknown digest for a speaker.
type SampleNotFoundError struct {
	SpeakerID string
	Digest    string
}

func (e *SampleNotFoundError) Error() string {
	return fmt.Sprintf("sample %s not found for speaker %s", e.Digest, e.SpeakerID)
}

func (e *SampleNotFoundError) Unwrap() error {
	return services.ErrNotFound
}
