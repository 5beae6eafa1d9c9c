package pipeline

import (
	"errors"
	"time"
)

// InboundImageEvent is the part of a chat webhook the pipeline consumes.
type InboundImageEvent struct {
	SenderID  string
	ImageData string
}

// ProcessingContext carries one webhook run through the stages. Stage outputs
// are written once; a second write is a programming error and is rejected.
type ProcessingContext struct {
	RequestID string
	ImageID   string
	SenderID  string
	ImageData string
	Start     time.Time

	description            string
	audioBase64            string
	descriptionCompletedAt time.Time
	synthesisCompletedAt   time.Time
}

var errAlreadySet = errors.New("processing context field already set")

func (pc *ProcessingContext) SetDescription(text string, at time.Time) error {
	if !pc.descriptionCompletedAt.IsZero() {
		return errAlreadySet
	}
	pc.description = text
	pc.descriptionCompletedAt = at
	return nil
}

func (pc *ProcessingContext) SetAudio(audioBase64 string, at time.Time) error {
	if !pc.synthesisCompletedAt.IsZero() {
		return errAlreadySet
	}
	pc.audioBase64 = audioBase64
	pc.synthesisCompletedAt = at
	return nil
}

func (pc *ProcessingContext) Description() string               { return pc.description }
func (pc *ProcessingContext) AudioBase64() string               { return pc.audioBase64 }
func (pc *ProcessingContext) DescriptionCompletedAt() time.Time { return pc.descriptionCompletedAt }
func (pc *ProcessingContext) SynthesisCompletedAt() time.Time   { return pc.synthesisCompletedAt }
