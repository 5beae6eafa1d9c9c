// Package speech converts description text into spoken audio.
package speech

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultModel = "tts-1"
	DefaultVoice = "alloy"

	// MaxTextLength is the longest input the OpenAI speech endpoint accepts.
	MaxTextLength = 4096
)

// Voices lists the OpenAI voices accepted by the speech endpoint.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

var (
	ErrEmptyText  = errors.New("text to synthesize is empty")
	ErrEmptyAudio = errors.New("synthesis returned no audio")
)

// ValidateVoice reports an error if voice is not one of Voices.
func ValidateVoice(voice string) error {
	if !slices.Contains(Voices, voice) {
		return fmt.Errorf("unsupported voice %q (want one of %s)", voice, strings.Join(Voices, ", "))
	}
	return nil
}

// LooksLikeMP3 checks for an ID3 tag or an MPEG audio frame sync at the start of b.
func LooksLikeMP3(b []byte) bool {
	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}
