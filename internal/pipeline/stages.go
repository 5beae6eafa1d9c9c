package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/falaimagem/internal/storage"
)

// ConfirmationMessage acknowledges receipt of an image.
const ConfirmationMessage = "Imagem recebida com sucesso! Estamos processando sua solicitação."

// MaxSynthesisText is the longest description sent to speech synthesis.
const MaxSynthesisText = 4096

const (
	stageDescription = "description"
	stageSynthesis   = "synthesis"
	stageMetrics     = "metrics"
)

// Describer produces a text description of a base64-encoded image.
type Describer interface {
	Describe(ctx context.Context, imageBase64 string) (string, error)
}

// Synthesizer produces encoded audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TextSender delivers a text message through the chat bridge.
type TextSender interface {
	SendText(ctx context.Context, to, message string) error
}

// VoiceSender delivers a voice note through the chat bridge.
type VoiceSender interface {
	SendVoice(ctx context.Context, to, audioBase64 string) error
}

// MetricsStore persists one performance row per run.
type MetricsStore interface {
	InsertMetric(ctx context.Context, m storage.PerformanceMetric) (int64, error)
}

// ConfirmationNotifier sends the "image received" acknowledgment.
type ConfirmationNotifier struct {
	sender TextSender
}

func NewConfirmationNotifier(sender TextSender) *ConfirmationNotifier {
	return &ConfirmationNotifier{sender: sender}
}

func (n *ConfirmationNotifier) Notify(ctx context.Context, senderID string) error {
	if strings.TrimSpace(senderID) == "" {
		return Delivery(errors.New("confirmation requires a recipient"))
	}
	if err := n.sender.SendText(ctx, senderID, ConfirmationMessage); err != nil {
		return Delivery(fmt.Errorf("sending confirmation: %w", err))
	}
	return nil
}

// DescriptionSynthesisStage describes the image, then synthesizes the
// description to audio, recording both completion times on the context.
type DescriptionSynthesisStage struct {
	describer   Describer
	synthesizer Synthesizer
	now         func() time.Time
	logger      *slog.Logger
}

func NewDescriptionSynthesisStage(d Describer, s Synthesizer) *DescriptionSynthesisStage {
	return &DescriptionSynthesisStage{
		describer:   d,
		synthesizer: s,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

func (st *DescriptionSynthesisStage) Run(ctx context.Context, pc *ProcessingContext) error {
	// 1. Describe.
	if strings.TrimSpace(pc.ImageData) == "" {
		return newError(KindDescription, stageDescription, errors.New("image data is empty"))
	}
	text, err := st.describer.Describe(ctx, pc.ImageData)
	if err != nil {
		return newError(KindDescription, stageDescription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(KindDescription, stageDescription, errors.New("description is empty"))
	}
	if err := pc.SetDescription(text, st.now()); err != nil {
		return err
	}
	st.logger.Info("description generated", "request_id", pc.RequestID, "image_id", pc.ImageID, "chars", utf8.RuneCountInString(text))

	// 2. Synthesize.
	text = pc.Description()
	if text == "" {
		return newError(KindTts, stageSynthesis, errors.New("no description to synthesize"))
	}
	if n := utf8.RuneCountInString(text); n > MaxSynthesisText {
		return newError(KindTts, stageSynthesis, fmt.Errorf("description too long for synthesis: %d characters (max %d)", n, MaxSynthesisText))
	}
	audio, err := st.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return newError(KindTts, stageSynthesis, err)
	}
	if len(audio) == 0 {
		return newError(KindTts, stageSynthesis, errors.New("synthesized audio is empty"))
	}
	if err := pc.SetAudio(base64.StdEncoding.EncodeToString(audio), st.now()); err != nil {
		return err
	}
	st.logger.Info("audio synthesized", "request_id", pc.RequestID, "image_id", pc.ImageID, "bytes", len(audio))
	return nil
}

// VoiceDispatcher sends the synthesized audio back to the sender.
type VoiceDispatcher struct {
	sender VoiceSender
}

func NewVoiceDispatcher(sender VoiceSender) *VoiceDispatcher {
	return &VoiceDispatcher{sender: sender}
}

func (d *VoiceDispatcher) Dispatch(ctx context.Context, pc *ProcessingContext) error {
	if strings.TrimSpace(pc.SenderID) == "" || pc.AudioBase64() == "" {
		return Delivery(errors.New("voice dispatch requires recipient and audio"))
	}
	if err := d.sender.SendVoice(ctx, pc.SenderID, pc.AudioBase64()); err != nil {
		return Delivery(fmt.Errorf("sending voice: %w", err))
	}
	return nil
}

// MetricsRecorder stores the latency breakdown of a completed run.
type MetricsRecorder struct {
	store  MetricsStore
	now    func() time.Time
	logger *slog.Logger
}

func NewMetricsRecorder(store MetricsStore) *MetricsRecorder {
	return &MetricsRecorder{store: store, now: time.Now, logger: slog.Default()}
}

// Record computes the four duration buckets relative to now and persists
// them. A negative bucket is stored unchanged and flagged as an anomaly.
// Both stage timestamps must already be set on pc.
func (r *MetricsRecorder) Record(ctx context.Context, pc *ProcessingContext) (storage.PerformanceMetric, error) {
	switch {
	case pc.Start.IsZero():
		return storage.PerformanceMetric{}, newError(KindMetrics, stageMetrics, errors.New("run start time is not set"))
	case pc.DescriptionCompletedAt().IsZero():
		return storage.PerformanceMetric{}, newError(KindMetrics, stageMetrics, errors.New("description completion time is not set"))
	case pc.SynthesisCompletedAt().IsZero():
		return storage.PerformanceMetric{}, newError(KindMetrics, stageMetrics, errors.New("synthesis completion time is not set"))
	}

	delivered := r.now()
	m := storage.PerformanceMetric{
		SenderID:              pc.SenderID,
		ImageID:               pc.ImageID,
		DescriptionDurationMs: pc.DescriptionCompletedAt().Sub(pc.Start).Milliseconds(),
		SynthesisDurationMs:   pc.SynthesisCompletedAt().Sub(pc.DescriptionCompletedAt()).Milliseconds(),
		DeliveryDurationMs:    delivered.Sub(pc.SynthesisCompletedAt()).Milliseconds(),
		TotalDurationMs:       delivered.Sub(pc.Start).Milliseconds(),
		RecordedAt:            delivered,
	}
	if m.DescriptionDurationMs < 0 || m.SynthesisDurationMs < 0 || m.DeliveryDurationMs < 0 || m.TotalDurationMs < 0 {
		m.Anomaly = true
		r.logger.Warn("negative duration in performance metric",
			"request_id", pc.RequestID,
			"image_id", pc.ImageID,
			"description_ms", m.DescriptionDurationMs,
			"synthesis_ms", m.SynthesisDurationMs,
			"delivery_ms", m.DeliveryDurationMs,
			"total_ms", m.TotalDurationMs,
		)
	}

	id, err := r.store.InsertMetric(ctx, m)
	if err != nil {
		return storage.PerformanceMetric{}, newError(KindMetrics, stageMetrics, err)
	}
	m.ID = id
	return m, nil
}
