// Package pipeline turns an inbound chat image into a spoken description:
// confirmation, description, synthesis, voice delivery, latency metrics and
// survey start, in that order.
package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// SurveyStarter begins the satisfaction survey for a processed image.
type SurveyStarter interface {
	Start(ctx context.Context, senderID, imageID string) error
}

// Options tunes the confirmation branch.
type Options struct {
	// MaxConcurrentConfirmations bounds in-flight confirmation sends across
	// requests (default 16).
	MaxConcurrentConfirmations int64
	// ConfirmationTimeout bounds a single confirmation send (default 10s).
	ConfirmationTimeout time.Duration
}

// Ingestor runs the full pipeline for one webhook event.
type Ingestor struct {
	confirm    *ConfirmationNotifier
	stage      *DescriptionSynthesisStage
	voice      *VoiceDispatcher
	metrics    *MetricsRecorder
	survey     SurveyStarter
	confirmSem *semaphore.Weighted
	confirmTTL time.Duration
	wg         sync.WaitGroup
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestor(
	confirm *ConfirmationNotifier,
	stage *DescriptionSynthesisStage,
	voice *VoiceDispatcher,
	metrics *MetricsRecorder,
	survey SurveyStarter,
	opts Options,
) *Ingestor {
	if opts.MaxConcurrentConfirmations <= 0 {
		opts.MaxConcurrentConfirmations = 16
	}
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 10 * time.Second
	}
	return &Ingestor{
		confirm:    confirm,
		stage:      stage,
		voice:      voice,
		metrics:    metrics,
		survey:     survey,
		confirmSem: semaphore.NewWeighted(opts.MaxConcurrentConfirmations),
		confirmTTL: opts.ConfirmationTimeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Handle validates ev and runs every stage in order. The confirmation is sent
// in the background and its outcome never affects the returned error.
func (in *Ingestor) Handle(ctx context.Context, ev InboundImageEvent) (*ProcessingContext, error) {
	sender := strings.TrimSpace(ev.SenderID)
	if sender == "" {
		return nil, Validationf("missing required field: from")
	}
	data := stripSpace(ev.ImageData)
	if data == "" {
		return nil, Validationf("missing required field: media.data")
	}
	if !base64Pattern.MatchString(data) {
		return nil, Validationf("media.data is not valid base64")
	}

	pc := &ProcessingContext{
		RequestID: uuid.NewString(),
		ImageID:   uuid.NewString(),
		SenderID:  sender,
		ImageData: data,
		Start:     in.now(),
	}
	log := in.logger.With("request_id", pc.RequestID, "image_id", pc.ImageID)
	log.Info("image webhook received", "sender", sender)

	in.sendConfirmation(ctx, pc, log)

	if err := in.stage.Run(ctx, pc); err != nil {
		log.Error("description/synthesis failed", "error", err)
		return pc, err
	}
	if err := in.voice.Dispatch(ctx, pc); err != nil {
		log.Error("voice dispatch failed", "error", err)
		return pc, err
	}
	m, err := in.metrics.Record(ctx, pc)
	if err != nil {
		log.Error("recording metrics failed", "error", err)
		return pc, err
	}
	log.Info("metrics saved", "metric_id", m.ID, "total_ms", m.TotalDurationMs)

	if err := in.survey.Start(ctx, pc.SenderID, pc.ImageID); err != nil {
		log.Error("starting survey failed", "error", err)
		return pc, err
	}
	return pc, nil
}

// Wait blocks until all in-flight confirmation sends have finished.
func (in *Ingestor) Wait() {
	in.wg.Wait()
}

func (in *Ingestor) sendConfirmation(ctx context.Context, pc *ProcessingContext, log *slog.Logger) {
	if !in.confirmSem.TryAcquire(1) {
		log.Warn("confirmation skipped: too many in flight")
		return
	}
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer in.confirmSem.Release(1)

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.confirmTTL)
		defer cancel()
		if err := in.confirm.Notify(cctx, pc.SenderID); err != nil {
			log.Warn("confirmation failed", "error", err)
			return
		}
		log.Debug("confirmation sent")
	}()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
