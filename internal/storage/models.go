package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PerformanceMetric is the latency breakdown of one completed pipeline run.
// Durations are stored exactly as computed; Anomaly marks rows where any
// bucket came out negative.
type PerformanceMetric struct {
	ID                    int64     `json:"id"`
	SenderID              string    `json:"sender_id"`
	ImageID               string    `json:"image_id"`
	DescriptionDurationMs int64     `json:"description_ms"`
	SynthesisDurationMs   int64     `json:"synthesis_ms"`
	DeliveryDurationMs    int64     `json:"delivery_ms"`
	TotalDurationMs       int64     `json:"total_ms"`
	Anomaly               bool      `json:"anomaly"`
	RecordedAt            time.Time `json:"recorded_at"`
}

type SurveyAnswer struct {
	ID             int64     `json:"id"`
	SenderID       string    `json:"sender_id"`
	ImageID        string    `json:"image_id"`
	QuestionNumber int       `json:"question_number"`
	Score          int       `json:"score"`
	AnsweredAt     time.Time `json:"answered_at"`
}
