package survey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/falaimagem/internal/pipeline"
	"github.com/kalambet/falaimagem/internal/storage"
)

// AnswerStore persists and lists survey answers.
type AnswerStore interface {
	InsertSurveyAnswer(ctx context.Context, a storage.SurveyAnswer) (int64, error)
	ListSurveyAnswers(ctx context.Context, senderID, imageID string) ([]storage.SurveyAnswer, error)
	CountAnsweredQuestions(ctx context.Context, senderID, imageID string) (int, error)
}

// TextSender delivers a text message to a chat user.
type TextSender interface {
	SendText(ctx context.Context, to, message string) error
}

// Reply is the outcome of a survey answer.
type Reply struct {
	Message      string `json:"message"`
	Finished     bool   `json:"finished"`
	NextQuestion int    `json:"nextQuestion,omitempty"`
	Error        bool   `json:"error,omitempty"`
}

// Progress is a read-only view of one (sender, image) survey.
type Progress struct {
	SenderID        string                 `json:"sender_id"`
	ImageID         string                 `json:"image_id"`
	CurrentQuestion int                    `json:"current_question"`
	Completed       bool                   `json:"completed"`
	Answers         []storage.SurveyAnswer `json:"answers"`
}

// Coordinator starts surveys and records answers. It keeps no in-memory
// state: progress is always derived from stored answers.
type Coordinator struct {
	store  AnswerStore
	sender TextSender
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(store AnswerStore, sender TextSender) *Coordinator {
	return &Coordinator{
		store:  store,
		sender: sender,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Start sends question 1 to the sender.
func (c *Coordinator) Start(ctx context.Context, senderID, imageID string) error {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(imageID) == "" {
		return pipeline.Validationf("survey start requires sender and image id")
	}
	if err := c.sender.SendText(ctx, senderID, Question(1)); err != nil {
		return pipeline.Delivery(fmt.Errorf("sending first survey question: %w", err))
	}
	c.logger.Info("survey started", "sender", senderID, "image_id", imageID)
	return nil
}

// Respond records an answer and returns the next prompt. An out-of-range
// score is answered inline and nothing is stored. The caller's questionNumber
// is trusted for sequencing.
func (c *Coordinator) Respond(ctx context.Context, senderID, imageID string, questionNumber, score int) (Reply, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(imageID) == "" {
		return Reply{}, pipeline.Validationf("survey answer requires from and imageId")
	}
	if questionNumber < 1 || questionNumber > TotalQuestions {
		return Reply{}, pipeline.Validationf("questionNumber must be between 1 and %d, got %d", TotalQuestions, questionNumber)
	}
	if !validScore(score) {
		c.logger.Info("invalid survey score", "sender", senderID, "question", questionNumber, "score", score)
		return Reply{Message: InvalidScoreMessage, Error: true}, nil
	}

	_, err := c.store.InsertSurveyAnswer(ctx, storage.SurveyAnswer{
		SenderID:       senderID,
		ImageID:        imageID,
		QuestionNumber: questionNumber,
		Score:          score,
		AnsweredAt:     c.now().UTC(),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("saving survey answer: %w", err)
	}

	if questionNumber < TotalQuestions {
		next := questionNumber + 1
		c.logger.Debug("survey answer recorded", "sender", senderID, "question", questionNumber, "next", next)
		return Reply{Message: Question(next), NextQuestion: next}, nil
	}
	c.logger.Info("survey completed", "sender", senderID, "image_id", imageID)
	return Reply{Message: CompletionMessage, Finished: true}, nil
}

// Progress derives the survey state for (senderID, imageID) from stored
// answers. Repeated answers to the same question count once.
func (c *Coordinator) Progress(ctx context.Context, senderID, imageID string) (Progress, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(imageID) == "" {
		return Progress{}, pipeline.Validationf("survey progress requires sender and image id")
	}
	answers, err := c.store.ListSurveyAnswers(ctx, senderID, imageID)
	if err != nil {
		return Progress{}, fmt.Errorf("listing survey answers: %w", err)
	}

	answered, err := c.store.CountAnsweredQuestions(ctx, senderID, imageID)
	if err != nil {
		return Progress{}, err
	}
	if answers == nil {
		answers = []storage.SurveyAnswer{}
	}
	return Progress{
		SenderID:        senderID,
		ImageID:         imageID,
		CurrentQuestion: min(answered+1, TotalQuestions),
		Completed:       answered >= TotalQuestions,
		Answers:         answers,
	}, nil
}
