package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/falaimagem/internal/pipeline"
)

// WebhookRequest is the chat bridge's inbound message payload. Only From and
// Media.Data are used.
type WebhookRequest struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Body      string          `json:"body"`
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	HasMedia  bool            `json:"hasMedia"`
	Media     struct {
		MimeType string `json:"mimetype"`
		Data     string `json:"data"`
	} `json:"media"`
}

// SurveyAnswerRequest is one answer posted by the chat bridge. Score is any
// JSON number; fractions are truncated before range checking.
type SurveyAnswerRequest struct {
	From           string  `json:"from"`
	ImageID        string  `json:"imageId"`
	QuestionNumber int     `json:"questionNumber"`
	Score          float64 `json:"score"`
}

// truncScore drops the fraction of a score. Values far outside int range
// collapse to 0 so they still fail the 1..5 check.
func truncScore(v float64) int {
	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0
	}
	return int(math.Trunc(v))
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return nil, false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
		return nil, false
	}
	return raw, true
}

func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r, maxWebhookBodySize)
		if !ok {
			return
		}
		if err := validatePayload(webhookSchema, raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid webhook payload: %v", err)
			return
		}

		var req WebhookRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		pc, err := deps.Pipeline.Handle(r.Context(), pipeline.InboundImageEvent{
			SenderID:  req.From,
			ImageData: req.Media.Data,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		if pc != nil {
			w.Header().Set("X-Image-Id", pc.ImageID)
		}
		w.Header().Set("X-Request-Id", middleware.GetReqID(r.Context()))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	}
}

func handleSurveyAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r, maxSurveyBodySize)
		if !ok {
			return
		}
		if err := validatePayload(surveySchema, raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid survey payload: %v", err)
			return
		}

		var req SurveyAnswerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Survey.Respond(r.Context(), req.From, req.ImageID, req.QuestionNumber, truncScore(req.Score))
		if err != nil {
			writePipelineError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}
