package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/falaimagem/internal/pipeline"
	"github.com/kalambet/falaimagem/internal/storage"
	"github.com/kalambet/falaimagem/internal/survey"
)

// maxWebhookBodySize bounds an inbound webhook, which carries a base64 image.
const maxWebhookBodySize = 20 << 20 // 20MB
const maxSurveyBodySize = 64 << 10  // 64KB

// ImageHandler runs the image pipeline for one webhook event.
type ImageHandler interface {
	Handle(ctx context.Context, ev pipeline.InboundImageEvent) (*pipeline.ProcessingContext, error)
}

// SurveyService records survey answers and reports progress.
type SurveyService interface {
	Respond(ctx context.Context, senderID, imageID string, questionNumber, score int) (survey.Reply, error)
	Progress(ctx context.Context, senderID, imageID string) (survey.Progress, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Pipeline ImageHandler
	Survey   SurveyService
	Store    *storage.Store
	Bridge   Pinger // optional; reported by /health when set
	Token    string
}

// NewHandler returns the service router. The chat webhooks are open; the
// read-only management routes require the bearer token and are not mounted
// when no token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/whatsapp-webhook", handleWebhook(deps))
	r.Post("/api/whatsapp-survey", handleSurveyAnswer(deps))

	if deps.Token == "" {
		slog.Warn("api token not configured; management routes disabled")
		return r
	}
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/health", handleHealth(deps))
		r.Get("/metrics", handleListMetrics(deps))
		r.Get("/metrics/summary", handleMetricsSummary(deps))
		r.Get("/metrics/{id}", handleGetMetric(deps))
		r.Get("/surveys/{imageId}", handleSurveyProgress(deps))
	})
	return r
}

// BearerAuth rejects requests whose Authorization header does not carry token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="falaimagem"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
