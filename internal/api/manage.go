package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/falaimagem/internal/storage"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Bridge   string `json:"bridge,omitempty"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok"}
		code := http.StatusOK
		if err := deps.Store.Ping(ctx); err != nil {
			resp.Status, resp.Database = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if deps.Bridge != nil {
			resp.Bridge = "ok"
			if err := deps.Bridge.Ping(ctx); err != nil {
				resp.Status, resp.Bridge = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}

func handleListMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		metrics, err := deps.Store.ListMetrics(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list metrics: %v", err)
			return
		}
		if metrics == nil {
			metrics = []storage.PerformanceMetric{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metrics)
	}
}

func handleGetMetric(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "metric id must be a positive integer")
			return
		}

		m, err := deps.Store.GetMetric(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "metric %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get metric: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m)
	}
}

func handleMetricsSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Store.SummarizeMetrics(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to summarize metrics: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sum)
	}
}

func handleSurveyProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID := chi.URLParam(r, "imageId")
		from := r.URL.Query().Get("from")
		if from == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from is required")
			return
		}

		p, err := deps.Survey.Progress(r.Context(), from, imageID)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}
