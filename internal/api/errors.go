package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/falaimagem/internal/pipeline"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeError(w, code, map[string]any{
		"message": fmt.Sprintf(format, args...),
		"type":    errType,
	})
}

func writeError(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writePipelineError translates a pipeline failure into an HTTP response.
// Description and synthesis failures carry the failing stage.
func writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		slog.Error("unexpected pipeline error", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "Erro inesperado: %v", err)
		return
	}

	switch pe.Kind {
	case pipeline.KindValidation:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", pe.Err)
	case pipeline.KindDescription:
		writeError(w, http.StatusBadGateway, map[string]any{
			"message": "Erro ao descrever imagem: " + pe.Err.Error(),
			"type":    "description_error",
			"stage":   "description",
		})
	case pipeline.KindTts:
		writeError(w, http.StatusBadGateway, map[string]any{
			"message": "Erro interno ao gerar áudio: " + pe.Err.Error(),
			"type":    "tts_error",
			"stage":   "synthesis",
		})
	case pipeline.KindDelivery, pipeline.KindMetrics:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", pe.Err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "Erro inesperado: %v", pe.Err)
	}
}
