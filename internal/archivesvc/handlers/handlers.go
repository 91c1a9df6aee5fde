package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/avvvet/wishcard-services/internal/archivesvc/models"
	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"
)

type Trender interface {
	Trend(ctx context.Context, days int) ([]models.DailyCount, error)
}

type Handler struct {
	archive Trender
	port    string
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func NewHandler(archive Trender, port string) *Handler {
	return &Handler{archive: archive, port: port}
}

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)
		r.Get("/trend", h.TrendHandler)
	})
}

func CreateResponse(w http.ResponseWriter, status int, rsp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	CreateResponse(w, http.StatusOK, &Response{
		Message: "archive service is running at port " + h.port,
	})
}

// TrendHandler serves daily match counts, ?days=N (default 7, max 90).
func (h *Handler) TrendHandler(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			CreateResponse(w, http.StatusBadRequest, &Response{Code: 1, Error: "days must be a number"})
			return
		}
		days = n
	}

	rows, err := h.archive.Trend(r.Context(), days)
	if err != nil {
		log.Errorf("Error [ArchiveService.Trend] %s", err)
		CreateResponse(w, http.StatusInternalServerError, &Response{Code: 500, Error: "trend unavailable"})
		return
	}

	CreateResponse(w, http.StatusOK, &Response{Message: "ok", Data: rows})
}
