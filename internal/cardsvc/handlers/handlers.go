package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/avvvet/wishcard-services/internal/cardsvc/service"
	"github.com/avvvet/wishcard-services/internal/cardsvc/store"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

const (
	CodeOK            = 0
	CodeInvalid       = 1
	CodeNotFound      = 404
	CodeInternalError = 500
	CodeSensitiveWord = 40001
)

const sensitiveWordNotice = "包含敏感词（%s），阳光向上正能量喔🤞"

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	cards     *service.CardService
	matches   *service.MatchService
	port      string
}

func NewHandler(cards *service.CardService, matches *service.MatchService, port string) *Handler {
	return &Handler{
		cards:   cards,
		matches: matches,
		port:    port,
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, status int, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) ok(w http.ResponseWriter, data interface{}) {
	h.CreateResponse(w, http.StatusOK, Response{Message: "ok", Code: CodeOK, Data: data})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.CreateResponse(w, http.StatusBadRequest, Response{Message: msg, Code: CodeInvalid, Error: msg})
}

// writeError maps service and store errors to responses and logs the rest.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	var rej *service.ContentRejectedError

	switch {
	case errors.As(err, &verr):
		h.badRequest(w, verr.Error())
	case errors.As(err, &rej):
		msg := fmt.Sprintf(sensitiveWordNotice, rej.Word)
		h.CreateResponse(w, http.StatusBadRequest, Response{Message: msg, Code: CodeSensitiveWord, Error: rej.Error()})
	case errors.Is(err, store.ErrNotFound):
		h.CreateResponse(w, http.StatusNotFound, Response{Message: "card not found", Code: CodeNotFound, Error: err.Error()})
	case errors.Is(err, store.ErrSystemCard):
		h.badRequest(w, err.Error())
	default:
		log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		h.CreateResponse(w, http.StatusInternalServerError, Response{Message: "internal error", Code: CodeInternalError, Error: "internal error"})
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.ok(w, map[string]string{"status": "card service is running at port " + h.port})
}

func (h *Handler) DictHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	h.ok(w, h.cards.WordList())
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.cards.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, st)
}

func (h *Handler) WallHandler(w http.ResponseWriter, r *http.Request) {
	// unparsable limits fall back to the default
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.cards.Wall(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.ok(w, rows)
}

func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	card, err := h.cards.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, card.View())
}

func (h *Handler) MyCardHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("uuid")
	if token == "" {
		h.badRequest(w, "uuid is required")
		return
	}
	opts := service.QueryOptions{ForceFallback: r.URL.Query().Get("force_fallback") == "1"}

	res, err := h.matches.Query(r.Context(), token, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.ok(w, res)
}
