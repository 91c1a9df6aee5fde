package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func adminName(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "unknown"
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	return "unknown"
}

func (h *Handler) AdminCardsHandler(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := h.cards.ListCards(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) AdminStatsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.cards.AdminStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) RemoveCardHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, "invalid id")
		return
	}

	// ?purge=1 deletes the row instead of tombstoning it
	if r.URL.Query().Get("purge") == "1" {
		if err := h.cards.PurgeCard(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		log.Infof("[admin] %s purged card %d", adminName(r), id)
		h.ok(w, map[string]int{"purged": 1})
		return
	}

	n, err := h.cards.RemoveCards(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	log.Infof("[admin] %s removed card %d", adminName(r), id)
	h.ok(w, map[string]int{"removed": n})
}

func (h *Handler) BatchRemoveHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs *[]int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDs == nil {
		h.badRequest(w, "ids must be array")
		return
	}

	n, err := h.cards.RemoveCards(r.Context(), *req.IDs...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	log.Infof("[admin] %s removed %d cards", adminName(r), n)
	h.ok(w, map[string]int{"removed": n})
}

func (h *Handler) UpdateCardHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, "invalid id")
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	if err := h.cards.UpdateContent(r.Context(), id, req.Content); err != nil {
		h.writeError(w, r, err)
		return
	}
	log.Infof("[admin] %s edited card %d", adminName(r), id)
	h.ok(w, nil)
}

func (h *Handler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.cards.MatchingEnabled(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, map[string]bool{"matching_enabled": enabled})
}

func (h *Handler) SetConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchingEnabled *bool `json:"matching_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchingEnabled == nil {
		h.badRequest(w, "matching_enabled must be a boolean")
		return
	}

	if err := h.cards.SetMatchingEnabled(r.Context(), *req.MatchingEnabled); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, map[string]bool{"matching_enabled": *req.MatchingEnabled})
}

func (h *Handler) ReloadDictHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.cards.ReloadDictionary()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	log.Infof("[admin] %s reloaded dictionary, %d words", adminName(r), n)
	h.ok(w, map[string]int{"words": n})
}
