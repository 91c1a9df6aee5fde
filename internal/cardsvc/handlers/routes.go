package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)
		r.Get("/common/dict", h.DictHandler)
		r.Get("/stats", h.StatsHandler)
		r.Get("/card/wall", h.WallHandler)
		r.Post("/card", h.SubmitHandler)
		r.Get("/card/my", h.MyCardHandler)

		// Secure routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/cards", h.AdminCardsHandler)
			r.Get("/stats", h.AdminStatsHandler)
			r.Delete("/card/{id}", h.RemoveCardHandler)
			r.Put("/card/{id}", h.UpdateCardHandler)
			r.Post("/cards/delete", h.BatchRemoveHandler)
			r.Get("/config", h.GetConfigHandler)
			r.Post("/config", h.SetConfigHandler)
			r.Post("/dict/reload", h.ReloadDictHandler)
		})
	})
}

func (h *Handler) InitAuth(jwtKey string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	tokenString, _ := h.IssueToken("operator", 7*24*time.Hour)

	// For debugging only
	log.Debugf("DEBUG: admin JWT for testing : %s", tokenString)
}

// IssueToken signs an admin token for subject valid for ttl.
func (h *Handler) IssueToken(subject string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{"sub": subject}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)

	_, tokenString, err := h.tokenAuth.Encode(claims)
	return tokenString, err
}
