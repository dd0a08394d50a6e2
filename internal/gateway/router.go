package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/yourorg/finance/internal/auth"
)

func NewRouter(h *Handlers, jwtSvc *auth.JWTService, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/auth/register", h.Register)
	r.Post("/api/auth/login", h.Login)
	r.Post("/api/auth/logout", h.Logout)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSvc))
		r.Get("/quote", h.GetQuote)
		r.Post("/buy", h.Buy)
		r.Post("/sell", h.Sell)
		r.Get("/portfolio", h.GetPortfolio)
		r.Get("/history", h.GetHistory)
		r.Get("/holdings", h.GetHoldings)
	})

	return r
}
