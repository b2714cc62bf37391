package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrJamesThe3rd/reloop/internal/auth"
	"github.com/MrJamesThe3rd/reloop/internal/http/application"
	"github.com/MrJamesThe3rd/reloop/internal/http/notification"
	"github.com/MrJamesThe3rd/reloop/internal/http/payment"
	"github.com/MrJamesThe3rd/reloop/internal/http/posting"
)

type Handlers struct {
	Postings      *posting.Handler
	Applications  *application.Handler
	Payments      *payment.Handler
	Notifications *notification.Handler
}

func New(authn *auth.Authenticator, h Handlers, corsOrigins []string) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments/notifications", h.Payments.WebhookRoutes)

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Route("/postings", func(r chi.Router) {
				h.Postings.Routes(r)
				r.Route("/{id}/applications", h.Applications.PostingRoutes)
			})

			r.Route("/applications", h.Applications.Routes)
			r.Route("/payments", h.Payments.Routes)
			r.Route("/notifications", h.Notifications.Routes)
		})
	})

	return router
}
