/**
 * @description
 * HTTP router for the checkout service. Health and metrics are public; the
 * checkout routes require an authenticated user.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: router and standard middleware.
 * - github.com/go-chi/cors: CORS for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CheckoutRoutes creates the router. metrics may be nil.
func CheckoutRoutes(h *CheckoutHandlers, auth func(http.Handler) http.Handler, allowedOrigins []string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/checkout", func(r chi.Router) {
		r.Use(auth)

		r.Post("/transactions", h.StartTransactionHandler)
		r.Post("/keypad", h.KeypadHandler)
		r.Post("/alert/ack", h.AckAlertHandler)
		r.Get("/state", h.StateHandler)
		r.Delete("/toasts/{id}", h.DismissToastHandler)
		r.Post("/pin", h.PINSetupHandler)
	})

	return r
}
