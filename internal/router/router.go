package router

import (
	"net/http"

	"github.com/senyabanana/tender-negotiation/internal/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InitRoutes собирает маршруты API и /metrics для реестра gatherer.
func InitRoutes(requestHandler *handlers.RequestHandler, offerHandler *handlers.OfferHandler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", handlers.PingHandler)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", requestHandler.CreateRequest)
			r.Get("/{requestId}/offers", requestHandler.GetRequestOffers)
			r.Post("/{requestId}/participants", requestHandler.InviteParticipants)
			r.Post("/{requestId}/invitations/send", requestHandler.SendInvitations)
			r.Post("/{requestId}/reconcile", offerHandler.Reconcile)
			r.Post("/{requestId}/offers/{offerId}/award", offerHandler.Award)
		})

		r.Post("/offers/{offerId}/reject", offerHandler.Reject)
		r.Post("/mailbox/poll", offerHandler.PollMailbox)
	})

	return r
}
