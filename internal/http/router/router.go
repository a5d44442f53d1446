package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/straye-as/salesflow-api/internal/auth"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/straye-as/salesflow-api/internal/http/handler"
	"github.com/straye-as/salesflow-api/internal/http/middleware"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Health      *handler.HealthHandler
	Lead        *handler.LeadHandler
	Opportunity *handler.OpportunityHandler
	Quote       *handler.QuoteHandler
	Account     *handler.AccountHandler
}

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	authMiddleware *auth.Middleware
	rateLimiter    *middleware.RateLimiter
	handlers       Handlers
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	handlers Handlers,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		handlers:       handlers,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	r.Get("/health", rt.handlers.Health.Live)
	r.Get("/health/ready", rt.handlers.Health.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.Server.RequestTimeout > 0 {
			r.Use(chimw.Timeout(time.Duration(rt.cfg.Server.RequestTimeout) * time.Second))
		}
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.Limit)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", rt.handlers.Lead.List)
			r.Post("/", rt.handlers.Lead.Create)
			r.Post("/intake", rt.handlers.Lead.Intake)
			r.Get("/{id}", rt.handlers.Lead.GetByID)
			r.Put("/{id}", rt.handlers.Lead.Update)
			r.Delete("/{id}", rt.handlers.Lead.Delete)
			r.Put("/{id}/stage", rt.handlers.Lead.ChangeStage)
			r.Post("/{id}/convert", rt.handlers.Lead.Convert)
		})

		r.Route("/opportunities", func(r chi.Router) {
			r.Get("/", rt.handlers.Opportunity.List)
			r.Post("/", rt.handlers.Opportunity.Create)
			r.Get("/{id}", rt.handlers.Opportunity.GetByID)
			r.Get("/{id}/next-stages", rt.handlers.Opportunity.SuggestedNextStages)
			r.Post("/{id}/transition", rt.handlers.Opportunity.Transition)
			r.Post("/{id}/approve", rt.handlers.Opportunity.Approve)
			r.Get("/{id}/history", rt.handlers.Opportunity.History)
			r.Get("/{id}/activities", rt.handlers.Opportunity.Activities)
			r.Get("/{id}/quotes", rt.handlers.Opportunity.Quotes)
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Get("/{id}", rt.handlers.Quote.GetByID)
			r.Put("/{id}/status", rt.handlers.Quote.UpdateStatus)
			r.Get("/{id}/stepper", rt.handlers.Quote.Stepper)
			r.Post("/{id}/client-approval", rt.handlers.Quote.ClientApproval)
			r.Post("/{id}/payment", rt.handlers.Quote.ConfirmPayment)
			r.Post("/{id}/invoice-request", rt.handlers.Quote.RequestInvoice)
			r.Post("/{id}/invoice-issued", rt.handlers.Quote.ConfirmInvoiceIssued)
			r.Post("/{id}/invoice-send", rt.handlers.Quote.SendInvoice)
		})

		r.Get("/accounts/{id}", rt.handlers.Account.GetByID)
	})

	return r
}
