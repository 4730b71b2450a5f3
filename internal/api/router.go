package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type RouterOptions struct {
	// IngressRPS bounds total request rate before any handler runs. Zero
	// disables the bound.
	IngressRPS   float64
	IngressBurst int
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	if opts.IngressRPS > 0 {
		burst := opts.IngressBurst
		if burst <= 0 {
			burst = int(opts.IngressRPS) + 1
		}
		r.Use(shedLoad(rate.NewLimiter(rate.Limit(opts.IngressRPS), burst)))
	}

	r.Get("/healthz", h.Healthz)
	r.Route("/v1", func(api chi.Router) {
		api.Post("/evaluate", h.Evaluate)
		api.Post("/execute", h.Execute)

		api.Post("/overrides", h.GrantOverride)
		api.Get("/overrides/review", h.OverrideReview)

		api.Post("/feedback", h.SubmitFeedback)
		api.Post("/feedback/{flag_id}/resolve", h.ResolveFlag)

		api.Post("/votes", h.CastVote)
		api.Get("/votes/{version}", h.SummarizeVotes)

		api.Get("/audit", h.ListAudit)
		api.Get("/audit/verify", h.VerifyAudit)
		api.Get("/audit/stream", h.StreamAudit)

		api.Put("/signals/{target_id}", h.PutSignals)
		api.Delete("/signals/{target_id}", h.DeleteSignals)

		api.Post("/policy/reload", h.ReloadPolicy)
	})
	return otelhttp.NewHandler(r, "steward")
}

// shedLoad rejects requests beyond the process-wide ingress budget. It
// protects the process; per-agent budgets are enforced by the gateway.
func shedLoad(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "server busy")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
