package httpapi

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/slok/runbox/internal/metrics"
)

// admission rejects requests above the global rate or the maximum in flight executions.
type admission struct {
	limiter  *rate.Limiter
	inflight chan struct{}
	metrics  metrics.Recorder
}

// newAdmission returns the admission control, rps <= 0 disables the rate limit and
// maxInflight <= 0 disables the in flight limit.
func newAdmission(rps float64, burst, maxInflight int, rec metrics.Recorder) *admission {
	a := &admission{
		limiter: rate.NewLimiter(rate.Inf, 0),
		metrics: rec,
	}
	if rps > 0 {
		if burst <= 0 {
			burst = max(1, int(rps))
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if maxInflight > 0 {
		a.inflight = make(chan struct{}, maxInflight)
	}
	return a
}

func (a *admission) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			a.reject(w, r, "rate_limit", "too many requests")
			return
		}

		if a.inflight != nil {
			select {
			case a.inflight <- struct{}{}:
				defer func() { <-a.inflight }()
			default:
				a.reject(w, r, "max_inflight", "too many executions in progress")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (a *admission) reject(w http.ResponseWriter, r *http.Request, reason, msg string) {
	a.metrics.IncAdmissionRejections(r.Context(), reason)
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: msg})
}
