package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker probes one dependency for the readiness endpoint.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

func livenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler probes every registered dependency. Any failure flips the
// endpoint to 503 so the load balancer stops routing here.
func readinessHandler(checkers []HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checkers))
		for _, c := range checkers {
			if err := c.Check(ctx); err != nil {
				logger.Warn("readiness check failed",
					zap.String("dependency", c.Name()),
					zap.Error(err))
				deps[c.Name()] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[c.Name()] = "ok"
		}

		body := map[string]any{"dependencies": deps}
		if status == http.StatusOK {
			body["status"] = "ready"
		} else {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	}
}
