package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/engine"
	"github.com/authz-engine/go-core/internal/policy"
	"github.com/authz-engine/go-core/pkg/types"
)

// registerMetricsHandler folds the decision engine's and the policy
// catalog's independent Prometheus registries into a single /metrics
// endpoint, alongside the default process/Go runtime collectors.
func registerMetricsHandler(mux *http.ServeMux, eng *engine.Engine) {
	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		engine.NewMetrics().Registry(),
		policy.NewMetrics().Registry(),
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
}

// registerCheckHandler exposes the decision engine over a minimal JSON/HTTP
// transport. Wire protocol choice is left to whatever wraps the core; this
// is one concrete binding, not the only one a caller may use.
func registerCheckHandler(mux *http.ServeMux, eng *engine.Engine, logger *zap.Logger) {
	mux.HandleFunc("/v1/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req types.CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		resp, err := eng.Check(r.Context(), &req)
		if err != nil {
			logger.Error("check failed", zap.Error(err))
			http.Error(w, "check failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode check response", zap.Error(err))
		}
	})
}

// registerHealthHandlers wires liveness and readiness endpoints. Readiness
// flips false during graceful shutdown so a load balancer stops routing new
// requests while in-flight ones drain.
func registerHealthHandlers(mux *http.ServeMux, ready *atomic.Bool) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})
}
