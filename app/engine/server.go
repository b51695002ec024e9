package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/utils"
)

// SetupServer mounts the operational endpoints. This is not a product API;
// it only exposes liveness, readiness and queue visibility for operators.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> for all interfaces
	addr := utils.Env("ADDR", ":3003")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")

	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := a.RedisClient.Health(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")

	r.Handle("/queuez", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.Scheduler.QueueStats()); err != nil {
			a.Logger.Warn("encoding queue stats", zap.Error(err))
		}
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

func (a *App) serve(_ context.Context) {
	a.Logger.Info("Health server listening", zap.String("addr", a.Server.Addr))
	if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("health server failed", zap.Error(err))
	}
}

func (a *App) stopServer() {
	if a.Server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("health server shutdown", zap.Error(err))
	}
}
