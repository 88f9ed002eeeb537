// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter serves the adapter's status, brain and metrics over HTTP.
func (a *Adapter) AdminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.adminHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", a.adminStatus).Methods(http.MethodGet)
	api.HandleFunc("/users", a.adminListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", a.adminGetUser).Methods(http.MethodGet)
	api.HandleFunc("/sync-users", a.adminSyncUsers).Methods(http.MethodPost)
	return r
}

// StartAdminAPI listens on addr until ctx is done. It returns once the
// listener is closed.
func (a *Adapter) StartAdminAPI(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", addr).Msg("Starting admin API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Adapter) adminHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := a.conn.State()
	if state != StateOpen {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"state": state.String()})
}

func (a *Adapter) adminStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *Adapter) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.brain.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *Adapter) adminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.brain.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *Adapter) adminSyncUsers(w http.ResponseWriter, r *http.Request) {
	count, err := a.SyncUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
