// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package webhook is the HTTP surface of the ingestion service. The edge
// MTA posts each inbound message as a JSON envelope; the handler runs it
// through the pipeline, synchronously or via the job queue, and answers
// with the outcome. It also serves filter management, suppression lookups,
// health and metrics.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/pipeline"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

const (
	maxEnvelopeBytes = 50 << 20
	maxFilterBytes   = 1 << 20
	healthTimeout    = 2 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Ingestor runs envelopes through the pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, env *models.InboundEnvelope) pipeline.Outcome
	Enqueue(ctx context.Context, env *models.InboundEnvelope) pipeline.Outcome
}

// FilterService manages user filters. Implemented by filters.Service.
type FilterService interface {
	List(ctx context.Context, userID int64) ([]*filters.Filter, error)
	Create(ctx context.Context, userID int64, f *filters.Filter) (*filters.Filter, error)
	Update(ctx context.Context, userID, id int64, f *filters.Filter) (*filters.Filter, error)
	Delete(ctx context.Context, userID, id int64) error
}

// SuppressionChecker answers suppression lookups.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, userID int64, email string) (bool, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Config wires a Handler. Filters, Suppressions and Checks are optional.
type Config struct {
	Ingestor     Ingestor
	Filters      FilterService
	Suppressions SuppressionChecker
	Secret       string
	Checks       map[string]HealthCheck
}

// Handler serves the HTTP API.
type Handler struct {
	ingest       Ingestor
	filters      FilterService
	suppressions SuppressionChecker
	secret       []byte
	checks       map[string]HealthCheck
}

// NewHandler creates a Handler. An empty secret disables authentication.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		ingest:       cfg.Ingestor,
		filters:      cfg.Filters,
		suppressions: cfg.Suppressions,
		secret:       []byte(cfg.Secret),
		checks:       cfg.Checks,
	}
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.ServeHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/inbound", h.authenticate(http.HandlerFunc(h.ServeInbound))).Methods(http.MethodPost)
	r.Handle("/inbound/async", h.authenticate(http.HandlerFunc(h.ServeInboundAsync))).Methods(http.MethodPost)

	api := r.PathPrefix("/api/users/{user_id:[0-9]+}").Subrouter()
	api.Use(h.authenticate)
	if h.filters != nil {
		api.HandleFunc("/filters", h.listFilters).Methods(http.MethodGet)
		api.HandleFunc("/filters", h.createFilter).Methods(http.MethodPost)
		api.HandleFunc("/filters/{id:[0-9]+}", h.updateFilter).Methods(http.MethodPut)
		api.HandleFunc("/filters/{id:[0-9]+}", h.deleteFilter).Methods(http.MethodDelete)
	}
	if h.suppressions != nil {
		api.HandleFunc("/suppressions/{email}", h.checkSuppression).Methods(http.MethodGet)
	}
	return r
}

// authenticate checks the shared secret in constant time.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.secret) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), h.secret) != 1 {
			slog.Warn("webhook request with bad secret", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeInbound ingests one envelope synchronously.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope(w, r)
	if !ok {
		return
	}
	out := h.ingest.Ingest(r.Context(), env)
	writeJSON(w, out.HTTPStatus(), out)
}

// ServeInboundAsync screens an envelope and queues it.
func (h *Handler) ServeInboundAsync(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeEnvelope(w, r)
	if !ok {
		return
	}
	out := h.ingest.Enqueue(r.Context(), env)
	writeJSON(w, out.HTTPStatus(), out)
}

func decodeEnvelope(w http.ResponseWriter, r *http.Request) (*models.InboundEnvelope, bool) {
	env, err := models.DecodeEnvelope(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		slog.Info("malformed envelope", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return env, true
}

// ServeHealth pings every dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) listFilters(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "user_id")
	if !ok {
		return
	}
	list, err := h.filters.List(r.Context(), userID)
	if err != nil {
		writeFilterError(w, err)
		return
	}
	if list == nil {
		list = []*filters.Filter{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createFilter(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "user_id")
	if !ok {
		return
	}
	f, ok := decodeFilter(w, r)
	if !ok {
		return
	}
	created, err := h.filters.Create(r.Context(), userID, f)
	if err != nil {
		writeFilterError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateFilter(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "user_id")
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	f, ok := decodeFilter(w, r)
	if !ok {
		return
	}
	updated, err := h.filters.Update(r.Context(), userID, id, f)
	if err != nil {
		writeFilterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteFilter(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "user_id")
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.filters.Delete(r.Context(), userID, id); err != nil {
		writeFilterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeFilter(w http.ResponseWriter, r *http.Request) (*filters.Filter, bool) {
	var f filters.Filter
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFilterBytes)).Decode(&f); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("decode filter: %v", err))
		return nil, false
	}
	return &f, true
}

func writeFilterError(w http.ResponseWriter, err error) {
	switch pe := pipeline.Classify(err); {
	case errors.Is(err, filters.ErrNotFound):
		writeError(w, http.StatusNotFound, "filter not found")
	case pe.Kind == pipeline.KindValidationFailure:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("filter request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "filter store unavailable")
	}
}

func (h *Handler) checkSuppression(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "user_id")
	if !ok {
		return
	}
	email := address.Normalize(mux.Vars(r)["email"])
	if !address.Valid(email) {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	suppressed, err := h.suppressions.IsSuppressed(r.Context(), userID, email)
	if err != nil {
		slog.Error("suppression lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "suppression store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": email, "suppressed": suppressed})
}

// pathInt reads a numeric route variable, answering 400 when it does not
// fit an int64.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections. The server drains in-flight requests when ctx is
// cancelled.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown incomplete", "error", err)
		}
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
