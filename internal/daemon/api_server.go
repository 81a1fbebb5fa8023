package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"parcel/internal/access"
	"parcel/internal/api"
	"parcel/internal/config"
	"parcel/internal/delivery"
	"parcel/internal/logging"
	"parcel/internal/services"
)

const (
	passwordHeader = "X-Bundle-Password"
	sessionHeader  = "X-Bundle-Session"
	sessionCookie  = "parcel_session"

	maxBodyBytes = 1 << 20
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(s.logger))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/bundles", s.handleListBundles)
		r.Post("/bundles", s.handleCreateBundle)
		r.Get("/bundles/{id}", s.handleGetBundle)
		r.Post("/bundles/{id}/revoke", s.handleRevokeBundle)
	})

	r.Route("/d/{id}", func(r chi.Router) {
		r.Get("/", s.handlePoll)
		r.Post("/unlock", s.handleUnlock)
		r.Get("/archive", s.handleArchive)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found", ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", ""))
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled", logging.String(logging.FieldImpact, "bundles can only be managed through the CLI"))
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.daemon.bundles.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatsResponse{Counts: counts})
}

func (s *apiServer) handleListBundles(w http.ResponseWriter, r *http.Request) {
	statuses, err := api.ParseStatuses(r.URL.Query()["status"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	bundles, err := s.daemon.bundles.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BundleListResponse{Bundles: bundles})
}

func (s *apiServer) handleCreateBundle(w http.ResponseWriter, r *http.Request) {
	var body api.CreateBundleRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), "validation"))
		return
	}
	in, err := api.ParseCreateRequest(body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	created, err := s.daemon.bundles.Create(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/bundles/"+created.ID)
	writeJSON(w, http.StatusCreated, api.BundleResponse{Bundle: created})
}

func (s *apiServer) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.daemon.bundles.Describe(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if detail == nil {
		writeJSON(w, http.StatusNotFound, errorBody("bundle not found", "not_found"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleRevokeBundle(w http.ResponseWriter, r *http.Request) {
	var body api.RevokeBundleRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), "validation"))
		return
	}
	resp, err := s.daemon.bundles.Revoke(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	snap, err := s.daemon.bundles.Poll(r.Context(), chi.URLParam(r, "id"), attemptFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body api.UnlockRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), "validation"))
		return
	}
	id := chi.URLParam(r, "id")
	snap, err := s.daemon.bundles.Poll(r.Context(), id, access.Attempt{Password: body.Password})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if snap.SessionToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    snap.SessionToken,
			Path:     "/d/" + id,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	location, snap, err := s.daemon.bundles.ArchiveLocation(r.Context(), id, attemptFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if location == "" {
		writeJSON(w, archiveRefusalStatus(snap.State), snap)
		return
	}

	reader, err := s.daemon.archiver.Open(r.Context(), location)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.FormatInt(reader.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".tar.gz"))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil && r.Context().Err() == nil {
		logger := logging.WithContext(services.WithBundleID(r.Context(), id), s.logger)
		logging.WarnWithContext(logger, "archive stream interrupted", "archive_stream_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the client received a truncated archive"),
		)
	}
}

// archiveRefusalStatus maps a non-Ready delivery state to the status code of a
// refused download.
func archiveRefusalStatus(state delivery.State) int {
	switch state {
	case delivery.StateProcessing:
		return http.StatusConflict
	case delivery.StateAccessDenied:
		return http.StatusForbidden
	case delivery.StateExpired, delivery.StateRevoked, delivery.StateFailed:
		return http.StatusGone
	default:
		return http.StatusNotFound
	}
}

func attemptFrom(r *http.Request) access.Attempt {
	attempt := access.Attempt{
		Password:     r.Header.Get(passwordHeader),
		SessionToken: r.Header.Get(sessionHeader),
	}
	if attempt.SessionToken == "" {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			attempt.SessionToken = cookie.Value
		}
	}
	return attempt
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusForError maps classified service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPlanning):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	details := services.Details(err)
	message := details.Message
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorHint, "check bundle database and storage access"),
		)
		message = "internal error"
		if status == http.StatusServiceUnavailable {
			message = "service temporarily unavailable, retry shortly"
			w.Header().Set("Retry-After", "5")
		}
	}
	writeJSON(w, status, errorBody(message, details.Kind))
}

func errorBody(message, kind string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
