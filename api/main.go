package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"career-docgen/pkg/config"
	"career-docgen/pkg/database"
	"career-docgen/pkg/job"
	"career-docgen/pkg/mq"
	"career-docgen/pkg/observability"
	"career-docgen/pkg/result"
	"career-docgen/pkg/service"
)

type server struct {
	submission *service.Submission
	status     *service.Status
	results    *result.Store
	signer     *result.Signer
	log        *slog.Logger
}

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if err := dbClient.InitSchema(ctx); err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	mqClient, err := mq.New(cfg.RabbitURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer mqClient.Close()

	if err := mqClient.SetupTopology(); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		os.Exit(1)
	}

	observability.StartMetricsServer(cfg.MetricsAddr)

	resultStore := result.NewStore(dbClient.Pool(), cfg.ResultRetention)
	signer := result.NewSigner(cfg.ResultSigningSecret, cfg.ResultHandleTTL)

	s := &server{
		submission: service.NewSubmission(dbClient, mqClient, cfg.JobTTL, logger),
		status:     service.NewStatus(dbClient, resultStore, signer),
		results:    resultStore,
		signer:     signer,
		log:        logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/results/{id}", s.handleResult).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("API server starting", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("api server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("api server stopped")
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req job.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, accepted, err := s.submission.Submit(r.Context(), &req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error("submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	// 202 for freshly accepted work, 200 for an idempotent replay.
	code := http.StatusOK
	if accepted {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	view, err := s.status.Get(r.Context(), jobID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, service.ErrResultExpired):
		writeError(w, http.StatusGone, "result expired")
		return
	case err != nil:
		s.log.Error("status lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleResult serves a stored document to the bearer of a valid handle.
func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	q := r.URL.Query()

	if err := s.signer.Verify(ref, q.Get("exp"), q.Get("sig")); err != nil {
		writeError(w, http.StatusForbidden, "invalid or expired result handle")
		return
	}

	content, err := s.results.Get(r.Context(), ref)
	if err != nil {
		s.log.Error("result fetch failed", "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if content == nil {
		writeError(w, http.StatusGone, "result expired")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
