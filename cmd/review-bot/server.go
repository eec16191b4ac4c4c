package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/election"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

const (
	staleAfter      = 3 // loop delays without a sweep before /health reports stale
	maxQueueLength  = 50
	defaultQueueLen = 5
)

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// queueResponse is the body of GET /v1/repos/{owner}/{repo}/queue.
type queueResponse struct {
	RequestID string              `json:"request_id"`
	Owner     string              `json:"owner"`
	Repo      string              `json:"repo"`
	Author    string              `json:"author,omitempty"`
	Reviewers []types.ScoreResult `json:"reviewers"`
	Closed    int                 `json:"closed_prs"`
	Open      int                 `json:"open_prs"`
}

// server exposes the bot over HTTP.
type server struct {
	bot       *Bot
	ctx       context.Context //nolint:containedctx // sweeps triggered over HTTP outlive the request
	loopDelay time.Duration
}

func (s *server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.bot.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/repos/{owner}/{repo}/queue", s.handleQueue).Methods(http.MethodGet)
	v1.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	return r
}

func (*server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("Fair Reviewer Bot\n" +
		"GET  /health                          health status\n" +
		"GET  /metrics                         Prometheus metrics\n" +
		"GET  /v1/repos/{owner}/{repo}/queue   ranked reviewers (?author=login&n=5)\n" +
		"POST /v1/sweep                        trigger a sweep\n")); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.bot.stats.report()
	report.Monitors = s.bot.monitorHealth()

	status := http.StatusOK
	if report.Runs > 0 && s.bot.now().Sub(report.LastRun) > staleAfter*s.loopDelay {
		report.Status = "stale"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	vars := mux.Vars(r)
	owner, repo := vars["owner"], vars["repo"]
	author := r.URL.Query().Get("author")

	n := defaultQueueLen
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxQueueLength {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "n must be between 1 and "+strconv.Itoa(maxQueueLength), requestID)
			return
		}
		n = v
	}

	log := slog.With("request_id", requestID, "owner", owner, "repo", repo)
	s.bot.metrics.Event("api")
	gh := s.bot.clientFor(owner)
	cfg, err := election.RepoConfig(r.Context(), gh, owner, repo)
	if err != nil {
		log.Warn("Failed to load repository config", "error", err)
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, config.ErrLoadConfig) {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_CONFIG", err.Error(), requestID)
			return
		}
		writeError(w, http.StatusBadGateway, "GITHUB_ERROR", "could not read repository configuration", requestID)
		return
	}
	snap, err := election.Prepare(r.Context(), gh, owner, repo, cfg, election.Options{Now: s.bot.now})
	if err != nil {
		log.Warn("Failed to prepare election", "error", err)
		if errors.Is(err, github.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "repository not found", requestID)
			return
		}
		s.bot.metrics.APIError("history")
		writeError(w, http.StatusBadGateway, "GITHUB_ERROR", "could not fetch review history", requestID)
		return
	}

	queue, _ := snap.Selector.Queue(author, n, snap.Table)
	if queue == nil {
		queue = []types.ScoreResult{}
	}
	writeJSON(w, http.StatusOK, queueResponse{
		RequestID: requestID,
		Owner:     owner,
		Repo:      repo,
		Author:    author,
		Reviewers: queue,
		Closed:    snap.Closed,
		Open:      snap.Open,
	})
}

func (s *server) handleSweep(w http.ResponseWriter, _ *http.Request) {
	if !s.bot.sweepMu.TryLock() {
		writeError(w, http.StatusConflict, "SWEEP_RUNNING", "a sweep is already in progress", "")
		return
	}
	go func() {
		defer s.bot.sweepMu.Unlock()
		slog.Info("Manual sweep triggered")
		if err := s.bot.sweep(context.WithoutCancel(s.ctx)); err != nil {
			slog.Error("Manual sweep failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg, requestID string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = msg
	resp.RequestID = requestID
	writeJSON(w, status, resp)
}

// serve runs the HTTP server until ctx is done.
func (s *server) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
