package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/extract"
	"github.com/medmatch-ai/medmatch/internal/pipeline"
	"github.com/medmatch-ai/medmatch/internal/store"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trial-matching HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/analyze-medical-text", func(w http.ResponseWriter, req *http.Request) {
			text, ok := decodeTextBody(w, req)
			if !ok {
				return
			}

			profile, err := env.Pipeline.Analyze(req.Context(), text)
			if err != nil {
				writeStageError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, profile)
		})

		r.Post("/api/match-trials", func(w http.ResponseWriter, req *http.Request) {
			text, ok := decodeTextBody(w, req)
			if !ok {
				return
			}

			trials, err := env.Store.ListTrials(req.Context())
			if err != nil {
				zap.L().Error("list trials failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load trial catalog"})
				return
			}

			result, err := env.Pipeline.AnalyzeAndMatch(req.Context(), text, trials)
			if err != nil {
				// A profile extracted before a downstream failure is still
				// part of the response body; partial results are not
				// silently discarded.
				writeStageErrorWithResult(w, err, result)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/api/trials", func(w http.ResponseWriter, req *http.Request) {
			trials, err := env.Store.ListTrials(req.Context())
			if err != nil {
				zap.L().Error("list trials failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load trial catalog"})
				return
			}
			writeJSON(w, http.StatusOK, trials)
		})

		r.Get("/api/trials/{id}", func(w http.ResponseWriter, req *http.Request) {
			trial, err := env.Store.GetTrial(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if store.IsNotFound(err) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "trial not found"})
					return
				}
				zap.L().Error("get trial failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load trial"})
				return
			}
			writeJSON(w, http.StatusOK, trial)
		})

		r.Get("/api/patients/{id}", func(w http.ResponseWriter, req *http.Request) {
			patient, err := env.Store.GetPatient(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if store.IsNotFound(err) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "patient not found"})
					return
				}
				zap.L().Error("get patient failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load patient"})
				return
			}
			writeJSON(w, http.StatusOK, patient)
		})

		r.Get("/api/patients/{id}/matches", func(w http.ResponseWriter, req *http.Request) {
			matches, err := env.Store.ListMatches(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				zap.L().Error("list matches failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load matches"})
				return
			}
			writeJSON(w, http.StatusOK, matches)
		})

		if cfg.Server.StaticDir != "" {
			fileServer := http.FileServer(http.Dir(cfg.Server.StaticDir))
			r.Handle("/*", fileServer)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// decodeTextBody parses the {"text": "..."} request body shared by both
// analysis endpoints, writing a 400 response on defect.
func decodeTextBody(w http.ResponseWriter, req *http.Request) (string, bool) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", false
	}
	if body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return "", false
	}
	return body.Text, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps the failure taxonomy to HTTP statuses: input defects
// are 400s, capability-unavailable is 503, upstream and schema failures are
// 502s the caller may retry at its discretion.
func statusForError(err error) int {
	switch {
	case errors.Is(err, extract.ErrEmptyInput), errors.Is(err, llm.ErrEmptyProfile):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, llm.ErrMalformedOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeStageError(w http.ResponseWriter, err error) {
	stage := pipeline.Stage(err)
	zap.L().Error("request failed",
		zap.String("stage", stage),
		zap.Error(err),
	)
	writeJSON(w, statusForError(err), map[string]string{
		"error": err.Error(),
		"stage": stage,
	})
}

func writeStageErrorWithResult(w http.ResponseWriter, err error, result *pipeline.Result) {
	stage := pipeline.Stage(err)
	zap.L().Error("request failed",
		zap.String("stage", stage),
		zap.Error(err),
	)
	payload := map[string]any{
		"error": err.Error(),
		"stage": stage,
	}
	if result != nil && result.Profile != nil {
		payload["extractedInfo"] = result.Profile
	}
	writeJSON(w, statusForError(err), payload)
}
