package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dashyn/assetgen/pkg/auth"
	"github.com/dashyn/assetgen/pkg/comfy"
	"github.com/dashyn/assetgen/pkg/config"
	"github.com/dashyn/assetgen/pkg/models"
	"github.com/dashyn/assetgen/pkg/pipeline"
	"github.com/dashyn/assetgen/pkg/prompts"
	"github.com/dashyn/assetgen/pkg/queue"
	"github.com/dashyn/assetgen/pkg/startup"
	"github.com/dashyn/assetgen/pkg/telemetry"
)

type server struct {
	queue  *queue.Queue
	logger zerolog.Logger
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "assetgen-worker")
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer q.Close()

	kv := kvLogger{log: logger}
	comfyClient := comfy.NewClient(comfy.Options{BaseURL: cfg.ComfyURL, Logger: kv})

	var generator *prompts.Generator
	if cfg.AnthropicAPIKey != "" {
		generator, err = prompts.NewGenerator(prompts.Options{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
			Logger: kv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build prompt generator")
		}
	} else {
		logger.Warn().Msg("anthropic api key not set; jobs will fail until configured")
	}

	srv := &server{queue: q, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthzHandler)
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.APIKey))
		r.Post("/jobs", srv.handleSubmitJob)
		r.Get("/jobs/{jobID}", srv.handleGetJob)
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("worker listen failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("worker shutdown error")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("worker listening")

	// Cold start: provision models, then wait for the generation server.
	// A degraded worker keeps serving and fails jobs with the reason.
	gate := startup.NewGate(startup.Options{
		Models: models.NewProvisioner(models.Options{
			VolumeDir: cfg.ModelDir,
			Token:     cfg.HFToken,
			Logger:    kv,
		}),
		Server: comfyClient,
		Logger: kv,
	})
	state := gate.Run(ctx, cfg.StartupTimeout)
	if !state.Ready {
		logger.Error().Str("reason", state.Reason).Msg("worker degraded")
	}

	var pipe *pipeline.Pipeline
	if generator != nil {
		pipe = pipeline.New(pipeline.Options{
			Prompts:      generator,
			Renderer:     comfyClient,
			ImageTimeout: cfg.ImageTimeout,
			Logger:       kv,
		})
	}

	runJobs(ctx, q, pipe, state, logger)

	logger.Info().Msg("worker stopped")
}

func runJobs(ctx context.Context, q *queue.Queue, pipe *pipeline.Pipeline, state startup.State, logger zerolog.Logger) {
	workerID := uuid.NewString()

	for {
		job, err := q.Dequeue(ctx, workerID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		logger.Info().Str("job_id", job.ID).Str("vibe", job.VibeName).Int("num_assets", job.NumAssets).Msg("job dequeued")

		if !state.Ready {
			finishJob(q, logger, job.ID, nil, nil, errors.New(state.Reason))
			continue
		}
		if pipe == nil {
			finishJob(q, logger, job.ID, nil, nil, errors.New("anthropic api key not configured"))
			continue
		}

		out, warnings, err := pipe.Run(ctx, job.VibeName, job.VibeDescription, job.NumAssets)
		if err != nil {
			finishJob(q, logger, job.ID, nil, warnings, err)
			continue
		}

		finishJob(q, logger, job.ID, &queue.Result{
			ZipBase64:   out.ZipBase64,
			VibeName:    out.VibeName,
			TotalImages: out.TotalImages,
		}, warnings, nil)
	}
}

// finishJob records the terminal status under its own context so results
// survive a shutdown that interrupts the run.
func finishJob(q *queue.Queue, logger zerolog.Logger, jobID string, result *queue.Result, warnings []string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr != nil {
		if err := q.Fail(ctx, jobID, runErr.Error(), warnings); err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
		}
		logger.Error().Err(runErr).Str("job_id", jobID).Msg("job failed")
		return
	}

	if err := q.Complete(ctx, jobID, result, warnings); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job completion")
		return
	}
	logger.Info().Str("job_id", jobID).Int("total_images", result.TotalImages).Msg("job completed")
}

type submitJobRequest struct {
	VibeName        string `json:"vibe_name"`
	VibeDescription string `json:"vibe_description"`
	NumAssets       int    `json:"num_assets"`
}

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VibeName == "" {
		writeError(w, http.StatusBadRequest, "vibe_name is required")
		return
	}
	if req.VibeDescription == "" {
		writeError(w, http.StatusBadRequest, "vibe_description is required")
		return
	}
	if req.NumAssets == 0 {
		req.NumAssets = 2
	}
	if req.NumAssets < 1 {
		writeError(w, http.StatusBadRequest, "num_assets must be a positive integer")
		return
	}

	job := &queue.Job{
		ID:              uuid.NewString(),
		VibeName:        req.VibeName,
		VibeDescription: req.VibeDescription,
		NumAssets:       req.NumAssets,
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": job.ID, "status": string(job.Status)})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.queue.Get(r.Context(), jobID)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("get job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// kvLogger bridges the key/value Logger interfaces the packages expose
// onto zerolog.
type kvLogger struct {
	log zerolog.Logger
}

func (l kvLogger) Info(msg string, args ...any)  { withFields(l.log.Info(), args).Msg(msg) }
func (l kvLogger) Warn(msg string, args ...any)  { withFields(l.log.Warn(), args).Msg(msg) }
func (l kvLogger) Error(msg string, args ...any) { withFields(l.log.Error(), args).Msg(msg) }

func withFields(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	return ev
}
