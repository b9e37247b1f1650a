package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	characteranalysis "storyme-server/modules/character-analysis"
	characterpreview "storyme-server/modules/character-preview"
	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/config"
	"storyme-server/modules/common/database"
	"storyme-server/modules/common/logger"
	"storyme-server/modules/common/metrics"
	"storyme-server/modules/common/redis"
	"storyme-server/modules/common/storage"
	generateimages "storyme-server/modules/generate-images"
	"storyme-server/modules/progress"
	"storyme-server/modules/provider"
	"storyme-server/modules/ratelimit"
	"storyme-server/modules/submodule/flux"
	"storyme-server/modules/submodule/gemini"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(logSettings(cfg, cmd.Flags().Changed("log-level"), cmd.Flags().Changed("log-format")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := database.NewClient(cfg)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(cfg.SupabaseJWTSecret)
	if err != nil {
		return err
	}

	registry, geminiService := buildRegistry(cfg)
	hub := progress.NewHub(verifier)
	hub.StartCleanupRoutine(ctx, time.Minute)

	uploader := storage.NewClient(cfg)
	limiter := ratelimit.NewLimiter(rdb, db, cfg)
	usage := ratelimit.NewUsageLogger(db)

	generateHandler := generateimages.NewHandler(
		generateimages.NewOrchestrator(registry, uploader, hub),
		registry, limiter, usage,
		generateimages.Options{
			DefaultProvider: provider.Provider(cfg.DefaultImageProvider),
			GeminiAvailable: cfg.GeminiAvailable(),
			PublicBaseURL:   cfg.PublicBaseURL,
		},
	)

	// typed nils must not leak into the handler interfaces
	var previewer characterpreview.Previewer
	if geminiService != nil {
		previewer = geminiService
	}
	previewHandler := characterpreview.NewHandler(previewer, uploader, limiter, usage, cfg.PublicBaseURL)

	var analyzer characteranalysis.Analyzer
	if svc := characteranalysis.NewService(cfg); svc != nil {
		analyzer = svc
	}
	analysisHandler := characteranalysis.NewHandler(analyzer, usage)

	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/progress/stats", hub.HandleStats).Methods("GET")
	r.HandleFunc("/ws/generation", hub.HandleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(verifier.Middleware)
	api.HandleFunc("/generate-images", generateHandler.HandleGenerate).Methods("POST", "OPTIONS")
	api.HandleFunc("/generate-character-preview", previewHandler.HandlePreview).Methods("POST", "OPTIONS")
	api.HandleFunc("/analyze-character-image", analysisHandler.HandleAnalyze).Methods("POST", "OPTIONS")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 StoryMe server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 Progress WebSocket: ws://localhost:%s/ws/generation", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("🛑 Shutting down server")
	// in-flight batches are bounded by their own ceiling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute+10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logSettings - explicit flags win over LOG_LEVEL / LOG_FORMAT from the environment or .env
func logSettings(cfg *config.Config, levelFlagSet, formatFlagSet bool) (level, format string) {
	level, format = cfg.LogLevel, cfg.LogFormat
	if levelFlagSet {
		level = logLevel
	}
	if formatFlagSet {
		format = logFormat
	}
	return level, format
}

// buildRegistry - flux is always registered, gemini only with credentials
func buildRegistry(cfg *config.Config) (*provider.Registry, *gemini.Service) {
	registry := provider.NewRegistry()
	if fluxService := flux.NewService(cfg); fluxService != nil {
		registry.Register(provider.Flux, fluxService, provider.Policy{UsesSeed: true})
	}
	geminiService := gemini.NewService(cfg)
	if geminiService != nil {
		registry.Register(provider.Gemini, geminiService, provider.Policy{StaggerDelay: cfg.GeminiStaggerDelay()})
	}
	return registry, geminiService
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "storyme-server",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
