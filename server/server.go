package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunevault/cache"
	"tunevault/config"
	"tunevault/core/audio"
	"tunevault/core/auth"
	"tunevault/core/events"
	"tunevault/core/ingest"
	"tunevault/core/playback"
	"tunevault/db"
	"tunevault/logger"
	"tunevault/repository"
	"tunevault/storage"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authRateLimit limits credential endpoints per client IP.
func authRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 10
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)
}

// NewRouter registers every route. CORS wraps the whole router so preflight
// requests are answered before method matching.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()

	limited := authRateLimit(h.cfg.LoginRateLimit)
	router.Handle("/api/auth/register", limited(http.HandlerFunc(h.RegisterHandler))).Methods(http.MethodPost)
	router.Handle("/api/auth/login", limited(http.HandlerFunc(h.LoginHandler))).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/me", h.AuthMiddleware(h.MeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/me", h.AuthMiddleware(h.DeleteMeHandler)).Methods(http.MethodDelete)

	router.HandleFunc("/api/tracks", h.AuthMiddleware(h.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/upload", h.AuthMiddleware(h.UploadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}/content", h.AuthMiddleware(h.TrackContentHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/tracks/{id}", h.AuthMiddleware(h.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}/playback-url", h.PlaybackURLHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/covers/{id}", h.AuthMiddleware(h.CoverHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/ingest/events", h.AuthMiddleware(h.IngestEventsHandler)).Methods(http.MethodGet)

	router.HandleFunc("/internal/playback/verify", h.VerifyPlaybackHandler).Methods(http.MethodGet)
	router.HandleFunc("/stream/{trackId}/{file}", h.StreamFileHandler).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return corsMiddleware(router)
}

// Start wires every dependency from cfg, serves until SIGINT/SIGTERM, then
// shuts down gracefully.
func Start(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := context.Background()

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return err
	}
	defer db.CloseGormDB(gdb)
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	store, err := storage.NewMinioStore(cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	var redisClient *redis.Client
	if client, err := db.ConnectRedis(ctx, cfg); err != nil {
		logger.Warn("Redis unavailable, owner lookups go to the database", logger.ErrorField(err))
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	userRepo := repository.NewUserRepository(gdb)
	trackRepo := repository.NewTrackRepository(gdb)
	coverRepo := repository.NewCoverRepository(gdb)
	hub := events.NewHub(64)

	opts := []ingest.Option{ingest.WithEvents(hub), ingest.WithMaxExtractedSize(cfg.MaxExtractedSize)}
	if cfg.TranscodeEnabled {
		pool := audio.NewPool(cfg.TranscodeWorkers)
		defer pool.Close()
		processor := audio.NewFFmpegProcessor(audio.ExecRunner{WaitDelay: 5 * time.Second}, audio.Options{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			SegmentTime: cfg.HLSSegmentTime,
			Timeout:     cfg.TranscodeTimeout,
			WorkDir:     cfg.TranscodeWorkDir,
		}, pool)
		opts = append(opts, ingest.WithTranscoder(processor, cfg.TranscodeWorkDir))
	}

	handler := NewAPIHandler(Deps{
		Config:   cfg,
		Users:    userRepo,
		Tracks:   trackRepo,
		Covers:   coverRepo,
		Store:    store,
		Ingester: ingest.NewOrchestrator(store, trackRepo, coverRepo, opts...),
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
		Issuer:   playback.NewIssuer(cfg.PlaybackSecret, cfg.PlaybackTokenTTL, cfg.PublicBaseURL),
		Verifier: playback.NewVerifier(cfg.PlaybackSecret),
		Owners:   cache.NewOwnerCache(redisClient, trackRepo, cfg.OwnerCacheTTL),
		Hub:      hub,
	})

	// Uploads and streams can run long, so only header reads are bounded.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			logger.String("addr", cfg.HTTPAddr),
			logger.String("bucket", store.Bucket()),
			logger.Bool("transcode", cfg.TranscodeEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-stop:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
