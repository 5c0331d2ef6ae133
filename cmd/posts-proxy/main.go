package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/internal/api"
	"github.com/Sternrassler/posts-proxy/internal/config"
	"github.com/Sternrassler/posts-proxy/pkg/apierror"
	"github.com/Sternrassler/posts-proxy/pkg/cache"
	"github.com/Sternrassler/posts-proxy/pkg/client"
	"github.com/Sternrassler/posts-proxy/pkg/logging"
	"github.com/Sternrassler/posts-proxy/pkg/metrics"
	"github.com/Sternrassler/posts-proxy/pkg/prefetch"
	"github.com/Sternrassler/posts-proxy/pkg/ratelimit"
	"github.com/Sternrassler/posts-proxy/pkg/resilience"
	"github.com/Sternrassler/posts-proxy/pkg/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $CONFIG_PATH or config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "posts-proxy",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// Optional shared cache tier
	var redisClient *redis.Client
	var cacheOpts []cache.Option
	var rateLimitStore ratelimit.Store
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		cacheOpts = append(cacheOpts, cache.WithRemote(cache.NewRedisStore(redisClient)))
		rateLimitStore = ratelimit.NewRedisStore(redisClient)
	}

	cacheManager := cache.NewManager(cfg.Cache.Config, cacheOpts...)
	if cfg.Cache.ClearSchedule != "" {
		stopClear, err := cacheManager.StartClearSchedule(cfg.Cache.ClearSchedule)
		if err != nil {
			return fmt.Errorf("schedule cache clear: %w", err)
		}
		defer stopClear()
	}

	upstreamClient, err := client.New(client.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		RateLimit: ratelimit.NewTracker(rateLimitStore, cfg.RateLimit, log.Logger),
	})
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}
	policy := resilience.NewPolicy(cfg.Resilience, apierror.IsTransient, log.Logger)
	upstream := client.NewResilient(upstreamClient, policy)

	sink, err := metrics.NewPrometheus(metrics.Registry)
	if err != nil {
		return fmt.Errorf("register service metrics: %w", err)
	}
	postService := service.New(upstream, cacheManager, sink)

	if cfg.Warm.OnStart {
		warmer := prefetch.NewWarmer(postService, cfg.Warm.Config)
		go func() {
			if _, err := warmer.WarmAll(ctx); err != nil {
				log.Warn().Err(err).Msg("Cache warm failed")
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.WithMiddleware(newRouter(api.NewHandler(postService), redisClient)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("user_agent", cfg.Upstream.UserAgent).
			Bool("redis", redisClient != nil).
			Msg("Starting posts proxy server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRouter adds the operational endpoints to the API routes.
func newRouter(h *api.Handler, redisClient *redis.Client) *mux.Router {
	router := api.NewRouter(h)
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyHandler(redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the shared cache tier is unreachable. A nil
// client means the tier is disabled.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
