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

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"freeslots/internal/assistant"
	"freeslots/internal/config"
	"freeslots/internal/ics"
	appLog "freeslots/internal/log"
	"freeslots/internal/metrics"
	"freeslots/internal/slots"
	"freeslots/internal/usagelog"
	"freeslots/internal/web"
)

const (
	version = "0.1.0"

	shutdownTimeout  = 5 * time.Second
	limiterPruneCron = "*/10 * * * *"
	limiterIdle      = 30 * time.Minute
)

type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)

	// CLI flags win over file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.Development = true
	}
	conf.Normalize()

	if err := appLog.Init(appLog.ParseLevel(conf.LogLevel), conf.Development); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	appLog.Info("freeslots starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"horizon_days", conf.HorizonDays,
		"fetch_timeout", conf.Calendar.FetchTimeout.String(),
		"expand_recurrences", conf.Calendar.ExpandRecurrences,
		"cache_backend", conf.Cache.Backend,
		"assistant_provider", conf.Assistant.Provider,
		"assistant_model", conf.Assistant.Model,
		"usage_log_driver", conf.UsageLog.Driver,
		"rate_limit_per_minute", conf.RateLimit.RequestsPerMinute,
		"metrics_enabled", conf.Metrics.Enabled,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		appLog.Error("freeslots exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("freeslots exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	var m *metrics.Metrics
	if conf.Metrics.Enabled {
		m = metrics.New()
	}

	scheduler := cron.New()

	cache, closeCache, err := openCache(ctx, conf, scheduler)
	if err != nil {
		return err
	}
	defer closeCache()
	fetcher := ics.NewFetcher(cache, conf.Calendar.FetchTimeout)

	asst, err := openAssistant(ctx, conf.Assistant)
	if err != nil {
		return err
	}
	defer asst.Close()

	store, err := usagelog.Open(ctx, conf.UsageLog)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	defer store.Close()

	recorder := usagelog.NewRecorder(store, conf.UsageLog.Timeout)
	recorder.OnError = func(error) { m.UsageLogFailed() }

	svc := slots.NewService(fetcher, asst, slots.Options{
		HorizonDays:            conf.HorizonDays,
		ExpandRecurrences:      conf.Calendar.ExpandRecurrences,
		MaxOccurrencesPerEvent: conf.Calendar.MaxOccurrencesPerEvent,
	}, m)

	srv := web.NewServer(conf, svc, recorder, m)

	if _, err := scheduler.AddFunc(limiterPruneCron, func() {
		if n := srv.PruneLimiters(limiterIdle); n > 0 {
			appLog.Debug("rate limiter entries pruned", "removed", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule limiter prune: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server forced to shutdown", err)
	}

	// Let in-flight usage log writes finish before the store closes.
	recorder.Wait()
	return nil
}

// openCache builds the ICS cache selected by cache.backend. The returned
// close function is always non-nil.
func openCache(ctx context.Context, conf *config.Config, scheduler *cron.Cron) (ics.Cache, func(), error) {
	noop := func() {}

	switch conf.Cache.Backend {
	case config.CacheBackendNone:
		appLog.Info("ics cache disabled")
		return nil, noop, nil

	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Cache.RedisAddr,
			Password: conf.Cache.RedisPassword,
			DB:       conf.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect redis %s: %w", conf.Cache.RedisAddr, err)
		}
		appLog.Info("ics cache on redis", "addr", conf.Cache.RedisAddr, "db", conf.Cache.RedisDB, "ttl", conf.Cache.MaxAge.String())
		return ics.NewRedisCache(client, conf.Cache.MaxAge), func() { _ = client.Close() }, nil

	default:
		disk := ics.NewDiskCache(conf.Cache.Dir)
		if _, err := ics.SchedulePrune(scheduler, disk, conf.Cache.PruneCron, conf.Cache.MaxAge); err != nil {
			return nil, noop, err
		}
		appLog.Info("ics cache on disk", "dir", conf.Cache.Dir, "prune_cron", conf.Cache.PruneCron)
		return disk, noop, nil
	}
}

// slotAssistant is an assistant that holds a client connection.
type slotAssistant interface {
	assistant.Assistant
	Close() error
}

func openAssistant(ctx context.Context, cfg config.AssistantConfig) (slotAssistant, error) {
	switch cfg.Provider {
	case "", "gemini":
		g, err := assistant.NewGemini(ctx, assistant.GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init assistant: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./freeslots.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging with the development console encoder")

	flag.Parse()

	return cfg
}
