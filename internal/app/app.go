// Package app assembles the compliance engine from configuration. Both the
// API server and the scheduled monitor build the same graph so that a check
// behaves identically regardless of how it was triggered.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"braveforms/internal/cache"
	"braveforms/internal/compliance"
	"braveforms/internal/config"
	"braveforms/internal/core"
	"braveforms/internal/db"
	"braveforms/internal/external"
	"braveforms/internal/metrics"
	"braveforms/internal/notifications"
	"braveforms/internal/realtime"
	"braveforms/internal/scheduler"
)

// MetricsBackend is implemented by every metrics backend.
type MetricsBackend interface {
	compliance.Metrics
	scheduler.Metrics
	core.MetricsCollector
}

// App holds the wired components. Close releases every connection it owns.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clockwork.Clock

	Pool     *pgxpool.Pool
	Projects *db.ProjectRepository
	Events   *db.WeatherEventRepository
	Service  *compliance.Service
	Broker   *realtime.Broker
	Alerts   *notifications.FanOut
	Metrics  MetricsBackend

	// MetricsHandler is non-nil when the Prometheus backend is selected.
	MetricsHandler http.Handler
	HealthProbes   []core.HealthProbe

	closers []func()
}

// New connects to the configured backends and builds the compliance graph.
// On error every connection opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Clock: clockwork.NewRealClock()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	a.Metrics, a.MetricsHandler, err = newMetricsBackend(cfg.Metrics, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}

	readingCache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := a.openRealtime()
	if err != nil {
		return nil, err
	}

	a.Alerts = notifications.NewFanOut(newNotifier(cfg.AWS, awsCfg, logger), publisher, logger)

	a.Service, err = a.buildService(readingCache)
	if err != nil {
		return nil, err
	}

	logger.Info("compliance engine wired",
		"secondary_source", cfg.Weather.SecondaryEnabled(),
		"cache", cacheBackendName(cfg.Cache),
		"nats", cfg.Realtime.NATSURL != "",
		"metrics", cfg.Metrics.Backend,
		"notification_queue", cfg.AWS.NotificationQueue != "",
	)
	return a, nil
}

// NewMonitor builds the scheduled monitor on the app's service.
func (a *App) NewMonitor() (*scheduler.ComplianceMonitor, error) {
	return scheduler.NewComplianceMonitor(scheduler.MonitorConfig{
		Projects:    a.Projects,
		Checker:     a.Service,
		Alerts:      a.Alerts,
		Metrics:     a.Metrics,
		Clock:       a.Clock,
		Interval:    a.Config.Monitor.Interval,
		Concurrency: a.Config.Monitor.Concurrency,
		Logger:      a.Logger,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) openDatabase(ctx context.Context) error {
	pool, err := db.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.Pool = pool
	a.onClose(pool.Close)

	if a.Config.Database.RunMigrations {
		if err := db.RunMigrations(pool, a.Logger); err != nil {
			return err
		}
	}

	a.Projects = db.NewProjectRepository(pool)
	a.Events = db.NewWeatherEventRepository(pool)
	a.HealthProbes = append(a.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})
	return nil
}

func (a *App) openCache(ctx context.Context) (compliance.ReadingCache, error) {
	if !a.Config.Cache.RedisURL.IsSet() {
		return cache.NewMemoryReadingCache(a.Config.Cache.MemoryMaxEntries), nil
	}

	client, err := cache.NewRedisClient(ctx, a.Config.Cache.RedisURL.Unmask())
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })
	a.HealthProbes = append(a.HealthProbes, redisProbe(client))
	return cache.NewRedisReadingCache(client, a.Config.Compliance.CacheMaxAge), nil
}

func redisProbe(client *redis.Client) core.HealthProbe {
	return core.ProbeFunc{
		ProbeName: "redis",
		Fn:        func(ctx context.Context) error { return client.Ping(ctx).Err() },
	}
}

// openRealtime creates the local broker and, when NATS is configured, the
// bridge that relays alerts between instances.
func (a *App) openRealtime() (realtime.Publisher, error) {
	a.Broker = realtime.NewBroker(a.Config.Realtime.SubscriberBuffer, a.Logger)
	if a.Config.Realtime.NATSURL == "" {
		return a.Broker, nil
	}

	nc, err := realtime.Connect(realtime.DefaultNATSConfig(a.Config.Realtime.NATSURL), a.Logger)
	if err != nil {
		return nil, err
	}
	a.onClose(nc.Close)

	bridge := realtime.NewNATSBridge(nc, a.Config.Realtime.SubjectPrefix, a.Broker, a.Logger)
	if err := bridge.Start(); err != nil {
		return nil, err
	}
	a.onClose(func() { _ = bridge.Close() })
	a.HealthProbes = append(a.HealthProbes, natsProbe(nc))
	return bridge, nil
}

func natsProbe(nc *nats.Conn) core.HealthProbe {
	return core.ProbeFunc{
		ProbeName: "nats",
		Fn: func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats connection is %s", nc.Status())
			}
			return nil
		},
	}
}

func (a *App) buildService(readingCache compliance.ReadingCache) (*compliance.Service, error) {
	cfg := a.Config

	evaluator, err := compliance.NewThresholdEvaluator(cfg.Compliance.ThresholdInches)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Compliance.Location()
	if err != nil {
		return nil, fmt.Errorf("load compliance timezone: %w", err)
	}
	deadlines := compliance.NewDeadlineCalculator(loc)

	recorder, err := compliance.NewRecorder(compliance.RecorderConfig{
		Store:     a.Events,
		Cache:     readingCache,
		Deadlines: deadlines,
		Clock:     a.Clock,
		Timeout:   cfg.Compliance.RecordTimeout,
		Logger:    a.Logger,
	})
	if err != nil {
		return nil, err
	}

	primary := external.NewNOAAClient(external.NOAAConfig{
		BaseURL:     cfg.Weather.NOAABaseURL,
		UserAgent:   cfg.Weather.NOAAUserAgent,
		MaxStations: cfg.Weather.NOAAMaxStations,
		Timeout:     cfg.Weather.Timeout,
	}, a.Clock, a.Logger)

	svcCfg := compliance.ServiceConfig{
		Primary:       primary,
		Evaluator:     evaluator,
		Deadlines:     deadlines,
		Recorder:      recorder,
		Store:         a.Events,
		Cache:         readingCache,
		CacheMaxAge:   cfg.Compliance.CacheMaxAge,
		SourceTimeout: cfg.Weather.Timeout,
		Metrics:       a.Metrics,
		Clock:         a.Clock,
		Logger:        a.Logger,
	}
	if cfg.Weather.SecondaryEnabled() {
		svcCfg.Secondary = external.NewOpenWeatherClient(external.OpenWeatherConfig{
			BaseURL: cfg.Weather.OpenWeatherBaseURL,
			APIKey:  cfg.Weather.OpenWeatherAPIKey,
			Timeout: cfg.Weather.Timeout,
		}, a.Logger)
	}
	return compliance.NewService(svcCfg)
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// newMetricsBackend returns the configured backend and, for Prometheus, the
// scrape handler.
func newMetricsBackend(cfg config.MetricsConfig, awsCfg aws.Config, logger *slog.Logger) (MetricsBackend, http.Handler, error) {
	switch cfg.Backend {
	case "none":
		return metrics.Nop{}, nil, nil
	case "prometheus":
		p := metrics.NewPrometheus()
		return p, p.Handler(), nil
	case "cloudwatch":
		return metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, logger), nil, nil
	default:
		return nil, nil, errors.New("unknown metrics backend: " + cfg.Backend)
	}
}

// newNotifier selects SQS delivery when a queue is configured and falls
// back to logging the notice.
func newNotifier(cfg config.AWSConfig, awsCfg aws.Config, logger *slog.Logger) notifications.Notifier {
	if cfg.NotificationQueue == "" {
		return notifications.NewLogNotifier(logger)
	}
	return notifications.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.NotificationQueue, logger)
}

func cacheBackendName(cfg config.CacheConfig) string {
	if cfg.RedisURL.IsSet() {
		return "redis"
	}
	return "memory"
}
