// Package app wires the loaded configuration into the components shared by
// the worker binaries and queuectl: the broker transport, publish and consume
// APIs, metrics, persistence, external providers, and the job handlers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobboard/internal/admin"
	"jobboard/internal/broker"
	"jobboard/internal/config"
	"jobboard/internal/db"
	"jobboard/internal/external"
	"jobboard/internal/metrics"
	"jobboard/internal/queue"
	"jobboard/internal/reports"
	"jobboard/internal/workers"
)

// sqsLongPoll is the ReceiveMessage wait time.
const sqsLongPoll = 20 * time.Second

// NewLogger returns a JSON logger on stdout at level ("debug", "info",
// "warn", "error"); anything else means info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// App holds the process-wide components. Build it with New; call
// WireWorkers before asking for workers.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Transport broker.Transport
	Publisher *queue.Publisher
	Consumer  *queue.Consumer
	Jobs      *queue.Jobs
	Admin     *queue.Admin
	Handlers  *workers.Handlers
	Checks    []admin.HealthCheck

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	pool *pgxpool.Pool
}

// New builds the broker side of the process: transport, metrics, publisher,
// consumer, job helpers and queue admin. No connection is opened yet.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	transport, err := a.newTransport(ctx)
	if err != nil {
		return nil, err
	}
	m, err := a.newMetrics(ctx)
	if err != nil {
		return nil, err
	}

	a.Transport = transport
	a.Publisher = queue.NewPublisher(transport, logger)
	a.Consumer = queue.NewConsumer(transport, a.Publisher, queue.ConsumerConfig{
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		HandlerTimeout: cfg.Delivery.HandlerTimeout,
	}, m, logger)
	a.Jobs = queue.NewJobs(a.Publisher, logger)
	a.Admin = queue.NewAdmin(transport, logger)
	a.Checks = []admin.HealthCheck{admin.NewHealthCheck("broker", transport.Ping)}
	return a, nil
}

// loadAWS loads the shared AWS configuration once, on first need.
func (a *App) loadAWS(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWS.Region))
		if a.awsErr != nil {
			a.awsErr = fmt.Errorf("load AWS config: %w", a.awsErr)
		}
	})
	return a.awsCfg, a.awsErr
}

func (a *App) endpoint() *string {
	if a.Config.AWS.EndpointURL == "" {
		return nil
	}
	return aws.String(a.Config.AWS.EndpointURL)
}

func (a *App) newTransport(ctx context.Context) (broker.Transport, error) {
	cfg := a.Config
	switch cfg.Broker.Driver {
	case config.DriverAMQP:
		return broker.NewAMQPClient(broker.AMQPConfig{
			URL:            cfg.Broker.URL,
			Queues:         queue.Names(),
			Prefetch:       cfg.Broker.Prefetch,
			PublishConfirm: cfg.Broker.PublishConfirm,
			PublishTimeout: cfg.Broker.PublishTimeout,
		}, a.Logger), nil

	case config.DriverSQS:
		awsCfg, err := a.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = a.endpoint()
		})
		return broker.NewSQSTransport(client, broker.SQSConfig{
			Prefix:            cfg.AWS.SQSQueuePrefix,
			Queues:            queue.Names(),
			Prefetch:          cfg.Broker.Prefetch,
			VisibilityTimeout: cfg.Delivery.HandlerTimeout + 30*time.Second,
			WaitTime:          sqsLongPoll,
		}, a.Logger), nil

	case config.DriverMemory:
		a.Logger.Warn("using in-memory broker; messages do not survive restarts")
		return broker.NewMemoryTransport(queue.Names(), cfg.Broker.Prefetch), nil

	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func (a *App) newMetrics(ctx context.Context) (metrics.JobMetrics, error) {
	if !a.Config.Observability.MetricsEnabled {
		return metrics.NoopJobMetrics{}, nil
	}
	awsCfg, err := a.loadAWS(ctx)
	if err != nil {
		return nil, err
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		o.BaseEndpoint = a.endpoint()
	})
	return metrics.NewCloudWatchJobMetrics(client, a.Config.Observability.MetricNamespace, a.Logger), nil
}

// WireWorkers connects the database (once), builds the providers and the job
// handlers. Without DATABASE_URL the persistence side logs instead of
// writing.
func (a *App) WireWorkers(ctx context.Context) error {
	cfg := a.Config

	var (
		results       workers.ResultStore
		notifications workers.NotificationDispatcher
		source        reports.Source
	)
	if cfg.Database.URL.IsEmpty() {
		a.Logger.Warn("DATABASE_URL not set; results and notifications are logged only")
		logStore := db.NewLogStore(a.Logger)
		results, notifications, source = logStore, logStore, logStore
	} else {
		pool, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		a.pool = pool
		a.Checks = append(a.Checks, admin.NewHealthCheck("database", pool.Ping))
		results = db.NewAssessmentResultRepository(pool)
		notifications = db.NewNotificationRepository(pool)
		source = db.NewReportRepository(pool)
	}

	mailer, err := a.newMailer()
	if err != nil {
		return err
	}
	store, err := a.newReportStore(ctx)
	if err != nil {
		return err
	}

	a.Handlers = workers.NewHandlers(workers.Deps{
		Mailer:        mailer,
		Syncer:        a.newSyncer(),
		Results:       results,
		Notifications: notifications,
		Reports:       reports.NewGenerator(source, store, cfg.AWS.ReportsPrefix, a.Logger),
		SyncBatchSize: cfg.StudentSync.BatchSize,
	}, a.Logger)
	return nil
}

func (a *App) newMailer() (external.Mailer, error) {
	cfg := a.Config.Email
	switch cfg.Provider {
	case config.EmailProviderSMTP:
		return external.NewSMTPMailer(external.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.FromAddress,
			FromName:  cfg.FromName,
			Logger:    a.Logger,
		}), nil
	case config.EmailProviderSendGrid:
		return external.NewSendGridMailer(external.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.FromAddress,
			FromName:  cfg.FromName,
			Logger:    a.Logger,
		}), nil
	case config.EmailProviderStub:
		return external.NewStubMailer(a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

func (a *App) newSyncer() external.StudentSyncer {
	cfg := a.Config.StudentSync
	if cfg.URL == "" {
		return external.NewStubStudentSyncer(a.Logger)
	}
	return external.NewStudentDirectoryClient(external.StudentDirectoryConfig{
		BaseURL: cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Logger:  a.Logger,
	})
}

func (a *App) newReportStore(ctx context.Context) (reports.Store, error) {
	bucket := a.Config.AWS.ReportsBucket
	if bucket == "" {
		return reports.NewLogStore(a.Logger), nil
	}
	awsCfg, err := a.loadAWS(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = a.endpoint()
		o.UsePathStyle = o.BaseEndpoint != nil
	})
	return reports.NewS3Store(client, bucket), nil
}

// Workers returns one worker per queue; no queues means every work queue.
func (a *App) Workers(queues ...string) ([]*workers.Worker, error) {
	if a.Handlers == nil {
		return nil, fmt.Errorf("app: WireWorkers must be called before Workers")
	}
	if len(queues) == 0 {
		queues = queue.WorkQueues()
	}
	return workers.Build(a.Handlers, a.Consumer, a.workerOptions(), a.Logger, queues...)
}

func (a *App) workerOptions() workers.Options {
	return workers.Options{
		ResubscribeDelay: a.Config.Delivery.ResubscribeDelay,
		ShutdownTimeout:  a.Config.Delivery.ShutdownTimeout,
	}
}

// Supervisor wraps ws with the configured drain timeout.
func (a *App) Supervisor(ws []*workers.Worker) *workers.Supervisor {
	return workers.NewSupervisor(ws, a.workerOptions(), a.Logger)
}

// ServeAdmin runs the admin HTTP server until ctx ends. It returns
// immediately when ADMIN_ADDR is empty.
func (a *App) ServeAdmin(ctx context.Context) error {
	if a.Config.Admin.Addr == "" {
		return nil
	}
	srv, err := admin.NewServer(a.Admin, a.Jobs, a.Checks, admin.Options{
		APIKeyHash:  a.Config.Admin.APIKeyHash,
		Environment: a.Config.Environment,
	}, a.Logger)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, a.Config.Admin.Addr)
}

// Close releases the broker connection and the database pool.
func (a *App) Close() {
	if err := a.Transport.Close(); err != nil {
		a.Logger.Error("failed to close broker transport", "error", err.Error())
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
