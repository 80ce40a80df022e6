package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/actions"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/eventbus"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	grpcserver "github.com/EricMurray-e-m-dev/RevenueMonkey/internal/grpc"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/health"
	httpserver "github.com/EricMurray-e-m-dev/RevenueMonkey/internal/http"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/notification"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/notifier"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/redis"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository/memory"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const digestCheckInterval = time.Minute

// Store is every repository the service needs.
type Store interface {
	repository.Repository
	repository.ContentStore
	repository.CollectionStore
	repository.PreferenceStore
}

// Orchestrator manages the executor service lifecycle.
//
// Lifecycle:
//  1. Initialize() - connects storage, Redis and NATS and builds the executor
//  2. Start() - Initialize plus the NATS command subscriber and the servers
//  3. Run() - serves and drives the sweep, flush and digest loops until ctx ends
//  4. Stop() - flushes pending notifications and closes every connection
//
// Degradation:
//   - No DATABASE_URL: an in-memory store is used (development only)
//   - Redis failure: the circuit breaker keeps its failure window in process
//   - NATS failure: no events are published and no bus commands are accepted
type Orchestrator struct {
	config *config.Config

	store         Store
	closeStore    func() error
	redisClient   *redis.Client
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	notifications *notification.Service
	executor      *executor.Executor

	natsPublisher  *eventbus.Publisher
	natsSubscriber *eventbus.Subscriber

	health     *health.HealthServer
	httpServer *httpserver.Server
	grpcServer *grpcserver.Server

	clock      func() time.Time
	digestMu   sync.Mutex
	lastDigest string

	log *zap.SugaredLogger
}

// NewOrchestrator creates an Orchestrator; nothing connects until Initialize.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		config: cfg,
		clock:  time.Now,
		health: health.NewHealthServer(),
		log:    logger.For(logger.ComponentOrchestrator),
	}
}

// Initialize connects storage and the event bus and builds the executor and
// notification service. The one-shot CLI commands stop here.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.log.Infof("Initializing executor...")

	if err := o.connectStore(ctx); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	o.connectRedis()
	o.connectNATS()

	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	o.metrics = metrics.New(o.registry)

	o.initializeNotifications()
	o.initializeExecutor()

	o.log.Infof("Executor initialized")
	return nil
}

// Start initializes the service and prepares the servers. Call Run next.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Initialize(ctx); err != nil {
		return err
	}

	if o.natsPublisher != nil {
		if err := o.startSubscriber(); err != nil {
			o.log.Warnf("Failed to start NATS subscriber: %v", err)
			o.log.Warnf("Operator commands will only be accepted over HTTP")
		}
	}

	o.httpServer = httpserver.NewServer(o.executor, o.registry)
	o.grpcServer = grpcserver.NewServer(o.health, 0)

	o.log.Infof("Executor Orchestrator started successfully")
	return nil
}

func (o *Orchestrator) connectStore(ctx context.Context) error {
	if o.config.DatabaseURL == "" {
		o.log.Warnf("DATABASE_URL not set, using in-memory store; nothing will persist")
		o.store = memory.NewStore()
		o.closeStore = func() error { return nil }
		return nil
	}

	o.log.Infof("Connecting to PostgreSQL...")
	store, err := postgres.NewStore(ctx, o.config.DatabaseURL)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}

	o.store = store
	o.closeStore = store.Close
	o.health.Register("database", store.Ping)
	return nil
}

// connectRedis is optional; without Redis each instance trips its own breaker.
func (o *Orchestrator) connectRedis() {
	if o.config.RedisAddr == "" {
		return
	}

	o.log.Infof("Connecting to Redis at: %s", o.config.RedisAddr)
	client, err := redis.NewClient(o.config.RedisAddr, o.config.RedisPassword, o.config.RedisDB)
	if err != nil {
		o.log.Warnf("Failed to connect to Redis: %v", err)
		o.log.Warnf("Circuit breaker failures will not be shared between instances")
		return
	}

	o.redisClient = client
	o.health.Register("redis", client.Ping)
}

// connectNATS is optional; executions still run and are logged without it.
func (o *Orchestrator) connectNATS() {
	if o.config.NatsURL == "" {
		return
	}

	o.log.Infof("Connecting to NATS at: %s", o.config.NatsURL)
	publisher, err := eventbus.NewPublisher(o.config.NatsURL)
	if err != nil {
		o.log.Warnf("Failed to connect to NATS: %v", err)
		o.log.Warnf("Execution events will not be published")
		return
	}

	o.natsPublisher = publisher
	o.health.Register("nats", func(ctx context.Context) error {
		if !publisher.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	})
}

func (o *Orchestrator) initializeNotifications() {
	var chat notification.ChatSender
	if slack := notifier.NewSlackNotifier(o.config.SlackWebhookURL); slack.Configured() {
		chat = slack
	} else {
		o.log.Infof("SLACK_WEBHOOK_URL not set, Slack notifications disabled")
	}

	var email notification.EmailSender
	smtp := notifier.NewEmailNotifier(notifier.SMTPConfig{
		Host:     o.config.SMTPHost,
		Port:     o.config.SMTPPort,
		Username: o.config.SMTPUsername,
		Password: o.config.SMTPPassword,
		From:     o.config.EmailFrom,
	})
	if smtp.Configured() {
		email = smtp
	} else {
		o.log.Infof("SMTP_HOST not set, email notifications disabled")
	}

	o.notifications = notification.NewService(notification.Config{
		HighImpactThreshold: o.config.HighImpactThreshold,
		StandardBatch: notification.BatchPolicy{
			MaxSize: o.config.StandardBatchMaxSize,
			MaxAge:  o.config.StandardBatchMaxAge,
		},
		QuietHoursStart: o.config.QuietHoursStart,
		QuietHoursEnd:   o.config.QuietHoursEnd,
		Recipients:      o.config.AdminEmails,
	}, chat, email, o.store, notification.WithClock(o.clock), notification.WithMetrics(o.metrics))
}

func (o *Orchestrator) initializeExecutor() {
	opts := []executor.Option{
		executor.WithConfig(executor.Config{
			MaxPerHour:        o.config.MaxAutoExecutionsPerHour,
			MaxPerDay:         o.config.MaxAutoExecutionsPerDay,
			BreakerThreshold:  o.config.CircuitBreakerThreshold,
			MinConfidence:     o.config.MinAutoConfidence,
			MinRevenueImpact:  o.config.MinAutoRevenueImpact,
			MaxAttempts:       executor.DefaultConfig().MaxAttempts,
			SweepBatchSize:    executor.DefaultConfig().SweepBatchSize,
			ApprovedBatchSize: executor.DefaultConfig().ApprovedBatchSize,
		}),
		executor.WithNotifier(o.notifications),
		executor.WithMetrics(o.metrics),
		executor.WithClock(o.clock),
	}
	if o.natsPublisher != nil {
		opts = append(opts, executor.WithPublisher(o.natsPublisher))
	}
	if o.redisClient != nil {
		opts = append(opts, executor.WithFailureWindow(o.redisClient.NewFailureWindow("", 2*executor.BreakerWindow)))
	}

	registry := actions.NewDefaultRegistry(o.store, o.store)
	o.executor = executor.New(o.store, registry, opts...)
	o.log.Infof("Registered action handlers: %v", registry.Types())
}

func (o *Orchestrator) startSubscriber() error {
	subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.executor)
	if err != nil {
		return fmt.Errorf("failed to create NATS subscriber: %w", err)
	}
	if err := subscriber.Start(); err != nil {
		subscriber.Close()
		return fmt.Errorf("failed to start NATS subscriber: %w", err)
	}
	o.natsSubscriber = subscriber
	o.log.Infof("NATS subscriber started - listening for operator commands")
	return nil
}

// Executor exposes the built executor.
func (o *Orchestrator) Executor() *executor.Executor {
	return o.executor
}

// Notifications exposes the notification service.
func (o *Orchestrator) Notifications() *notification.Service {
	return o.notifications
}

// Sweep runs one auto-execution sweep.
func (o *Orchestrator) Sweep(ctx context.Context) executor.SweepResult {
	if !o.config.EnableAutoExecution {
		o.log.Infof("Auto-execution disabled, skipping sweep")
		return executor.SweepResult{}
	}
	result := o.executor.ExecuteAutoActions(ctx)
	o.log.Infof("Sweep finished: executed=%d failed=%d skipped=%d", result.Executed, result.Failed, result.Skipped)
	return result
}

// FlushNotifications delivers due batches, or every batch when all is set.
func (o *Orchestrator) FlushNotifications(ctx context.Context, all bool) int {
	if all {
		return o.notifications.FlushAll(ctx)
	}
	return o.notifications.FlushExpired(ctx)
}

// SendDailyDigest summarizes today's activity to recipients.
func (o *Orchestrator) SendDailyDigest(ctx context.Context) error {
	stats, err := o.executor.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}
	o.notifications.SendDailyDigest(ctx, digestFrom(stats, o.clock()))
	return nil
}

// SendWeeklyReport summarizes the last seven days.
func (o *Orchestrator) SendWeeklyReport(ctx context.Context) error {
	weekStart := o.clock().AddDate(0, 0, -7)
	summary, err := o.executor.WeeklySummary(ctx, weekStart)
	if err != nil {
		return fmt.Errorf("failed to compute weekly summary: %w", err)
	}
	o.notifications.SendWeeklyReport(ctx, reportFrom(summary))
	return nil
}

func digestFrom(stats *executor.Stats, date time.Time) notification.DailyDigest {
	return notification.DailyDigest{
		Date:             date,
		AutoExecuted:     stats.AutoExecutedToday,
		ApprovedExecuted: stats.ApprovedExecutedToday,
		ManualExecuted:   stats.ManualExecutedToday,
		Failed:           stats.FailedToday,
		RolledBack:       stats.RolledBackToday,
		BreakerOpen:      stats.CircuitBreaker.Open,
		HourlyRemaining:  stats.Budget.HourlyRemaining,
		DailyRemaining:   stats.Budget.DailyRemaining,
	}
}

func reportFrom(summary *executor.WeeklySummary) notification.WeeklyReport {
	report := notification.WeeklyReport{
		WeekStart:     summary.Since,
		Executions:    summary.Executions,
		Failures:      summary.Failures,
		RollBacks:     summary.RolledBack,
		RevenueImpact: summary.RevenueImpact,
	}
	for _, o := range summary.TopOpportunities {
		report.TopOpportunities = append(report.TopOpportunities, fmt.Sprintf("%s ($%.2f/mo)", o.Title, o.EstimatedRevenueImpact))
	}
	return report
}

// maybeSendDigests sends the daily digest once per day at the configured
// hour, and the weekly report alongside it on Mondays.
func (o *Orchestrator) maybeSendDigests(ctx context.Context) bool {
	if o.config.DailyDigestHour < 0 {
		return false
	}
	now := o.clock()
	if now.Hour() != o.config.DailyDigestHour {
		return false
	}

	today := now.Format("2006-01-02")
	o.digestMu.Lock()
	if o.lastDigest == today {
		o.digestMu.Unlock()
		return false
	}
	o.lastDigest = today
	o.digestMu.Unlock()

	if err := o.SendDailyDigest(ctx); err != nil {
		o.log.Errorf("Failed to send daily digest: %v", err)
		o.notifications.NotifyCriticalError(ctx, err, "daily digest")
	}
	if now.Weekday() == time.Monday {
		if err := o.SendWeeklyReport(ctx); err != nil {
			o.log.Errorf("Failed to send weekly report: %v", err)
		}
	}
	return true
}

// Run starts the servers and the scheduling loops and blocks until ctx is
// cancelled or a server fails. Each loop is owned by one goroutine, so at
// most one sweep is in flight per process.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Infof("Starting servers...")

	errChan := make(chan error, 3)
	go func() {
		addr := ":" + o.config.HTTPPort
		if err := o.httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		if err := o.grpcServer.Start(":" + o.config.GRPCPort); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		o.log.Infof("Health server listening on port %s", o.config.HealthPort)
		if err := o.health.Start(":" + o.config.HealthPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("health server error: %w", err)
		}
	}()

	var wg sync.WaitGroup
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer func() {
		stopLoops()
		wg.Wait()
	}()

	if o.config.EnableAutoExecution {
		o.every(loopCtx, &wg, o.config.SweepInterval, func(ctx context.Context) { o.Sweep(ctx) })
	} else {
		o.log.Warnf("Auto-execution disabled; actions only run on operator request")
	}
	o.every(loopCtx, &wg, o.config.QueueFlushInterval, func(ctx context.Context) {
		if n := o.FlushNotifications(ctx, false); n > 0 {
			o.log.Infof("Delivered %d notification batches", n)
		}
	})
	o.every(loopCtx, &wg, digestCheckInterval, func(ctx context.Context) { o.maybeSendDigests(ctx) })

	o.log.Infof("Executor ready")

	select {
	case <-ctx.Done():
		o.log.Infof("Shutdown signal received")
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

func (o *Orchestrator) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop delivers queued notifications and releases every resource.
func (o *Orchestrator) Stop() error {
	o.log.Infof("Stopping Orchestrator...")

	if o.httpServer != nil {
		if err := o.httpServer.Stop(); err != nil {
			o.log.Errorf("Error stopping HTTP server: %v", err)
		}
	}
	if o.grpcServer != nil {
		o.grpcServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.health.Shutdown(shutdownCtx); err != nil {
		o.log.Errorf("Error stopping health server: %v", err)
	}

	if o.natsSubscriber != nil {
		o.natsSubscriber.Close()
	}

	if o.notifications != nil {
		if n := o.notifications.FlushAll(shutdownCtx); n > 0 {
			o.log.Infof("Delivered %d pending notification batches before shutdown", n)
		}
	}

	if o.natsPublisher != nil {
		o.natsPublisher.Close()
	}
	if o.redisClient != nil {
		if err := o.redisClient.Close(); err != nil {
			o.log.Errorf("Error closing Redis client: %v", err)
		}
	}
	if o.closeStore != nil {
		if err := o.closeStore(); err != nil {
			o.log.Errorf("Error closing store: %v", err)
		}
	}

	o.log.Infof("Orchestrator stopped successfully")
	return nil
}
