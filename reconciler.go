package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	queueadapter "github.com/goliatone/go-job/queue/adapters/postgres"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/adapters/gocommand"
	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/adapters/gologger"
	"github.com/goliatone/go-reconciler/adapters/prommetrics"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/httpapi"
	"github.com/goliatone/go-reconciler/providers/paystack"
	"github.com/goliatone/go-reconciler/query"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/reconcile"
	"github.com/goliatone/go-reconciler/scheduler"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
	"github.com/goliatone/go-reconciler/transport"
	"github.com/goliatone/go-reconciler/webhooks"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

const paymentEventCacheTTL = time.Minute

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Reconcilers struct {
	OrderCleanup      *reconcile.OrderCleanup
	PendingPayment    *reconcile.PendingPayment
	ProductVisibility *reconcile.ProductVisibility
}

type Commands struct {
	IngestPaymentEvent *command.IngestPaymentEventCommand
	RunReconciler      *command.RunReconcilerCommand
	NotifyVendorFollow *command.NotifyVendorFollowCommand
}

type Queries struct {
	GetPaymentEvent *query.GetPaymentEventQuery
	ListReconcilers *query.ListReconcilersQuery
}

// App is one fully wired reconciler process: the webhook path, the scheduled
// reconcilers, and the work queue producer and consumer, all built from one
// Config.
type App struct {
	Config      Config
	Client      *persistence.Client
	Stores      *sqlstore.RepositoryFactory
	Events      core.EventStore
	Ingestor    *webhooks.Ingestor
	Provider    core.PaymentStatusProvider
	Reconcilers Reconcilers
	Scheduler   *scheduler.Scheduler
	Jobs        *queue.Client
	Worker      *queue.Worker
	Bus         *gocommand.Bus
	Commands    Commands
	Queries     Queries
	Observer    *core.Observer
	// Prometheus is nil when WithMetrics supplied another recorder.
	Prometheus *prommetrics.Recorder

	ownsClient bool
	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	workerDone chan struct{}
	workerErr  error
}

// Setup builds an App. Without WithPersistenceClient it opens the configured
// database; schema migration is the caller's job.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := setupOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return nil, fmt.Errorf("reconciler: webhook.secret is required")
	}

	app := &App{Config: cfg}
	app.Observer, app.Prometheus = newObserver(cfg, options)

	client := options.client
	if client == nil {
		opened, err := sqlstore.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		client = opened
		app.ownsClient = true
	}
	app.Client = client

	if err := app.build(ctx, options); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Observer.Info(ctx, "reconciler configured", map[string]any{
		"reconcilers": app.Scheduler.Names(),
		"provider_id": cfg.Webhook.ProviderID,
	})
	return app, nil
}

func (a *App) build(_ context.Context, options setupOptions) error {
	cfg := a.Config
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(a.Client)
	if err != nil {
		return err
	}
	a.Stores = stores

	cacheService := options.cache
	if cacheService == nil {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = paymentEventCacheTTL
		cacheService, err = repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fmt.Errorf("reconciler: payment event cache: %w", err)
		}
	}
	events, err := sqlstore.NewCachedPaymentEventStore(stores.EventStore(), cacheService)
	if err != nil {
		return err
	}
	events.Observer = a.Observer
	a.Events = events

	verifier := webhooks.NewHeaderHMACVerifier(cfg.Webhook.SignatureHeader, cfg.Webhook.Secret, cfg.Webhook.Algorithm)
	a.Ingestor = webhooks.NewIngestor(verifier, events)
	a.Ingestor.ProviderID = cfg.Webhook.ProviderID
	a.Ingestor.SignatureHeader = cfg.Webhook.SignatureHeader
	a.Ingestor.Observer = a.Observer
	if options.now != nil {
		a.Ingestor.Now = options.now
	}

	a.Provider = options.provider
	if a.Provider == nil {
		provider, err := paystack.FromConfig(cfg.Provider, transport.NewRESTAdapter(options.httpDoer))
		if err != nil {
			return err
		}
		a.Provider = provider
	}

	jobBackend := queueadapter.NewAdapter(stores.JobQueueStore())
	a.Jobs = queue.NewClient(gojob.NewEnqueuerAdapter(jobBackend), a.Observer)

	reconcileOpts := []reconcile.Option{
		reconcile.WithBatchSize(cfg.Schedule.Limit()),
		reconcile.WithObserver(a.Observer),
	}
	if options.now != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithClock(options.now))
	}
	a.Reconcilers = Reconcilers{
		OrderCleanup: reconcile.NewOrderCleanup(stores.OrderStore(), cfg.Schedule.StaleOrderThreshold(), reconcileOpts...),
		PendingPayment: reconcile.NewPendingPayment(
			stores.PaymentStore(),
			events,
			a.Provider,
			cfg.Provider.Timeout(),
			reconcileOpts...,
		),
		ProductVisibility: reconcile.NewProductVisibility(stores.ProductStore(), a.Jobs, reconcileOpts...),
	}

	a.Scheduler = scheduler.New(
		scheduler.WithTimeout(cfg.Schedule.RunTimeout()),
		scheduler.WithObserver(a.Observer),
	)
	registrations := []struct {
		reconciler core.Reconciler
		interval   time.Duration
	}{
		{a.Reconcilers.OrderCleanup, cfg.Schedule.OrderCleanupInterval()},
		{a.Reconcilers.PendingPayment, cfg.Schedule.PendingPaymentInterval()},
		{a.Reconcilers.ProductVisibility, cfg.Schedule.ProductVisibilityInterval()},
	}
	for _, registration := range registrations {
		if err := a.Scheduler.Register(registration.reconciler, registration.interval); err != nil {
			return err
		}
	}

	retry := gojob.DefaultRetryPolicy()
	if options.retry != nil {
		retry = *options.retry
	}
	a.Worker = queue.NewWorker(jobBackend, retry, a.Observer)
	handlers := defaultJobHandlers(a.Observer)
	for jobID, handler := range options.jobHandlers {
		handlers[jobID] = handler
	}
	for jobID, handler := range handlers {
		if err := a.Worker.Handle(jobID, handler); err != nil {
			return err
		}
	}

	a.Commands = Commands{
		IngestPaymentEvent: command.NewIngestPaymentEventCommand(a.Ingestor),
		RunReconciler:      command.NewRunReconcilerCommand(a.Scheduler),
		NotifyVendorFollow: command.NewNotifyVendorFollowCommand(a.Jobs),
	}
	a.Queries = Queries{
		GetPaymentEvent: query.NewGetPaymentEventQuery(events),
		ListReconcilers: query.NewListReconcilersQuery(a.Scheduler),
	}
	return a.subscribe()
}

func (a *App) subscribe() error {
	a.Bus = gocommand.NewBus(nil)
	if err := gocommand.AddCommand(a.Bus, a.Commands.IngestPaymentEvent); err != nil {
		return err
	}
	if err := gocommand.AddCommand(a.Bus, a.Commands.RunReconciler); err != nil {
		return err
	}
	if err := gocommand.AddCommand(a.Bus, a.Commands.NotifyVendorFollow); err != nil {
		return err
	}
	if err := gocommand.AddQuery(a.Bus, a.Queries.GetPaymentEvent); err != nil {
		return err
	}
	if err := gocommand.AddQuery(a.Bus, a.Queries.ListReconcilers); err != nil {
		return err
	}
	return a.Bus.Initialize()
}

// HTTPServer exposes the commands and queries over HTTP.
func (a *App) HTTPServer() *httpapi.Server {
	handlers := httpapi.Handlers{
		IngestPaymentEvent: a.Commands.IngestPaymentEvent,
		RunReconciler:      a.Commands.RunReconciler,
		NotifyVendorFollow: a.Commands.NotifyVendorFollow,
		GetPaymentEvent:    a.Queries.GetPaymentEvent,
		ListReconcilers:    a.Queries.ListReconcilers,
	}
	if a.Prometheus != nil {
		handlers.Metrics = a.Prometheus.Handler()
	}
	return httpapi.NewServer(httpapi.Config{
		ProviderID:      a.Config.Webhook.ProviderID,
		SignatureHeader: a.Config.Webhook.SignatureHeader,
	}, handlers, a.Observer)
}

// Start begins scheduled reconciliation and job consumption. Both stop when
// ctx ends or Stop is called.
func (a *App) Start(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("reconciler: app is not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("reconciler: app already started")
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.workerDone = make(chan struct{})
	a.Scheduler.Start(runCtx)
	go func() {
		defer close(a.workerDone)
		if err := a.Worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.workerErr = err
			a.Observer.Error(runCtx, "job worker stopped", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Stop stops ticking, waits for in-flight runs and the worker, or for ctx.
func (a *App) Stop(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	cancel := a.cancel
	workerDone := a.workerDone
	a.mu.Unlock()

	err := a.Scheduler.Stop(ctx)
	if cancel != nil {
		cancel()
	}
	if workerDone != nil {
		select {
		case <-workerDone:
			if err == nil {
				err = a.workerErr
			}
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}
	return err
}

// Close releases the command subscriptions and the database client when the
// App opened it.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.ownsClient && a.Client != nil {
		return a.Client.Close()
	}
	return nil
}

func newObserver(cfg Config, options setupOptions) (*core.Observer, *prommetrics.Recorder) {
	logger := options.logger
	if logger == nil && options.loggerProvider == nil {
		logger = gologger.NewLogrusLogger(gologger.Options{Level: "info"}).Named(cfg.ServiceName)
	}
	_, logger = gologger.Resolve(cfg.ServiceName, options.loggerProvider, logger)

	metrics := options.metrics
	var recorder *prommetrics.Recorder
	if metrics == nil {
		recorder = prommetrics.NewRecorder(prometheus.NewRegistry())
		metrics = recorder
	}
	return core.NewObserver(logger, metrics, cfg.ServiceName), recorder
}

// defaultJobHandlers log each job. Deployments replace them with
// WithJobHandler to deliver the downstream effect.
func defaultJobHandlers(observer *core.Observer) map[string]queue.Handler {
	return map[string]queue.Handler{
		queue.QueueProductDeactivate: queue.TypedHandler(func(ctx context.Context, payload queue.ProductDeactivatePayload) error {
			observer.Info(ctx, "product deactivated", map[string]any{
				"product_id": payload.ProductID,
				"vendor_id":  payload.VendorID,
				"reason":     payload.Reason,
			})
			return nil
		}),
		queue.QueueVendorFollowNotification: queue.TypedHandler(func(ctx context.Context, payload queue.VendorFollowPayload) error {
			observer.Info(ctx, "vendor follow notification", map[string]any{
				"vendor_id":   payload.VendorID,
				"follower_id": payload.FollowerID,
			})
			return nil
		}),
	}
}
