package reconciler

import (
	"time"

	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/transport"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Option func(*setupOptions)

type setupOptions struct {
	client         *persistence.Client
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	httpDoer       transport.HTTPDoer
	provider       core.PaymentStatusProvider
	cache          repositorycache.CacheService
	retry          *gojob.RetryPolicy
	now            func() time.Time
	jobHandlers    map[string]queue.Handler
}

// WithPersistenceClient uses an existing, already migrated client. The App
// does not close clients it did not open.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(o *setupOptions) {
		o.client = client
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *setupOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *setupOptions) {
		o.loggerProvider = provider
	}
}

// WithMetrics replaces the default Prometheus recorder.
func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *setupOptions) {
		o.metrics = metrics
	}
}

// WithHTTPDoer sets the HTTP client used for provider status calls.
func WithHTTPDoer(doer transport.HTTPDoer) Option {
	return func(o *setupOptions) {
		o.httpDoer = doer
	}
}

// WithProvider replaces the Paystack status client.
func WithProvider(provider core.PaymentStatusProvider) Option {
	return func(o *setupOptions) {
		o.provider = provider
	}
}

func WithCacheService(cache repositorycache.CacheService) Option {
	return func(o *setupOptions) {
		o.cache = cache
	}
}

func WithRetryPolicy(policy gojob.RetryPolicy) Option {
	return func(o *setupOptions) {
		o.retry = &policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *setupOptions) {
		o.now = now
	}
}

// WithJobHandler replaces the default handler for one job kind.
func WithJobHandler(jobID string, handler queue.Handler) Option {
	return func(o *setupOptions) {
		if o.jobHandlers == nil {
			o.jobHandlers = map[string]queue.Handler{}
		}
		o.jobHandlers[jobID] = handler
	}
}
