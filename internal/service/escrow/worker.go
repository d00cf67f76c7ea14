package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 100
)

// Releaser выплачивает продавцам эскроу, у которых истёк срок удержания.
type Releaser interface {
	ReleaseDueEscrows(ctx context.Context, now time.Time, limit int) (lifecycle.ReleaseResult, error)
}

type workerMetrics struct {
	runs      *prometheus.CounterVec
	processed *prometheus.CounterVec
}

func newWorkerMetrics(registerer prometheus.Registerer) *workerMetrics {
	factory := promauto.With(registerer)
	return &workerMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmart_escrow_release_runs_total",
			Help: "Total number of escrow auto-release runs grouped by result.",
		}, []string{"result"}),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmart_escrow_release_orders_total",
			Help: "Orders handled by escrow auto-release grouped by outcome.",
		}, []string{"outcome"}),
	}
}

// Options задаёт параметры воркера.
type Options struct {
	Logger     *log.Entry
	Registerer prometheus.Registerer
	Interval   time.Duration
	BatchSize  int
	Now        func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithRegisterer задаёт реестр метрик.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(opts *Options) { opts.Registerer = registerer }
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// WithBatchSize ограничивает число заказов за один запрос к хранилищу.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Worker периодически освобождает эскроу, срок удержания которых истёк.
type Worker struct {
	releaser  Releaser
	logger    *log.Entry
	metrics   *workerMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер автоматической выплаты.
func NewWorker(releaser Releaser, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "escrow-release-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		releaser:  releaser,
		logger:    logger,
		metrics:   newWorkerMetrics(opts.Registerer),
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Run выполняет проходы до отмены ctx. Первый проход сразу при старте.
func (w *Worker) Run(ctx context.Context) {
	if w.releaser == nil {
		w.logger.Warn("escrow release worker is disabled: releaser is nil")
		return
	}

	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	result, err := w.ReleaseDue(ctx, w.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.runs.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("escrow release run failed")
		return
	}

	w.metrics.runs.WithLabelValues("ok").Inc()
	if result.Released > 0 || result.Failed > 0 {
		w.logger.WithFields(log.Fields{
			"released":  result.Released,
			"completed": result.Completed,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}).Info("escrow release completed")
	}
}

// ReleaseDue обрабатывает все просроченные эскроу порциями batchSize.
// Проход останавливается, когда порция не продвинула ни одного заказа:
// пропущенные и упавшие остаются в выборке и зациклили бы воркер.
func (w *Worker) ReleaseDue(ctx context.Context, now time.Time) (lifecycle.ReleaseResult, error) {
	if now.IsZero() {
		now = w.now()
	}

	var total lifecycle.ReleaseResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := w.releaser.ReleaseDueEscrows(ctx, now, w.batchSize)
		total.Released += batch.Released
		total.Completed += batch.Completed
		total.Skipped += batch.Skipped
		total.Failed += batch.Failed
		w.observe(batch)
		if err != nil {
			return total, err
		}

		seen := batch.Released + batch.Skipped + batch.Failed
		if batch.Released == 0 || seen < w.batchSize {
			return total, nil
		}
	}
}

func (w *Worker) observe(batch lifecycle.ReleaseResult) {
	if batch.Released > 0 {
		w.metrics.processed.WithLabelValues("released").Add(float64(batch.Released))
	}
	if batch.Completed > 0 {
		w.metrics.processed.WithLabelValues("completed").Add(float64(batch.Completed))
	}
	if batch.Skipped > 0 {
		w.metrics.processed.WithLabelValues("skipped").Add(float64(batch.Skipped))
	}
	if batch.Failed > 0 {
		w.metrics.processed.WithLabelValues("failed").Add(float64(batch.Failed))
	}
}
