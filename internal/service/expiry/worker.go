package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/reconcile"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepBatchSize = 100
	// maxBatchesPerRun ограничивает один цикл, чтобы воркер не держал БД бесконечно.
	maxBatchesPerRun = 50
)

var (
	expirySweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_expiry_sweep_runs_total",
		Help: "Total number of expiry sweep runs grouped by result.",
	}, []string{"result"})
	expirySweepLastMoved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recon_expiry_sweep_last_moved",
		Help: "Number of registrations moved during the last sweep run grouped by target status.",
	}, []string{"status"})
)

// Sweeper переводит просроченные регистрации.
type Sweeper interface {
	ExpireDue(ctx context.Context, batchSize int) (reconcile.SweepResult, error)
}

// Options задаёт параметры воркера истечения регистраций.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch одной транзакции.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Worker периодически истекает регистрации, по которым не пришла оплата
// или не была создана сущность.
type Worker struct {
	sweeper   Sweeper
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewWorker создаёт воркер истечения регистраций.
func NewWorker(sweeper Sweeper, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "expiry-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Worker{
		sweeper:   sweeper,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.sweeper == nil {
		w.logger.Warn("expiry worker is disabled: sweeper is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	total, err := w.ProcessOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		expirySweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("expiry sweep run failed")
		return
	}

	expirySweepRunsTotal.WithLabelValues("ok").Inc()
	expirySweepLastMoved.WithLabelValues("expired").Set(float64(total.Expired))
	expirySweepLastMoved.WithLabelValues("orphaned").Set(float64(total.Orphaned))
}

// ProcessOnce прогоняет sweep порциями batchSize, пока находятся просроченные записи.
func (w *Worker) ProcessOnce(ctx context.Context) (reconcile.SweepResult, error) {
	var total reconcile.SweepResult
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := w.sweeper.ExpireDue(ctx, w.batchSize)
		if err != nil {
			return total, err
		}
		total.Expired += result.Expired
		total.Orphaned += result.Orphaned

		if result.Expired < w.batchSize && result.Orphaned < w.batchSize {
			break
		}
	}
	return total, nil
}
