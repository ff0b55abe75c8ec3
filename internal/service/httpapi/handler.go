package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/gateway/razorpay"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/reconcile"
)

// maxWebhookBodyBytes ограничивает тело webhook.
const maxWebhookBodyBytes = 1 << 20

// Reconciler — операции сверки, доступные по HTTP.
type Reconciler interface {
	Reconcile(ctx context.Context, event domain.GatewayEvent) (domain.ReconciliationOutcome, error)
	CreatePendingRegistration(ctx context.Context, orderID string, entityType domain.EntityType, ttl time.Duration) (domain.PendingRegistration, error)
	LinkRegistration(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error)
	GetPaymentStatus(ctx context.Context, orderID string) (domain.PendingRegistration, bool, error)

	ListOrphans(ctx context.Context, limit int) ([]reconcile.OrphanView, error)
	ListAnomalies(ctx context.Context, limit int) ([]domain.Anomaly, error)
	Details(ctx context.Context, orderID string) (reconcile.RegistrationDetails, error)
	ManualLink(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error)
	MarkRefundPending(ctx context.Context, orderID string) (domain.PaymentRecord, error)
}

var _ Reconciler = (*reconcile.Engine)(nil)

// Options задаёт параметры Handler.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.ReconcileMetrics
	Clock   func() time.Time
}

// Option настраивает Handler.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики доставок webhook.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет время получения webhook (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Handler обслуживает webhook шлюза, API регистраций и операторский API.
type Handler struct {
	engine   Reconciler
	verifier *razorpay.Verifier
	logger   *log.Entry
	metrics  *metrics.ReconcileMetrics
	now      func() time.Time
}

// NewHandler создаёт Handler. verifier без секрета допустим: webhook тогда
// отвечает 500 и ничего не сохраняет.
func NewHandler(engine Reconciler, verifier *razorpay.Verifier, options ...Option) *Handler {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Handler{
		engine:   engine,
		verifier: verifier,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      clock,
	}
}

// Register подключает маршруты к router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/webhooks/razorpay", h.RazorpayWebhook)

	registrations := router.Group("/registrations")
	registrations.POST("", h.CreateRegistration)
	registrations.GET("/:order_id", h.GetRegistration)
	registrations.POST("/:order_id/link", h.LinkRegistration)

	operator := router.Group("/operator")
	operator.GET("/orphans", h.ListOrphans)
	operator.GET("/anomalies", h.ListAnomalies)
	operator.GET("/registrations/:order_id", h.RegistrationDetails)
	operator.POST("/registrations/:order_id/manual-link", h.ManualLink)
	operator.POST("/registrations/:order_id/refund-pending", h.MarkRefundPending)
}

// NewRouter собирает gin.Engine с восстановлением после паники, логированием
// запросов и метриками.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger), RequestMetrics())
	h.Register(router)
	return router
}
