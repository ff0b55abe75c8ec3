package grpcsvc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	registrationv1 "github.com/vladislavdragonenkov/donation-reconciler/proto/registration/v1"
)

// Ledger — операции реестра регистраций, нужные gRPC API.
type Ledger interface {
	CreatePendingRegistration(ctx context.Context, orderID string, entityType domain.EntityType, ttl time.Duration) (domain.PendingRegistration, error)
	LinkRegistration(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error)
	GetPaymentStatus(ctx context.Context, orderID string) (domain.PendingRegistration, bool, error)
}

var validate = validator.New()

// RegistrationService реализует gRPC API реестра регистраций для
// внутренних сервисов (членство, волонтёры, пожертвования).
type RegistrationService struct {
	registrationv1.UnimplementedRegistrationServiceServer

	ledger Ledger
	logger *log.Entry
}

// NewRegistrationService конструирует сервис с зависимостями.
func NewRegistrationService(ledger Ledger, logger *log.Entry) *RegistrationService {
	if logger == nil {
		logger = log.New().WithField("component", "registration-service")
	}
	return &RegistrationService{ledger: ledger, logger: logger}
}

// CreatePendingRegistration заводит ожидающую регистрацию до перехода к оплате.
func (s *RegistrationService) CreatePendingRegistration(ctx context.Context, req *registrationv1.CreatePendingRegistrationRequest) (*registrationv1.CreatePendingRegistrationResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	entityType := domain.EntityType(strings.ToUpper(strings.TrimSpace(req.IntendedEntityType)))
	ttl := time.Duration(req.TtlSeconds) * time.Second

	reg, err := s.ledger.CreatePendingRegistration(ctx, req.OrderId, entityType, ttl)
	if err != nil {
		return nil, s.toStatus(err, "create pending registration", req.OrderId)
	}
	return &registrationv1.CreatePendingRegistrationResponse{Registration: toProtoRegistration(reg)}, nil
}

// LinkRegistration привязывает созданную сущность к заказу.
func (s *RegistrationService) LinkRegistration(ctx context.Context, req *registrationv1.LinkRegistrationRequest) (*registrationv1.LinkRegistrationResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	outcome, err := s.ledger.LinkRegistration(ctx, req.OrderId, req.EntityId)
	if err != nil {
		return nil, s.toStatus(err, "link registration", req.OrderId)
	}
	return &registrationv1.LinkRegistrationResponse{OrderId: req.OrderId, Outcome: string(outcome)}, nil
}

// GetPaymentStatus отдаёт текущий статус регистрации.
func (s *RegistrationService) GetPaymentStatus(ctx context.Context, req *registrationv1.GetPaymentStatusRequest) (*registrationv1.GetPaymentStatusResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	reg, found, err := s.ledger.GetPaymentStatus(ctx, req.OrderId)
	if err != nil {
		return nil, s.toStatus(err, "get payment status", req.OrderId)
	}
	if !found {
		return nil, status.Error(codes.NotFound, domain.ErrRegistrationNotFound.Error())
	}
	return &registrationv1.GetPaymentStatusResponse{Registration: toProtoRegistration(reg)}, nil
}

func validateRequest(req any) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	if err := validate.Struct(req); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return status.Error(codes.InvalidArgument, "request is required")
		}
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func (s *RegistrationService) toStatus(err error, operation, orderID string) error {
	code := codeFor(err)
	logger := s.logger.WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
		"code":      code.String(),
	}).WithError(err)

	switch code {
	case codes.Internal, codes.Unavailable:
		logger.Error("registration request failed")
		return status.Error(code, operation+" failed")
	default:
		logger.Debug("registration request rejected")
		return status.Error(code, err.Error())
	}
}

// codeFor переводит ошибку домена в gRPC-код.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrEntityIDRequired),
		errors.Is(err, domain.ErrEntityTypeInvalid),
		errors.Is(err, domain.ErrTTLTooLong),
		errors.Is(err, domain.ErrInvalidPayload):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrRegistrationNotFound),
		errors.Is(err, domain.ErrNoPendingRegistration),
		errors.Is(err, domain.ErrPaymentNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrRegistrationExists):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrRegistrationExpired),
		errors.Is(err, domain.ErrLinkConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		return codes.FailedPrecondition
	case domain.IsPersistenceFailure(err):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func toProtoRegistration(reg domain.PendingRegistration) *registrationv1.Registration {
	return &registrationv1.Registration{
		OrderId:            reg.OrderID,
		IntendedEntityType: string(reg.IntendedEntityType),
		Status:             string(reg.Status),
		LinkedEntityId:     reg.LinkedEntityID,
		CreatedAt:          reg.CreatedAt,
		UpdatedAt:          reg.UpdatedAt,
		ExpiresAt:          reg.ExpiresAt,
	}
}
