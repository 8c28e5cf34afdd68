package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

// CreateLaptopCommand 노트북 등록 커맨드
type CreateLaptopCommand struct {
	Model            string
	Brand            string
	Size             string
	SubscriptionType string
	Features         string
	Price            decimal.Decimal
}

// InventoryService 재고 서비스 인터페이스
type InventoryService interface {
	// Reserve 신청 생성과 같은 트랜잭션 안에서만 호출해야 한다
	Reserve(ctx context.Context, q repository.Querier, laptopID uuid.UUID) error
	Release(ctx context.Context, q repository.Querier, laptopID uuid.UUID) error
	Get(ctx context.Context, laptopID string) (*domain.Laptop, error)
	Create(ctx context.Context, principal domain.Principal, cmd CreateLaptopCommand) (*domain.Laptop, error)
	ListAvailable(ctx context.Context) ([]*domain.Laptop, error)
	Summary(ctx context.Context, principal domain.Principal) (*domain.InventorySummary, error)
}

type inventoryService struct {
	txm         repository.TxManager
	laptopRepo  repository.LaptopRepository
	paymentRepo repository.PaymentRepository
	logger      *zap.Logger
}

// NewInventoryService 재고 서비스 생성
func NewInventoryService(
	txm repository.TxManager,
	laptopRepo repository.LaptopRepository,
	paymentRepo repository.PaymentRepository,
	logger *zap.Logger,
) InventoryService {
	return &inventoryService{
		txm:         txm,
		laptopRepo:  laptopRepo,
		paymentRepo: paymentRepo,
		logger:      logger,
	}
}

// Reserve Available -> OutOfStock
func (s *inventoryService) Reserve(ctx context.Context, q repository.Querier, laptopID uuid.UUID) error {
	laptop, err := s.laptopRepo.FindByIDForUpdate(ctx, q, laptopID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return errors.Wrap(errors.ErrCodeNotFound, "laptop not found", err)
		}
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load laptop", err)
	}
	if !laptop.IsAvailable() {
		return errors.Newf(errors.ErrCodeConflict, "laptop is %s", laptop.Status)
	}

	ok, err := s.laptopRepo.CompareAndSetStatus(ctx, q, laptopID, domain.LaptopStatusAvailable, domain.LaptopStatusOutOfStock)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to reserve laptop", err)
	}
	if !ok {
		return errors.New(errors.ErrCodeConflict, "laptop was reserved concurrently")
	}

	s.logger.Info("laptop reserved", zap.String("laptopId", laptopID.String()))
	return nil
}

// Release OutOfStock -> Available. 이미 Available이면 아무 일도 하지 않는다
func (s *inventoryService) Release(ctx context.Context, q repository.Querier, laptopID uuid.UUID) error {
	ok, err := s.laptopRepo.SetStatus(ctx, q, laptopID, domain.LaptopStatusAvailable)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to release laptop", err)
	}
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "laptop not found")
	}

	s.logger.Info("laptop released", zap.String("laptopId", laptopID.String()))
	return nil
}

// Get 노트북 조회
func (s *inventoryService) Get(ctx context.Context, laptopID string) (*domain.Laptop, error) {
	id, err := parseID(laptopID, "laptop")
	if err != nil {
		return nil, err
	}

	laptop, err := s.laptopRepo.FindByID(ctx, s.txm.DB(), id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, "laptop not found", err)
		}
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load laptop", err)
	}
	return laptop, nil
}

// Create 관리자 노트북 등록
func (s *inventoryService) Create(ctx context.Context, principal domain.Principal, cmd CreateLaptopCommand) (*domain.Laptop, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Model) == "" || strings.TrimSpace(cmd.Brand) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "model and brand are required")
	}
	if !cmd.Price.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "price must be positive")
	}

	laptop := &domain.Laptop{
		ID:               uuid.New(),
		Model:            strings.TrimSpace(cmd.Model),
		Brand:            strings.TrimSpace(cmd.Brand),
		Size:             cmd.Size,
		SubscriptionType: cmd.SubscriptionType,
		Features:         cmd.Features,
		Price:            cmd.Price.Round(2),
		Status:           domain.LaptopStatusAvailable,
		CreatedAt:        time.Now(),
	}
	if err := s.laptopRepo.Create(ctx, s.txm.DB(), laptop); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to create laptop", err)
	}

	s.logger.Info("laptop created",
		zap.String("laptopId", laptop.ID.String()),
		zap.String("model", laptop.Model),
		zap.String("price", laptop.Price.StringFixed(2)))
	return laptop, nil
}

// ListAvailable 신청 가능한 노트북 목록
func (s *inventoryService) ListAvailable(ctx context.Context) ([]*domain.Laptop, error) {
	laptops, err := s.laptopRepo.ListByStatus(ctx, s.txm.DB(), domain.LaptopStatusAvailable)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list laptops", err)
	}
	return laptops, nil
}

// Summary 재고 현황과 확정 매출
func (s *inventoryService) Summary(ctx context.Context, principal domain.Principal) (*domain.InventorySummary, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	counts, err := s.laptopRepo.CountByStatus(ctx, s.txm.DB())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to count laptops", err)
	}
	revenue, err := s.paymentRepo.SumSucceeded(ctx, s.txm.DB())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to sum revenue", err)
	}

	summary := &domain.InventorySummary{
		Available:  counts[domain.LaptopStatusAvailable],
		OutOfStock: counts[domain.LaptopStatusOutOfStock],
		Revenue:    revenue,
	}
	summary.Total = summary.Available + summary.OutOfStock
	return summary, nil
}
