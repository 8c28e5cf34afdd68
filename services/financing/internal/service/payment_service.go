package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/common/events"
	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/provider"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

// initiateLockTTL 제공자 호출 타임아웃보다 길어야 한다
const initiateLockTTL = 60 * time.Second

// Locker (학생, 노트북) 단위 결제 시작 직렬화용 락. Release는 획득 시 받은 토큰의 소유자만 성공한다
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// InitiatePaymentCommand 결제 시작 커맨드
type InitiatePaymentCommand struct {
	LaptopID    string
	PhoneNumber string
	Amount      decimal.Decimal
}

// InitiatePaymentResult 결제 시작 결과
type InitiatePaymentResult struct {
	Payment              *domain.Payment
	CustomerMessage      string
	SuggestedInstallment decimal.Decimal
}

// CallbackResult 제공자 콜백에서 추출한 정산 입력
type CallbackResult struct {
	CheckoutID    string
	ResultCode    int
	ResultDesc    string
	ReceiptNumber string
}

// PaymentService 결제 정산 서비스 인터페이스
type PaymentService interface {
	Initiate(ctx context.Context, principal domain.Principal, cmd InitiatePaymentCommand) (*InitiatePaymentResult, error)
	Reconcile(ctx context.Context, cb CallbackResult) (*domain.Payment, error)
	Cancel(ctx context.Context, principal domain.Principal, checkoutID string) (*domain.Payment, error)
	CurrentStatus(ctx context.Context, principal domain.Principal) (*domain.PaymentStatusView, error)
	ListAll(ctx context.Context, principal domain.Principal) ([]*domain.PaymentView, error)
	ListForStudent(ctx context.Context, principal domain.Principal) ([]*domain.PaymentView, error)
}

type paymentService struct {
	txm         repository.TxManager
	paymentRepo repository.PaymentRepository
	laptopRepo  repository.LaptopRepository
	appRepo     repository.ApplicationRepository
	outboxRepo  repository.OutboxRepository
	ledger      InstallmentLedger
	provider    provider.Client
	locker      Locker
	logger      *zap.Logger
}

// NewPaymentService 결제 서비스 생성
func NewPaymentService(
	txm repository.TxManager,
	paymentRepo repository.PaymentRepository,
	laptopRepo repository.LaptopRepository,
	appRepo repository.ApplicationRepository,
	outboxRepo repository.OutboxRepository,
	ledger InstallmentLedger,
	client provider.Client,
	locker Locker,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		txm:         txm,
		paymentRepo: paymentRepo,
		laptopRepo:  laptopRepo,
		appRepo:     appRepo,
		outboxRepo:  outboxRepo,
		ledger:      ledger,
		provider:    client,
		locker:      locker,
		logger:      logger,
	}
}

func initiateLockKey(studentID, laptopID uuid.UUID) string {
	return fmt.Sprintf("initiate:%s:%s", studentID, laptopID)
}

// Initiate 제공자 호출이 성공한 뒤에만 Pending 결제를 기록한다
func (s *paymentService) Initiate(ctx context.Context, principal domain.Principal, cmd InitiatePaymentCommand) (*InitiatePaymentResult, error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Initiate")
	defer span.End()

	if err := requireStudent(principal); err != nil {
		return nil, err
	}
	laptopID, err := parseID(cmd.LaptopID, "laptop")
	if err != nil {
		return nil, err
	}
	phone, err := provider.NormalizePhone(cmd.PhoneNumber)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, "invalid phone number", err)
	}
	span.SetAttributes(
		attribute.String("student.id", principal.ID.String()),
		attribute.String("laptop.id", laptopID.String()))

	// 같은 (학생, 노트북)의 동시 시작은 잔액 검증부터 기록까지 직렬화한다
	key := initiateLockKey(principal.ID, laptopID)
	lockToken, acquired, err := s.locker.Acquire(ctx, key, initiateLockTTL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkError, "failed to acquire payment lock", err)
	}
	if !acquired {
		return nil, errors.New(errors.ErrCodeConflict, "another payment for this laptop is being started")
	}
	defer func() {
		released, err := s.locker.Release(context.WithoutCancel(ctx), key, lockToken)
		if err != nil {
			s.logger.Warn("failed to release payment lock", zap.String("key", key), zap.Error(err))
		} else if !released {
			s.logger.Warn("payment lock expired before release", zap.String("key", key))
		}
	}()

	db := s.txm.DB()
	laptop, err := s.laptopRepo.FindByID(ctx, db, laptopID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, "laptop not found", err)
		}
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load laptop", err)
	}

	balance, err := s.ledger.RemainingBalance(ctx, db, principal.ID, laptopID, laptop.Price)
	if err != nil {
		return nil, err
	}
	if err := ValidateRequestedAmount(cmd.Amount, balance.Available); err != nil {
		return nil, err
	}
	if !cmd.Amount.Equal(cmd.Amount.Truncate(0)) {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "mobile money payments must be whole amounts")
	}

	pushed, err := s.provider.Push(ctx, provider.PushRequest{
		PhoneNumber:      phone,
		Amount:           cmd.Amount,
		AccountReference: accountReference(laptop),
		Description:      "Laptop installment",
	})
	if err != nil {
		span.RecordError(err)
		paymentTransitionsTotal.WithLabelValues("provider_error").Inc()
		s.logger.Error("payment provider call failed",
			zap.String("studentId", principal.ID.String()),
			zap.String("laptopId", laptopID.String()),
			zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeProviderUnavailable, "payment could not be started", err)
	}

	now := time.Now()
	remainingAfter := nonNegative(balance.Available.Sub(cmd.Amount))
	payment := &domain.Payment{
		ID:                uuid.New(),
		StudentID:         principal.ID,
		LaptopID:          laptopID,
		TotalPrice:        laptop.Price,
		RemainingAfter:    remainingAfter,
		Amount:            cmd.Amount,
		Method:            domain.PaymentMethodMpesa,
		PhoneNumber:       phone,
		Status:            domain.PaymentStatusPending,
		CheckoutID:        pushed.CheckoutRequestID,
		MerchantRequestID: pushed.MerchantRequestID,
		ResultDesc:        pushed.ResponseDescription,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.paymentRepo.Create(ctx, db, payment); err != nil {
		// 제공자 쪽 거래는 이미 시작됐으므로 추적할 수 있게 남긴다
		s.logger.Error("failed to record started payment",
			zap.String("checkoutId", payment.CheckoutID),
			zap.String("studentId", principal.ID.String()),
			zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to record payment", err)
	}

	paymentTransitionsTotal.WithLabelValues(string(domain.PaymentStatusPending)).Inc()
	s.logger.Info("payment initiated",
		zap.String("paymentId", payment.ID.String()),
		zap.String("checkoutId", payment.CheckoutID),
		zap.String("studentId", principal.ID.String()),
		zap.String("laptopId", laptopID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("remainingAfter", remainingAfter.StringFixed(2)))

	return &InitiatePaymentResult{
		Payment:              payment,
		CustomerMessage:      pushed.CustomerMessage,
		SuggestedInstallment: SuggestedInstallment(remainingAfter),
	}, nil
}

func accountReference(laptop *domain.Laptop) string {
	ref := strings.TrimSpace(laptop.Brand + " " + laptop.Model)
	// 제공자 AccountReference 최대 12자. 멀티바이트 문자를 자르지 않도록 rune 단위로 자른다
	if r := []rune(ref); len(r) > 12 {
		ref = strings.TrimSpace(string(r[:12]))
	}
	if ref == "" {
		ref = "LAPTOP"
	}
	return ref
}

// Reconcile 콜백 정산. 모르는 checkout id와 이미 종결된 결제는 변경 없이 성공 처리한다
func (s *paymentService) Reconcile(ctx context.Context, cb CallbackResult) (*domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Reconcile")
	defer span.End()

	if strings.TrimSpace(cb.CheckoutID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "checkout id is required")
	}
	span.SetAttributes(
		attribute.String("payment.checkout_id", cb.CheckoutID),
		attribute.Int("payment.result_code", cb.ResultCode))

	var (
		settled *domain.Payment
		changed bool
	)
	now := time.Now()
	err := s.txm.WithinTx(ctx, func(tx repository.Querier) error {
		payment, err := s.paymentRepo.FindByCheckoutIDForUpdate(ctx, tx, cb.CheckoutID)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load payment", err)
		}
		settled = payment

		if !payment.Settle(cb.ResultCode, cb.ResultDesc, cb.ReceiptNumber, now) {
			return nil
		}
		ok, err := s.paymentRepo.UpdateResult(ctx, tx, payment)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update payment", err)
		}
		if !ok {
			return nil
		}
		changed = true

		model := ""
		if laptop, err := s.laptopRepo.FindByID(ctx, tx, payment.LaptopID); err == nil {
			model = laptop.Model
		}

		if payment.Status == domain.PaymentStatusSuccess {
			if err := s.appRepo.AddAmountPaid(ctx, tx, payment.StudentID, payment.LaptopID, payment.Amount); err != nil {
				return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update amount paid", err)
			}
			balance, err := s.ledger.RemainingBalance(ctx, tx, payment.StudentID, payment.LaptopID, payment.TotalPrice)
			if err != nil {
				return err
			}
			event := events.PaymentSucceededEvent{
				BaseEvent:        newBaseEvent(events.EventPaymentSucceeded, payment.CheckoutID, now),
				PaymentID:        payment.ID.String(),
				StudentID:        payment.StudentID.String(),
				Amount:           payment.Amount.StringFixed(2),
				LaptopModel:      model,
				RemainingBalance: balance.Owed.StringFixed(2),
				ReceiptNumber:    payment.ReceiptNumber,
			}
			return enqueue(ctx, tx, s.outboxRepo, aggregatePayment, payment.StudentID.String(),
				events.EventPaymentSucceeded, event, now)
		}

		event := events.PaymentFailedEvent{
			BaseEvent:   newBaseEvent(events.EventPaymentFailed, payment.CheckoutID, now),
			PaymentID:   payment.ID.String(),
			StudentID:   payment.StudentID.String(),
			Amount:      payment.Amount.StringFixed(2),
			LaptopModel: model,
			Reason:      payment.ResultDesc,
		}
		return enqueue(ctx, tx, s.outboxRepo, aggregatePayment, payment.StudentID.String(),
			events.EventPaymentFailed, event, now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, asDomainError(err, "failed to reconcile payment")
	}

	switch {
	case settled == nil:
		s.logger.Warn("callback for unknown checkout id ignored", zap.String("checkoutId", cb.CheckoutID))
	case !changed:
		s.logger.Info("duplicate callback ignored",
			zap.String("checkoutId", cb.CheckoutID),
			zap.String("status", string(settled.Status)))
	default:
		paymentTransitionsTotal.WithLabelValues(string(settled.Status)).Inc()
		s.logger.Info("payment reconciled",
			zap.String("checkoutId", cb.CheckoutID),
			zap.String("status", string(settled.Status)),
			zap.Int("resultCode", cb.ResultCode))
	}
	return settled, nil
}

// Cancel 학생이 대기 중인 결제를 취소. 취소는 최종 상태다
func (s *paymentService) Cancel(ctx context.Context, principal domain.Principal, checkoutID string) (*domain.Payment, error) {
	if err := requireStudent(principal); err != nil {
		return nil, err
	}
	if strings.TrimSpace(checkoutID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "checkout id is required")
	}

	var cancelled *domain.Payment
	err := s.txm.WithinTx(ctx, func(tx repository.Querier) error {
		payment, err := s.paymentRepo.FindByCheckoutIDForUpdate(ctx, tx, checkoutID)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return errors.Wrap(errors.ErrCodeNotFound, "payment not found", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load payment", err)
		}
		if payment.StudentID != principal.ID {
			return errors.New(errors.ErrCodeNotFound, "payment not found")
		}
		if !payment.Cancel(time.Now()) {
			return errors.Newf(errors.ErrCodeConflict, "payment is already %s", payment.Status)
		}
		if _, err := s.paymentRepo.UpdateResult(ctx, tx, payment); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to cancel payment", err)
		}
		cancelled = payment
		return nil
	})
	if err != nil {
		return nil, asDomainError(err, "failed to cancel payment")
	}

	paymentTransitionsTotal.WithLabelValues(string(domain.PaymentStatusCancelled)).Inc()
	s.logger.Info("payment cancelled",
		zap.String("checkoutId", checkoutID),
		zap.String("studentId", principal.ID.String()))
	return cancelled, nil
}

// CurrentStatus 폴링용 최신 결제 상태. 잔액은 확정 결제 기준의 실제 미납액이다
func (s *paymentService) CurrentStatus(ctx context.Context, principal domain.Principal) (*domain.PaymentStatusView, error) {
	if err := requireStudent(principal); err != nil {
		return nil, err
	}

	db := s.txm.DB()
	latest, err := s.paymentRepo.FindLatestByStudent(ctx, db, principal.ID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, "no payments found", err)
		}
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load payment", err)
	}

	balance, err := s.ledger.RemainingBalance(ctx, db, principal.ID, latest.LaptopID, latest.TotalPrice)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentStatusView{
		Status:           latest.Status,
		Amount:           latest.Amount,
		RemainingBalance: balance.Owed,
		CheckoutID:       latest.CheckoutID,
		Description:      latest.ResultDesc,
	}, nil
}

// ListAll 관리자용 전체 결제 목록
func (s *paymentService) ListAll(ctx context.Context, principal domain.Principal) ([]*domain.PaymentView, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	views, err := s.paymentRepo.ListAll(ctx, s.txm.DB())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list payments", err)
	}
	return views, nil
}

// ListForStudent 학생 본인의 결제 목록
func (s *paymentService) ListForStudent(ctx context.Context, principal domain.Principal) ([]*domain.PaymentView, error) {
	if err := requireStudent(principal); err != nil {
		return nil, err
	}

	views, err := s.paymentRepo.ListByStudent(ctx, s.txm.DB(), principal.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list payments", err)
	}
	return views, nil
}
