package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/common/events"
	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

// ApplicationService 할부 신청 서비스 인터페이스
type ApplicationService interface {
	Apply(ctx context.Context, principal domain.Principal, laptopID string) (*domain.Application, error)
	Decide(ctx context.Context, principal domain.Principal, applicationID string, decision string) (*domain.ApplicationView, error)
	List(ctx context.Context, principal domain.Principal, status string) ([]*domain.ApplicationView, error)
	ListForStudent(ctx context.Context, principal domain.Principal) ([]*domain.ApplicationView, error)
	Remove(ctx context.Context, principal domain.Principal, applicationID string) error
}

type applicationService struct {
	txm        repository.TxManager
	appRepo    repository.ApplicationRepository
	laptopRepo repository.LaptopRepository
	outboxRepo repository.OutboxRepository
	inventory  InventoryService
	logger     *zap.Logger
}

// NewApplicationService 신청 서비스 생성
func NewApplicationService(
	txm repository.TxManager,
	appRepo repository.ApplicationRepository,
	laptopRepo repository.LaptopRepository,
	outboxRepo repository.OutboxRepository,
	inventory InventoryService,
	logger *zap.Logger,
) ApplicationService {
	return &applicationService{
		txm:        txm,
		appRepo:    appRepo,
		laptopRepo: laptopRepo,
		outboxRepo: outboxRepo,
		inventory:  inventory,
		logger:     logger,
	}
}

// checkEligibility 졸업 학년은 어떤 노트북 상태에서도 신청할 수 없다
func checkEligibility(principal domain.Principal) (int, error) {
	if principal.Year == nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "student year is required")
	}
	year := *principal.Year
	if year == domain.FinalYear {
		return 0, errors.New(errors.ErrCodeIneligible, "final year students cannot apply for financing")
	}
	if year < 1 || year > domain.FinalYear {
		return 0, errors.Newf(errors.ErrCodeInvalidInput, "student year %d out of range", year)
	}
	return year, nil
}

// Apply 신청 생성과 노트북 예약을 하나의 트랜잭션으로 처리
func (s *applicationService) Apply(ctx context.Context, principal domain.Principal, laptopID string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.Apply")
	defer span.End()

	if err := requireStudent(principal); err != nil {
		return nil, err
	}
	year, err := checkEligibility(principal)
	if err != nil {
		return nil, err
	}
	lid, err := parseID(laptopID, "laptop")
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("student.id", principal.ID.String()),
		attribute.String("laptop.id", lid.String()))

	now := time.Now()
	app := &domain.Application{
		ID:        uuid.New(),
		StudentID: principal.ID,
		LaptopID:  lid,
		Year:      year,
		Status:    domain.ApplicationStatusPending,
		AppliedAt: now,
		UpdatedAt: now,
	}

	err = s.txm.WithinTx(ctx, func(tx repository.Querier) error {
		// 노트북 행을 먼저 잠가 같은 노트북에 대한 동시 신청을 직렬화한다
		laptop, err := s.laptopRepo.FindByIDForUpdate(ctx, tx, lid)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return errors.Wrap(errors.ErrCodeNotFound, "laptop not found", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load laptop", err)
		}

		// 본인 신청으로 이미 OutOfStock이 된 경우 Unavailable보다 중복 신청이 먼저다
		pending, err := s.appRepo.ExistsPending(ctx, tx, principal.ID, lid)
		if err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to check pending application", err)
		}
		if pending {
			return errors.New(errors.ErrCodeDuplicatePending, "a pending application already exists for this laptop")
		}
		if !laptop.IsAvailable() {
			return errors.New(errors.ErrCodeUnavailable, "laptop is not available")
		}

		if err := s.appRepo.Create(ctx, tx, app); err != nil {
			if stderrors.Is(err, repository.ErrDuplicate) {
				return errors.Wrap(errors.ErrCodeDuplicatePending, "a pending application already exists for this laptop", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create application", err)
		}

		if err := s.inventory.Reserve(ctx, tx, lid); err != nil {
			if errors.Is(err, errors.ErrCodeConflict) {
				return errors.Wrap(errors.ErrCodeUnavailable, "laptop is not available", err)
			}
			return err
		}

		event := events.ApplicationSubmittedEvent{
			BaseEvent:     newBaseEvent(events.EventApplicationSubmitted, app.ID.String(), now),
			ApplicationID: app.ID.String(),
			StudentID:     app.StudentID.String(),
			LaptopID:      lid.String(),
			LaptopModel:   laptop.Model,
			LaptopBrand:   laptop.Brand,
			Price:         laptop.Price.StringFixed(2),
		}
		return enqueue(ctx, tx, s.outboxRepo, aggregateApplication, app.ID.String(),
			events.EventApplicationSubmitted, event, now)
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("application rejected",
			zap.String("studentId", principal.ID.String()),
			zap.String("laptopId", lid.String()),
			zap.String("code", string(errors.CodeOf(err))),
			zap.Error(err))
		return nil, asDomainError(err, "failed to apply")
	}

	s.logger.Info("application submitted",
		zap.String("applicationId", app.ID.String()),
		zap.String("studentId", app.StudentID.String()),
		zap.String("laptopId", app.LaptopID.String()))
	return app, nil
}

// Decide 관리자 승인/거절. 거절이면 같은 트랜잭션에서 노트북을 반환한다
func (s *applicationService) Decide(ctx context.Context, principal domain.Principal, applicationID string, decision string) (*domain.ApplicationView, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.Decide")
	defer span.End()

	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	status, ok := domain.ParseDecision(decision)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidStatus, "decision must be Approved or Rejected, got %q", decision)
	}
	id, err := parseID(applicationID, "application")
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("application.id", id.String()),
		attribute.String("application.decision", string(status)))

	now := time.Now()
	err = s.txm.WithinTx(ctx, func(tx repository.Querier) error {
		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return errors.Wrap(errors.ErrCodeNotFound, "application not found", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load application", err)
		}

		if !app.TransitionTo(status, now) {
			return errors.Newf(errors.ErrCodeConflict, "application is already %s", app.Status)
		}
		if err := s.appRepo.UpdateStatus(ctx, tx, app.ID, app.Status, app.UpdatedAt); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update application", err)
		}

		if status == domain.ApplicationStatusRejected {
			if err := s.inventory.Release(ctx, tx, app.LaptopID); err != nil {
				return err
			}
		}

		model := ""
		if laptop, err := s.laptopRepo.FindByID(ctx, tx, app.LaptopID); err == nil {
			model = laptop.Model
		}
		event := events.ApplicationDecidedEvent{
			BaseEvent:     newBaseEvent(events.EventApplicationDecided, app.ID.String(), now),
			ApplicationID: app.ID.String(),
			StudentID:     app.StudentID.String(),
			LaptopID:      app.LaptopID.String(),
			LaptopModel:   model,
			Status:        string(app.Status),
		}
		return enqueue(ctx, tx, s.outboxRepo, aggregateApplication, app.ID.String(),
			events.EventApplicationDecided, event, now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, asDomainError(err, "failed to decide application")
	}

	applicationDecisionsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("application decided",
		zap.String("applicationId", id.String()),
		zap.String("status", string(status)))

	view, err := s.appRepo.FindViewByID(ctx, s.txm.DB(), id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load decided application", err)
	}
	return view, nil
}

// List 관리자용 전체 목록. status가 비어 있으면 필터하지 않는다
func (s *applicationService) List(ctx context.Context, principal domain.Principal, status string) ([]*domain.ApplicationView, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	var filter *domain.ApplicationStatus
	if status != "" {
		st := domain.ApplicationStatus(status)
		switch st {
		case domain.ApplicationStatusPending, domain.ApplicationStatusApproved, domain.ApplicationStatusRejected:
			filter = &st
		default:
			return nil, errors.Newf(errors.ErrCodeInvalidStatus, "unknown application status %q", status)
		}
	}

	views, err := s.appRepo.List(ctx, s.txm.DB(), filter)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list applications", err)
	}
	return views, nil
}

// ListForStudent 학생 본인의 신청 목록 (최신순)
func (s *applicationService) ListForStudent(ctx context.Context, principal domain.Principal) ([]*domain.ApplicationView, error) {
	if err := requireStudent(principal); err != nil {
		return nil, err
	}

	views, err := s.appRepo.ListByStudent(ctx, s.txm.DB(), principal.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to list applications", err)
	}
	return views, nil
}

// Remove 관리자 삭제. 노트북을 점유 중인 신청이면 같은 트랜잭션에서 반환한다
func (s *applicationService) Remove(ctx context.Context, principal domain.Principal, applicationID string) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	id, err := parseID(applicationID, "application")
	if err != nil {
		return err
	}

	var released bool
	err = s.txm.WithinTx(ctx, func(tx repository.Querier) error {
		app, err := s.appRepo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return errors.Wrap(errors.ErrCodeNotFound, "application not found", err)
			}
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load application", err)
		}

		if err := s.appRepo.Delete(ctx, tx, id); err != nil {
			return errors.Wrap(errors.ErrCodeDatabaseError, "failed to delete application", err)
		}

		if app.HoldsLaptop() {
			if err := s.inventory.Release(ctx, tx, app.LaptopID); err != nil {
				return err
			}
			released = true
		}
		return nil
	})
	if err != nil {
		return asDomainError(err, "failed to remove application")
	}

	s.logger.Info("application removed",
		zap.String("applicationId", id.String()),
		zap.Bool("laptopReleased", released))
	return nil
}
