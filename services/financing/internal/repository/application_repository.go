package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
)

// ApplicationRepository 신청 레포지토리 인터페이스
type ApplicationRepository interface {
	Create(ctx context.Context, q Querier, app *domain.Application) error
	FindByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Application, error)
	FindByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*domain.Application, error)
	ExistsPending(ctx context.Context, q Querier, studentID, laptopID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, status domain.ApplicationStatus, updatedAt time.Time) error
	AddAmountPaid(ctx context.Context, q Querier, studentID, laptopID uuid.UUID, amount decimal.Decimal) error
	Delete(ctx context.Context, q Querier, id uuid.UUID) error
	FindViewByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.ApplicationView, error)
	List(ctx context.Context, q Querier, status *domain.ApplicationStatus) ([]*domain.ApplicationView, error)
	ListByStudent(ctx context.Context, q Querier, studentID uuid.UUID) ([]*domain.ApplicationView, error)
}

type applicationRepository struct{}

// NewApplicationRepository 신청 레포지토리 생성
func NewApplicationRepository() ApplicationRepository {
	return &applicationRepository{}
}

const applicationColumns = `id, student_id, laptop_id, year, status, amount_paid, applied_at, updated_at`

// Create 신청 생성. 같은 (학생, 노트북) 대기 신청이 있으면 ErrDuplicate
func (r *applicationRepository) Create(ctx context.Context, q Querier, app *domain.Application) error {
	query := `
		INSERT INTO applications (id, student_id, laptop_id, year, status, amount_paid, applied_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := q.ExecContext(ctx, query,
		app.ID,
		app.StudentID,
		app.LaptopID,
		app.Year,
		app.Status,
		app.AmountPaid,
		app.AppliedAt,
		app.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pending application for laptop %s: %w", app.LaptopID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// FindByID ID로 신청 조회
func (r *applicationRepository) FindByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Application, error) {
	return r.findOne(ctx, q, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
}

// FindByIDForUpdate 행 잠금과 함께 조회
func (r *applicationRepository) FindByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*domain.Application, error) {
	return r.findOne(ctx, q, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
}

func (r *applicationRepository) findOne(ctx context.Context, q Querier, query string, id uuid.UUID) (*domain.Application, error) {
	app := &domain.Application{}
	var amountPaid decimal.NullDecimal

	err := q.QueryRowContext(ctx, query, id).Scan(
		&app.ID,
		&app.StudentID,
		&app.LaptopID,
		&app.Year,
		&app.Status,
		&amountPaid,
		&app.AppliedAt,
		&app.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find application: %w", err)
	}

	app.AmountPaid = decimalOrZero(amountPaid)
	return app, nil
}

// ExistsPending (학생, 노트북) 조합의 대기 신청 존재 여부
func (r *applicationRepository) ExistsPending(ctx context.Context, q Querier, studentID, laptopID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM applications
			WHERE student_id = $1 AND laptop_id = $2 AND status = 'Pending'
		)
	`

	var exists bool
	if err := q.QueryRowContext(ctx, query, studentID, laptopID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending application: %w", err)
	}
	return exists, nil
}

// UpdateStatus 신청 상태 변경
func (r *applicationRepository) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, status domain.ApplicationStatus, updatedAt time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddAmountPaid 확정된 결제 금액을 신청의 누적 납부액 캐시에 반영
func (r *applicationRepository) AddAmountPaid(ctx context.Context, q Querier, studentID, laptopID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE applications
		SET amount_paid = amount_paid + $1, updated_at = NOW()
		WHERE student_id = $2 AND laptop_id = $3 AND status <> 'Rejected'
	`

	if _, err := q.ExecContext(ctx, query, amount, studentID, laptopID); err != nil {
		return fmt.Errorf("failed to update amount paid: %w", err)
	}
	return nil
}

// Delete 신청 삭제
func (r *applicationRepository) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	result, err := q.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return nil
}

const applicationViewQuery = `
	SELECT a.id, a.student_id, a.laptop_id, a.year, a.status, a.amount_paid, a.applied_at, a.updated_at,
	       COALESCE(s.name, ''), COALESCE(s.email, ''),
	       COALESCE(l.model, ''), COALESCE(l.brand, ''), l.price
	FROM applications a
	LEFT JOIN students s ON s.id = a.student_id
	LEFT JOIN laptops l ON l.id = a.laptop_id
`

// FindViewByID 학생/노트북 요약이 붙은 단건 조회
func (r *applicationRepository) FindViewByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.ApplicationView, error) {
	views, err := r.queryViews(ctx, q, applicationViewQuery+` WHERE a.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return views[0], nil
}

// List 전체 신청 목록. status가 nil이 아니면 상태로 필터
func (r *applicationRepository) List(ctx context.Context, q Querier, status *domain.ApplicationStatus) ([]*domain.ApplicationView, error) {
	if status != nil {
		return r.queryViews(ctx, q, applicationViewQuery+` WHERE a.status = $1 ORDER BY a.applied_at DESC`, *status)
	}
	return r.queryViews(ctx, q, applicationViewQuery+` ORDER BY a.applied_at DESC`)
}

// ListByStudent 학생 본인의 신청 목록 (최신순)
func (r *applicationRepository) ListByStudent(ctx context.Context, q Querier, studentID uuid.UUID) ([]*domain.ApplicationView, error) {
	return r.queryViews(ctx, q, applicationViewQuery+` WHERE a.student_id = $1 ORDER BY a.applied_at DESC`, studentID)
}

func (r *applicationRepository) queryViews(ctx context.Context, q Querier, query string, args ...any) ([]*domain.ApplicationView, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var views []*domain.ApplicationView
	for rows.Next() {
		v := &domain.ApplicationView{}
		var amountPaid, price decimal.NullDecimal
		err := rows.Scan(
			&v.ID,
			&v.StudentID,
			&v.LaptopID,
			&v.Year,
			&v.Status,
			&amountPaid,
			&v.AppliedAt,
			&v.UpdatedAt,
			&v.Student.Name,
			&v.Student.Email,
			&v.Laptop.Model,
			&v.Laptop.Brand,
			&price,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		v.AmountPaid = decimalOrZero(amountPaid)
		v.Student.ID = v.StudentID
		v.Laptop.ID = v.LaptopID
		v.Laptop.Price = decimalOrZero(price)
		views = append(views, v)
	}
	return views, rows.Err()
}
