package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
)

// LaptopRepository 노트북 레포지토리 인터페이스
type LaptopRepository interface {
	Create(ctx context.Context, q Querier, laptop *domain.Laptop) error
	FindByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Laptop, error)
	FindByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*domain.Laptop, error)
	CompareAndSetStatus(ctx context.Context, q Querier, id uuid.UUID, from, to domain.LaptopStatus) (bool, error)
	SetStatus(ctx context.Context, q Querier, id uuid.UUID, status domain.LaptopStatus) (bool, error)
	ListByStatus(ctx context.Context, q Querier, status domain.LaptopStatus) ([]*domain.Laptop, error)
	CountByStatus(ctx context.Context, q Querier) (map[domain.LaptopStatus]int, error)
}

type laptopRepository struct{}

// NewLaptopRepository 노트북 레포지토리 생성
func NewLaptopRepository() LaptopRepository {
	return &laptopRepository{}
}

const laptopColumns = `id, model, brand, size, subscription_type, features, price, status, created_at`

// Create 노트북 등록
func (r *laptopRepository) Create(ctx context.Context, q Querier, laptop *domain.Laptop) error {
	query := `
		INSERT INTO laptops (id, model, brand, size, subscription_type, features, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := q.ExecContext(ctx, query,
		laptop.ID,
		laptop.Model,
		laptop.Brand,
		laptop.Size,
		laptop.SubscriptionType,
		laptop.Features,
		laptop.Price,
		laptop.Status,
		laptop.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("laptop %s: %w", laptop.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create laptop: %w", err)
	}
	return nil
}

// FindByID ID로 노트북 조회
func (r *laptopRepository) FindByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Laptop, error) {
	return r.findOne(ctx, q, `SELECT `+laptopColumns+` FROM laptops WHERE id = $1`, id)
}

// FindByIDForUpdate 트랜잭션 안에서 행 잠금과 함께 조회
func (r *laptopRepository) FindByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*domain.Laptop, error) {
	return r.findOne(ctx, q, `SELECT `+laptopColumns+` FROM laptops WHERE id = $1 FOR UPDATE`, id)
}

func (r *laptopRepository) findOne(ctx context.Context, q Querier, query string, id uuid.UUID) (*domain.Laptop, error) {
	laptop, err := scanLaptop(q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("laptop %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find laptop: %w", err)
	}
	return laptop, nil
}

// CompareAndSetStatus 현재 상태가 from일 때만 to로 변경
func (r *laptopRepository) CompareAndSetStatus(ctx context.Context, q Querier, id uuid.UUID, from, to domain.LaptopStatus) (bool, error) {
	query := `UPDATE laptops SET status = $1 WHERE id = $2 AND status = $3`

	result, err := q.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update laptop status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetStatus 조건 없이 상태 변경. 대상이 없으면 false
func (r *laptopRepository) SetStatus(ctx context.Context, q Querier, id uuid.UUID, status domain.LaptopStatus) (bool, error) {
	result, err := q.ExecContext(ctx, `UPDATE laptops SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return false, fmt.Errorf("failed to update laptop status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByStatus 상태별 노트북 목록 (최신순)
func (r *laptopRepository) ListByStatus(ctx context.Context, q Querier, status domain.LaptopStatus) ([]*domain.Laptop, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+laptopColumns+` FROM laptops WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list laptops: %w", err)
	}
	defer rows.Close()

	var laptops []*domain.Laptop
	for rows.Next() {
		laptop, err := scanLaptop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan laptop: %w", err)
		}
		laptops = append(laptops, laptop)
	}
	return laptops, rows.Err()
}

// CountByStatus 상태별 재고 수
func (r *laptopRepository) CountByStatus(ctx context.Context, q Querier) (map[domain.LaptopStatus]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM laptops GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count laptops: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LaptopStatus]int)
	for rows.Next() {
		var status domain.LaptopStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan laptop count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLaptop(row rowScanner) (*domain.Laptop, error) {
	laptop := &domain.Laptop{}
	var price decimal.NullDecimal
	err := row.Scan(
		&laptop.ID,
		&laptop.Model,
		&laptop.Brand,
		&laptop.Size,
		&laptop.SubscriptionType,
		&laptop.Features,
		&price,
		&laptop.Status,
		&laptop.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	laptop.Price = decimalOrZero(price)
	return laptop, nil
}
