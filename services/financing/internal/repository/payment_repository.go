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

// BalanceTotals (학생, 노트북) 조합의 결제 상태별 합계
type BalanceTotals struct {
	Settled decimal.Decimal
	Held    decimal.Decimal
}

// PaymentRepository 결제 레포지토리 인터페이스
type PaymentRepository interface {
	Create(ctx context.Context, q Querier, payment *domain.Payment) error
	FindByCheckoutIDForUpdate(ctx context.Context, q Querier, checkoutID string) (*domain.Payment, error)
	UpdateResult(ctx context.Context, q Querier, payment *domain.Payment) (bool, error)
	Totals(ctx context.Context, q Querier, studentID, laptopID uuid.UUID) (BalanceTotals, error)
	SumSucceeded(ctx context.Context, q Querier) (decimal.Decimal, error)
	FindLatestByStudent(ctx context.Context, q Querier, studentID uuid.UUID) (*domain.PaymentView, error)
	ListAll(ctx context.Context, q Querier) ([]*domain.PaymentView, error)
	ListByStudent(ctx context.Context, q Querier, studentID uuid.UUID) ([]*domain.PaymentView, error)
}

type paymentRepository struct{}

// NewPaymentRepository 결제 레포지토리 생성
func NewPaymentRepository() PaymentRepository {
	return &paymentRepository{}
}

const paymentColumns = `id, student_id, laptop_id, total_price, remaining_after, amount, method, phone_number,
	status, checkout_id, merchant_request_id, result_code, result_desc, receipt_number, created_at, updated_at`

// Create 결제 생성. checkout_id가 중복되면 ErrDuplicate
func (r *paymentRepository) Create(ctx context.Context, q Querier, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, student_id, laptop_id, total_price, remaining_after, amount, method, phone_number,
			status, checkout_id, merchant_request_id, result_desc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := q.ExecContext(ctx, query,
		payment.ID,
		payment.StudentID,
		payment.LaptopID,
		payment.TotalPrice,
		payment.RemainingAfter,
		payment.Amount,
		payment.Method,
		payment.PhoneNumber,
		payment.Status,
		payment.CheckoutID,
		payment.MerchantRequestID,
		payment.ResultDesc,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("checkout id %s: %w", payment.CheckoutID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// FindByCheckoutIDForUpdate 콜백 정산용 행 잠금 조회
func (r *paymentRepository) FindByCheckoutIDForUpdate(ctx context.Context, q Querier, checkoutID string) (*domain.Payment, error) {
	return r.findOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE checkout_id = $1 FOR UPDATE`, checkoutID)
}

func (r *paymentRepository) findOne(ctx context.Context, q Querier, query string, checkoutID string) (*domain.Payment, error) {
	payment, err := scanPayment(q.QueryRowContext(ctx, query, checkoutID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", checkoutID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return payment, nil
}

// UpdateResult 대기 중인 결제만 종결 상태로 갱신. 이미 종결됐으면 false
func (r *paymentRepository) UpdateResult(ctx context.Context, q Querier, payment *domain.Payment) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, result_code = $2, result_desc = $3, receipt_number = $4, updated_at = $5
		WHERE id = $6 AND status = 'Pending'
	`

	var resultCode sql.NullInt64
	if payment.ResultCode != nil {
		resultCode = sql.NullInt64{Int64: int64(*payment.ResultCode), Valid: true}
	}

	result, err := q.ExecContext(ctx, query,
		payment.Status,
		resultCode,
		payment.ResultDesc,
		payment.ReceiptNumber,
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment result: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Totals 성공 합계와 대기 중 합계
func (r *paymentRepository) Totals(ctx context.Context, q Querier, studentID, laptopID uuid.UUID) (BalanceTotals, error) {
	query := `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status = 'Success'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'Pending'), 0)
		FROM payments
		WHERE student_id = $1 AND laptop_id = $2
	`

	var settled, held decimal.NullDecimal
	if err := q.QueryRowContext(ctx, query, studentID, laptopID).Scan(&settled, &held); err != nil {
		return BalanceTotals{}, fmt.Errorf("failed to sum payments: %w", err)
	}
	return BalanceTotals{Settled: decimalOrZero(settled), Held: decimalOrZero(held)}, nil
}

// SumSucceeded 전체 확정 매출
func (r *paymentRepository) SumSucceeded(ctx context.Context, q Querier) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'Success'`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return decimalOrZero(total), nil
}

const paymentViewQuery = `
	SELECT p.id, p.student_id, p.laptop_id, p.total_price, p.remaining_after, p.amount, p.method, p.phone_number,
	       p.status, p.checkout_id, p.merchant_request_id, p.result_code, p.result_desc, p.receipt_number,
	       p.created_at, p.updated_at,
	       COALESCE(s.name, ''), COALESCE(s.email, ''),
	       COALESCE(l.model, ''), COALESCE(l.brand, ''), l.price
	FROM payments p
	LEFT JOIN students s ON s.id = p.student_id
	LEFT JOIN laptops l ON l.id = p.laptop_id
`

// FindLatestByStudent 학생의 가장 최근 결제
func (r *paymentRepository) FindLatestByStudent(ctx context.Context, q Querier, studentID uuid.UUID) (*domain.PaymentView, error) {
	views, err := r.queryViews(ctx, q,
		paymentViewQuery+` WHERE p.student_id = $1 ORDER BY p.created_at DESC LIMIT 1`, studentID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("payments of student %s: %w", studentID, ErrNotFound)
	}
	return views[0], nil
}

// ListAll 전체 결제 목록 (최신순)
func (r *paymentRepository) ListAll(ctx context.Context, q Querier) ([]*domain.PaymentView, error) {
	return r.queryViews(ctx, q, paymentViewQuery+` ORDER BY p.created_at DESC`)
}

// ListByStudent 학생 본인의 결제 목록 (최신순)
func (r *paymentRepository) ListByStudent(ctx context.Context, q Querier, studentID uuid.UUID) ([]*domain.PaymentView, error) {
	return r.queryViews(ctx, q, paymentViewQuery+` WHERE p.student_id = $1 ORDER BY p.created_at DESC`, studentID)
}

func (r *paymentRepository) queryViews(ctx context.Context, q Querier, query string, args ...any) ([]*domain.PaymentView, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var views []*domain.PaymentView
	for rows.Next() {
		v := &domain.PaymentView{}
		var price decimal.NullDecimal
		payment, err := scanPayment(rows,
			&v.Student.Name,
			&v.Student.Email,
			&v.Laptop.Model,
			&v.Laptop.Brand,
			&price,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		v.Payment = *payment
		v.Student.ID = payment.StudentID
		v.Laptop.ID = payment.LaptopID
		v.Laptop.Price = decimalOrZero(price)
		views = append(views, v)
	}
	return views, rows.Err()
}

func scanPayment(row rowScanner, extra ...any) (*domain.Payment, error) {
	p := &domain.Payment{}
	var totalPrice, remaining, amount decimal.NullDecimal
	var resultCode sql.NullInt64

	dest := []any{
		&p.ID,
		&p.StudentID,
		&p.LaptopID,
		&totalPrice,
		&remaining,
		&amount,
		&p.Method,
		&p.PhoneNumber,
		&p.Status,
		&p.CheckoutID,
		&p.MerchantRequestID,
		&resultCode,
		&p.ResultDesc,
		&p.ReceiptNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	p.TotalPrice = decimalOrZero(totalPrice)
	p.RemainingAfter = decimalOrZero(remaining)
	p.Amount = decimalOrZero(amount)
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}
	return p, nil
}
