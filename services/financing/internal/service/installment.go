package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

var suggestedRate = decimal.NewFromFloat(0.10)

// Balance (학생, 노트북) 할부 잔액
//
// Owed는 확정(Success) 결제만 뺀 실제 미납액이다. Available은 응답을 기다리는
// Pending 결제까지 뺀 금액으로, 새 결제 요청은 이 값을 넘을 수 없다.
// Failed/Cancelled 시도는 어느 쪽에도 반영되지 않는다.
type Balance struct {
	Total     decimal.Decimal
	Settled   decimal.Decimal
	Held      decimal.Decimal
	Owed      decimal.Decimal
	Available decimal.Decimal
}

// InstallmentLedger 결제 이력 위의 잔액 계산 계층
type InstallmentLedger interface {
	RemainingBalance(ctx context.Context, q repository.Querier, studentID, laptopID uuid.UUID, totalPrice decimal.Decimal) (Balance, error)
}

type installmentLedger struct {
	paymentRepo repository.PaymentRepository
}

// NewInstallmentLedger 할부 원장 생성
func NewInstallmentLedger(paymentRepo repository.PaymentRepository) InstallmentLedger {
	return &installmentLedger{paymentRepo: paymentRepo}
}

// RemainingBalance 결제 이력이 없으면 totalPrice 그대로
func (l *installmentLedger) RemainingBalance(
	ctx context.Context,
	q repository.Querier,
	studentID, laptopID uuid.UUID,
	totalPrice decimal.Decimal,
) (Balance, error) {
	totals, err := l.paymentRepo.Totals(ctx, q, studentID, laptopID)
	if err != nil {
		return Balance{}, errors.Wrap(errors.ErrCodeDatabaseError, "failed to load payment totals", err)
	}

	owed := nonNegative(totalPrice.Sub(totals.Settled))
	return Balance{
		Total:     totalPrice,
		Settled:   totals.Settled,
		Held:      totals.Held,
		Owed:      owed,
		Available: nonNegative(owed.Sub(totals.Held)),
	}, nil
}

// SuggestedInstallment 잔액의 10% (소수 둘째 자리), 잔액을 넘지 않는다
func SuggestedInstallment(remaining decimal.Decimal) decimal.Decimal {
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	suggestion := remaining.Mul(suggestedRate).Round(2)
	if suggestion.GreaterThan(remaining) {
		return remaining
	}
	return suggestion
}

// ValidateRequestedAmount 요청 금액 검증
func ValidateRequestedAmount(requested, remaining decimal.Decimal) error {
	if !requested.IsPositive() {
		return errors.New(errors.ErrCodeInvalidAmount, "amount must be a positive number")
	}
	if requested.GreaterThan(remaining) {
		return errors.Newf(errors.ErrCodeExceedsBalance,
			"amount %s exceeds remaining balance %s", requested.StringFixed(2), remaining.StringFixed(2))
	}
	return nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
