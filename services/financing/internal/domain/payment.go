package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusSuccess   PaymentStatus = "Success"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusCancelled PaymentStatus = "Cancelled"
)

// PaymentMethodMpesa 유일하게 지원하는 푸시 결제 수단
const PaymentMethodMpesa = "MPESA"

// ResultCodeSuccess 제공자 콜백의 성공 코드
const ResultCodeSuccess = 0

// Payment 할부 1회 결제 시도
type Payment struct {
	ID                uuid.UUID
	StudentID         uuid.UUID
	LaptopID          uuid.UUID
	TotalPrice        decimal.Decimal
	RemainingAfter    decimal.Decimal
	Amount            decimal.Decimal
	Method            string
	PhoneNumber       string
	Status            PaymentStatus
	CheckoutID        string
	MerchantRequestID string
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal 종결 상태인지 확인
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}

// Settle 제공자 결과로 종결. 이미 종결된 결제는 변경하지 않고 false 반환
func (p *Payment) Settle(resultCode int, resultDesc, receiptNumber string, now time.Time) bool {
	if p.IsTerminal() {
		return false
	}
	if resultCode == ResultCodeSuccess {
		p.Status = PaymentStatusSuccess
		p.ReceiptNumber = receiptNumber
	} else {
		p.Status = PaymentStatusFailed
	}
	code := resultCode
	p.ResultCode = &code
	p.ResultDesc = resultDesc
	p.UpdatedAt = now
	return true
}

// Cancel 사용자 취소. 취소는 최종 상태이며 늦게 도착한 콜백으로 되살리지 않는다
func (p *Payment) Cancel(now time.Time) bool {
	if p.IsTerminal() {
		return false
	}
	p.Status = PaymentStatusCancelled
	p.ResultDesc = "cancelled by user"
	p.UpdatedAt = now
	return true
}

// PaymentView 학생/노트북 요약이 붙은 결제
type PaymentView struct {
	Payment
	Student StudentSummary
	Laptop  LaptopSummary
}

// PaymentStatusView 폴링용 최신 결제 상태
type PaymentStatusView struct {
	Status           PaymentStatus   `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	CheckoutID       string          `json:"checkoutRequestId"`
	Description      string          `json:"description"`
}
