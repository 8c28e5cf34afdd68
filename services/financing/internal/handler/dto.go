package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
)

// ApplyRequest 할부 신청 요청
type ApplyRequest struct {
	LaptopID string `json:"laptopId" validate:"required"`
}

// DecisionRequest 관리자 결정 요청
type DecisionRequest struct {
	Status string `json:"status" validate:"required"`
}

// CreateLaptopRequest 노트북 등록 요청
type CreateLaptopRequest struct {
	Model            string          `json:"model" validate:"required,max=120"`
	Brand            string          `json:"brand" validate:"required,max=80"`
	Size             string          `json:"size" validate:"max=40"`
	SubscriptionType string          `json:"subscriptionType" validate:"max=40"`
	Features         string          `json:"features" validate:"max=1000"`
	Price            decimal.Decimal `json:"price"`
}

// InitiatePaymentRequest 결제 시작 요청. 금액 규칙은 서비스 계층이 검증한다
type InitiatePaymentRequest struct {
	LaptopID    string          `json:"laptopId" validate:"required"`
	PhoneNumber string          `json:"phoneNumber" validate:"required,min=9,max=16"`
	Amount      decimal.Decimal `json:"amount"`
}

// InitiatePaymentResponse 결제 시작 응답
type InitiatePaymentResponse struct {
	Success              bool            `json:"success"`
	CheckoutRequestID    string          `json:"checkoutRequestId"`
	CustomerMessage      string          `json:"customerMessage"`
	RemainingBalance     decimal.Decimal `json:"remainingBalance"`
	SuggestedInstallment decimal.Decimal `json:"suggestedInstallment"`
}

type laptopResponse struct {
	ID               uuid.UUID           `json:"id"`
	Model            string              `json:"model"`
	Brand            string              `json:"brand"`
	Size             string              `json:"size,omitempty"`
	SubscriptionType string              `json:"subscriptionType,omitempty"`
	Features         string              `json:"features,omitempty"`
	Price            decimal.Decimal     `json:"price"`
	Status           domain.LaptopStatus `json:"status"`
	CreatedAt        time.Time           `json:"createdAt"`
}

func toLaptopResponse(l *domain.Laptop) laptopResponse {
	return laptopResponse{
		ID:               l.ID,
		Model:            l.Model,
		Brand:            l.Brand,
		Size:             l.Size,
		SubscriptionType: l.SubscriptionType,
		Features:         l.Features,
		Price:            l.Price.Round(2),
		Status:           l.Status,
		CreatedAt:        l.CreatedAt,
	}
}

type applicationResponse struct {
	ID         uuid.UUID                `json:"id"`
	StudentID  uuid.UUID                `json:"studentId"`
	LaptopID   uuid.UUID                `json:"laptopId"`
	Year       int                      `json:"year"`
	Status     domain.ApplicationStatus `json:"status"`
	AmountPaid decimal.Decimal          `json:"amountPaid"`
	AppliedAt  time.Time                `json:"appliedAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
	Student    *domain.StudentSummary   `json:"student,omitempty"`
	Laptop     *domain.LaptopSummary    `json:"laptop,omitempty"`
}

func toApplicationResponse(a *domain.Application) applicationResponse {
	return applicationResponse{
		ID:         a.ID,
		StudentID:  a.StudentID,
		LaptopID:   a.LaptopID,
		Year:       a.Year,
		Status:     a.Status,
		AmountPaid: a.AmountPaid.Round(2),
		AppliedAt:  a.AppliedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toApplicationViewResponse(v *domain.ApplicationView) applicationResponse {
	resp := toApplicationResponse(&v.Application)
	student := v.Student
	laptop := v.Laptop
	resp.Student = &student
	resp.Laptop = &laptop
	return resp
}

func toApplicationViewResponses(views []*domain.ApplicationView) []applicationResponse {
	out := make([]applicationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toApplicationViewResponse(v))
	}
	return out
}

type paymentResponse struct {
	ID             uuid.UUID              `json:"id"`
	StudentID      uuid.UUID              `json:"studentId"`
	LaptopID       uuid.UUID              `json:"laptopId"`
	Amount         decimal.Decimal        `json:"amount"`
	TotalPrice     decimal.Decimal        `json:"totalPrice"`
	RemainingAfter decimal.Decimal        `json:"remainingAfter"`
	Method         string                 `json:"method"`
	PhoneNumber    string                 `json:"phoneNumber"`
	Status         domain.PaymentStatus   `json:"status"`
	CheckoutID     string                 `json:"checkoutRequestId"`
	ResultCode     *int                   `json:"resultCode,omitempty"`
	ResultDesc     string                 `json:"resultDesc,omitempty"`
	ReceiptNumber  string                 `json:"receiptNumber,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	Student        *domain.StudentSummary `json:"student,omitempty"`
	Laptop         *domain.LaptopSummary  `json:"laptop,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		StudentID:      p.StudentID,
		LaptopID:       p.LaptopID,
		Amount:         p.Amount.Round(2),
		TotalPrice:     p.TotalPrice.Round(2),
		RemainingAfter: p.RemainingAfter.Round(2),
		Method:         p.Method,
		PhoneNumber:    p.PhoneNumber,
		Status:         p.Status,
		CheckoutID:     p.CheckoutID,
		ResultCode:     p.ResultCode,
		ResultDesc:     p.ResultDesc,
		ReceiptNumber:  p.ReceiptNumber,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toPaymentViewResponses(views []*domain.PaymentView) []paymentResponse {
	out := make([]paymentResponse, 0, len(views))
	for _, v := range views {
		resp := toPaymentResponse(&v.Payment)
		student := v.Student
		laptop := v.Laptop
		resp.Student = &student
		resp.Laptop = &laptop
		out = append(out, resp)
	}
	return out
}

// callbackAck 제공자에게 돌려주는 수신 확인
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var acceptedAck = callbackAck{ResultCode: 0, ResultDesc: "Accepted"}
