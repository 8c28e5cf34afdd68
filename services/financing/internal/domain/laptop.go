package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LaptopStatus 노트북 재고 상태
type LaptopStatus string

const (
	LaptopStatusAvailable  LaptopStatus = "Available"
	LaptopStatusOutOfStock LaptopStatus = "OutOfStock"
)

// Laptop 할부 대상 노트북
type Laptop struct {
	ID               uuid.UUID
	Model            string
	Brand            string
	Size             string
	SubscriptionType string
	Features         string
	Price            decimal.Decimal
	Status           LaptopStatus
	CreatedAt        time.Time
}

// IsAvailable 신청 가능한 상태인지 확인
func (l *Laptop) IsAvailable() bool {
	return l.Status == LaptopStatusAvailable
}

// Summary 목록 응답용 요약
func (l *Laptop) Summary() LaptopSummary {
	return LaptopSummary{
		ID:    l.ID,
		Model: l.Model,
		Brand: l.Brand,
		Price: l.Price,
	}
}

// LaptopSummary 신청/결제 목록에 붙는 노트북 요약
type LaptopSummary struct {
	ID    uuid.UUID       `json:"id"`
	Model string          `json:"model"`
	Brand string          `json:"brand"`
	Price decimal.Decimal `json:"price"`
}

// StudentSummary 관리자 목록에 붙는 학생 요약
type StudentSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// InventorySummary 관리자 대시보드용 재고/매출 집계
type InventorySummary struct {
	Total      int             `json:"total"`
	Available  int             `json:"available"`
	OutOfStock int             `json:"outOfStock"`
	Revenue    decimal.Decimal `json:"revenue"`
}
