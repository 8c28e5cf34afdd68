package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplicationStatus 신청 상태
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "Pending"
	ApplicationStatusApproved ApplicationStatus = "Approved"
	ApplicationStatusRejected ApplicationStatus = "Rejected"
)

// ParseDecision 관리자 결정 값 파싱. Approved/Rejected 외에는 false
func ParseDecision(s string) (ApplicationStatus, bool) {
	switch ApplicationStatus(s) {
	case ApplicationStatusApproved, ApplicationStatusRejected:
		return ApplicationStatus(s), true
	}
	return "", false
}

// Application 학생의 노트북 할부 신청
type Application struct {
	ID         uuid.UUID
	StudentID  uuid.UUID
	LaptopID   uuid.UUID
	Year       int
	Status     ApplicationStatus
	AmountPaid decimal.Decimal
	AppliedAt  time.Time
	UpdatedAt  time.Time
}

// IsTerminal 더 이상 전이할 수 없는 상태인지 확인
func (a *Application) IsTerminal() bool {
	return a.Status == ApplicationStatusApproved || a.Status == ApplicationStatusRejected
}

// HoldsLaptop 노트북을 점유하고 있는 신청인지 확인 (대기 또는 승인)
func (a *Application) HoldsLaptop() bool {
	return a.Status == ApplicationStatusPending || a.Status == ApplicationStatusApproved
}

// CanTransitionTo 상태 전이 가능 여부 확인
func (a *Application) CanTransitionTo(newStatus ApplicationStatus) bool {
	return a.Status == ApplicationStatusPending &&
		(newStatus == ApplicationStatusApproved || newStatus == ApplicationStatusRejected)
}

// TransitionTo 상태 전이
func (a *Application) TransitionTo(newStatus ApplicationStatus, now time.Time) bool {
	if !a.CanTransitionTo(newStatus) {
		return false
	}
	a.Status = newStatus
	a.UpdatedAt = now
	return true
}

// ApplicationView 학생/노트북 요약이 붙은 신청
type ApplicationView struct {
	Application
	Student StudentSummary
	Laptop  LaptopSummary
}
