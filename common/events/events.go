package events

import "time"

// EventType 이벤트 타입 정의 (Kafka 토픽 이름으로도 사용)
type EventType string

const (
	// Application Events
	EventApplicationSubmitted EventType = "application.submitted.v1"
	EventApplicationDecided   EventType = "application.decided.v1"

	// Payment Events
	EventPaymentSucceeded EventType = "payment.succeeded.v1"
	EventPaymentFailed    EventType = "payment.failed.v1"
)

// AllTopics 알림 서비스가 구독하는 전체 토픽
func AllTopics() []string {
	return []string{
		string(EventApplicationSubmitted),
		string(EventApplicationDecided),
		string(EventPaymentSucceeded),
		string(EventPaymentFailed),
	}
}

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"`
}

// ApplicationSubmittedEvent 신청 접수 이벤트
type ApplicationSubmittedEvent struct {
	BaseEvent
	ApplicationID string `json:"applicationId"`
	StudentID     string `json:"studentId"`
	LaptopID      string `json:"laptopId"`
	LaptopModel   string `json:"laptopModel"`
	LaptopBrand   string `json:"laptopBrand"`
	Price         string `json:"price"`
}

// ApplicationDecidedEvent 신청 승인/거절 이벤트
type ApplicationDecidedEvent struct {
	BaseEvent
	ApplicationID string `json:"applicationId"`
	StudentID     string `json:"studentId"`
	LaptopID      string `json:"laptopId"`
	LaptopModel   string `json:"laptopModel"`
	Status        string `json:"status"`
}

// PaymentSucceededEvent 할부 결제 성공 이벤트
type PaymentSucceededEvent struct {
	BaseEvent
	PaymentID        string `json:"paymentId"`
	StudentID        string `json:"studentId"`
	Amount           string `json:"amount"`
	LaptopModel      string `json:"laptopModel"`
	RemainingBalance string `json:"remainingBalance"`
	ReceiptNumber    string `json:"receiptNumber"`
}

// PaymentFailedEvent 할부 결제 실패 이벤트
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID   string `json:"paymentId"`
	StudentID   string `json:"studentId"`
	Amount      string `json:"amount"`
	LaptopModel string `json:"laptopModel"`
	Reason      string `json:"reason"`
}
