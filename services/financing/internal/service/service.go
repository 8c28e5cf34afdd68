package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/common/events"
	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

var tracer = otel.Tracer("financing-service")

const (
	aggregateApplication = "application"
	aggregatePayment     = "payment"
)

// parseID 외부에서 받은 식별자 형식 검증
func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrap(errors.ErrCodeInvalidReference, "invalid "+what+" id", err)
	}
	return id, nil
}

func requireAdmin(p domain.Principal) error {
	if !p.IsAdmin() {
		return errors.New(errors.ErrCodeForbidden, "admin role required")
	}
	return nil
}

func requireStudent(p domain.Principal) error {
	if !p.IsStudent() || p.ID == uuid.Nil {
		return errors.New(errors.ErrCodeForbidden, "student role required")
	}
	return nil
}

// asDomainError 도메인 에러는 그대로, 나머지는 DB 에러로 감싼다
func asDomainError(err error, message string) error {
	if err == nil {
		return nil
	}
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return err
	}
	return errors.Wrap(errors.ErrCodeDatabaseError, message, err)
}

func newBaseEvent(eventType events.EventType, correlationID string, now time.Time) events.BaseEvent {
	return events.BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: 1,
		OccurredAt:    now,
		CorrelationID: correlationID,
	}
}

// enqueue 이벤트를 상태 변경과 같은 트랜잭션의 Outbox에 기록
func enqueue(
	ctx context.Context,
	q repository.Querier,
	outbox repository.OutboxRepository,
	aggregateType string,
	aggregateID string,
	eventType events.EventType,
	event any,
	now time.Time,
) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	err = outbox.Insert(ctx, q, &repository.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       payload,
		Status:        repository.OutboxStatusPending,
		CreatedAt:     now,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}
	return nil
}
