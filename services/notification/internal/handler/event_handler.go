package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/events"
	"github.com/kyungseok/laptop-financing/common/idempotency"
	"github.com/kyungseok/laptop-financing/common/messaging"
	"github.com/kyungseok/laptop-financing/services/notification/internal/dispatch"
)

// processedTTL 중복 이벤트를 걸러내는 기간
const processedTTL = 24 * time.Hour

// EventHandler 할부 이벤트를 알림으로 바꿔 전달한다
//
// 전달 실패는 기록만 하고 오프셋을 커밋한다. 결제/신청 상태는 이미 확정된 뒤다.
type EventHandler struct {
	dispatcher dispatch.Dispatcher
	idemStore  idempotency.Store
	logger     *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	dispatcher dispatch.Dispatcher,
	idemStore idempotency.Store,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		dispatcher: dispatcher,
		idemStore:  idemStore,
		logger:     logger,
	}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Debug("received message",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset))

	n, err := buildNotification(events.EventType(msg.Topic), msg.Value)
	if err != nil {
		h.logger.Warn("dropping undecodable event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if n == nil {
		h.logger.Warn("unknown event type", zap.String("topic", msg.Topic))
		return nil
	}

	// SETNX로 선점한 소비자만 전달한다. 저장소 장애 시에는 중복 가능성을 감수하고 전달한다
	if n.EventID != "" {
		reserved, err := h.idemStore.Reserve(ctx, n.EventID, processedTTL)
		if err != nil {
			h.logger.Warn("idempotency store unavailable", zap.String("eventId", n.EventID), zap.Error(err))
		} else if !reserved {
			h.logger.Info("event already processed", zap.String("eventId", n.EventID))
			return nil
		}
	}

	err = h.dispatcher.Dispatch(ctx, *n)
	dispatch.Record(n.Kind, err)
	if err != nil {
		h.logger.Error("failed to dispatch notification",
			zap.String("eventId", n.EventID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
	return nil
}

// buildNotification 토픽별 페이로드를 알림으로 변환. 모르는 토픽이면 nil
func buildNotification(eventType events.EventType, payload []byte) (*dispatch.Notification, error) {
	switch eventType {
	case events.EventPaymentSucceeded:
		var evt events.PaymentSucceededEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return &dispatch.Notification{
			EventID:   evt.EventID,
			Kind:      dispatch.KindPaymentSucceeded,
			StudentID: evt.StudentID,
			Subject:   "Payment received",
			Body: fmt.Sprintf("We received KES %s for your %s. Remaining balance: KES %s. Receipt: %s.",
				evt.Amount, evt.LaptopModel, evt.RemainingBalance, evt.ReceiptNumber),
		}, nil

	case events.EventPaymentFailed:
		var evt events.PaymentFailedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return &dispatch.Notification{
			EventID:   evt.EventID,
			Kind:      dispatch.KindPaymentFailed,
			StudentID: evt.StudentID,
			Subject:   "Payment failed",
			Body: fmt.Sprintf("Your payment of KES %s for %s did not go through: %s.",
				evt.Amount, evt.LaptopModel, evt.Reason),
		}, nil

	case events.EventApplicationSubmitted:
		var evt events.ApplicationSubmittedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return &dispatch.Notification{
			EventID:   evt.EventID,
			Kind:      dispatch.KindApplicationSubmitted,
			StudentID: evt.StudentID,
			Subject:   "Application received",
			Body: fmt.Sprintf("Your application for the %s %s (KES %s) is pending review.",
				evt.LaptopBrand, evt.LaptopModel, evt.Price),
		}, nil

	case events.EventApplicationDecided:
		var evt events.ApplicationDecidedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return &dispatch.Notification{
			EventID:   evt.EventID,
			Kind:      dispatch.KindApplicationDecided,
			StudentID: evt.StudentID,
			Subject:   "Application " + evt.Status,
			Body:      fmt.Sprintf("Your application for the %s was %s.", evt.LaptopModel, evt.Status),
		}, nil
	}
	return nil, nil
}
