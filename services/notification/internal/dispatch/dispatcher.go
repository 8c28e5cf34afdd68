package dispatch

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Kind 알림 종류
type Kind string

const (
	KindPaymentSucceeded     Kind = "payment_succeeded"
	KindPaymentFailed        Kind = "payment_failed"
	KindApplicationSubmitted Kind = "application_submitted"
	KindApplicationDecided   Kind = "application_decided"
)

// Notification 학생에게 보낼 알림 한 건
type Notification struct {
	EventID   string
	Kind      Kind
	StudentID string
	Subject   string
	Body      string
}

// Dispatcher 알림 전달 채널
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Total number of notifications handed to a dispatcher",
	},
	[]string{"kind", "result"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// Record 전달 결과 집계
func Record(kind Kind, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(string(kind), result).Inc()
}

// LogDispatcher 알림을 구조화 로그로 남기는 기본 구현
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher 로그 기반 전달자 생성
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch 알림 기록
func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.logger.Info("notification dispatched",
		zap.String("eventId", n.EventID),
		zap.String("kind", string(n.Kind)),
		zap.String("studentId", n.StudentID),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body))
	return nil
}
