package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func TestKafkaPublisher_PublishSetsKeyAndEventTypeHeader(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		carrier := headerCarrier(msg.Headers)
		if carrier.Get(headerEventType) != "payment.failed.v1" {
			return stderrors.New("missing event-type header")
		}
		key, _ := msg.Key.Encode()
		if string(key) != "student-1" {
			return stderrors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var decoded map[string]string
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded["reason"] != "insufficient funds" {
			return stderrors.New("unexpected payload")
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, zaptest.NewLogger(t))
	err := p.Publish(context.Background(), "payment.failed.v1", "student-1", map[string]string{"reason": "insufficient funds"})

	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, zaptest.NewLogger(t))
	err := p.Publish(context.Background(), "payment.failed.v1", "", json.RawMessage(`{}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	propagator := propagation.TraceContext{}
	carrier := headerCarrier{{Key: []byte(headerEventType), Value: []byte("payment.succeeded.v1")}}
	propagator.Inject(ctx, &carrier)

	assert.Contains(t, carrier.Keys(), "traceparent")
	assert.Equal(t, "payment.succeeded.v1", carrier.Get(headerEventType))

	extracted := trace.SpanContextFromContext(propagator.Extract(context.Background(), &carrier))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}
