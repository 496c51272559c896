package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncode(t *testing.T) {
	b, err := encode("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))
}

func TestTraceHook(t *testing.T) {
	msg := kafka.Message{
		Value:   []byte("payload"),
		Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}},
	}
	ctx, data, err := TraceHook().BeforeHandle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "abc", TraceID(ctx))

	ctx, _, err = TraceHook().BeforeHandle(context.Background(), kafka.Message{})
	require.NoError(t, err)
	assert.Empty(t, TraceID(ctx))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil)
	require.Error(t, err)
}
