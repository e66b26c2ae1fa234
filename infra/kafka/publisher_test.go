package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaPublisherSendsValue(t *testing.T) {
	mp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "event-1" {
			return errors.Newf("unexpected value %q", val)
		}
		return nil
	})

	p := NewSaramaPublisherFrom(mp, "events")
	require.NoError(t, p.Publish(context.Background(), []byte("BTC-USD"), []byte("event-1")))
	require.NoError(t, p.Close())
}

func TestSaramaPublisherReportsBrokerError(t *testing.T) {
	mp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	mp.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	p := NewSaramaPublisherFrom(mp, "events")
	err := p.Publish(context.Background(), nil, []byte("x"))
	assert.True(t, errors.Is(err, sarama.ErrNotEnoughReplicas))
	require.NoError(t, p.Close())
}

func TestSaramaPublisherHonoursCanceledContext(t *testing.T) {
	mp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	p := NewSaramaPublisherFrom(mp, "events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, nil, []byte("x")), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(DriverSarama, nil, "events")
	assert.Error(t, err)

	_, err = NewPublisher("rabbit", []string{"localhost:9092"}, "events")
	assert.Error(t, err)

	p, err := NewPublisher(DriverKafkaGo, []string{"localhost:9092"}, "events")
	require.NoError(t, err)
	assert.IsType(t, &Producer{}, p)
	assert.NoError(t, p.Close())
}
