// Package kafka publishes outbox events to a Kafka topic. Two client
// libraries are supported behind Publisher; the choice is configuration.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
)

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

// Publisher delivers one message and returns once the broker has
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

var (
	_ Publisher = (*Producer)(nil)
	_ Publisher = (*SaramaPublisher)(nil)
)

// NewPublisher builds the publisher for driver.
func NewPublisher(driver string, brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	switch strings.ToLower(driver) {
	case DriverKafkaGo:
		return NewProducer(brokers, topic), nil
	case DriverSarama, "":
		return NewSaramaPublisher(brokers, topic, nil)
	default:
		return nil, errors.Newf("kafka: unknown driver %q", driver)
	}
}

// SaramaPublisher publishes through a sarama sync producer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaConfig returns the producer settings used for outbox
// delivery: every replica must acknowledge.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = false
	return cfg
}

// NewSaramaPublisher dials the brokers. cfg may be nil.
func NewSaramaPublisher(brokers []string, topic string, cfg *sarama.Config) (*SaramaPublisher, error) {
	if cfg == nil {
		cfg = NewSaramaConfig()
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka: sarama producer")
	}
	return NewSaramaPublisherFrom(producer, topic), nil
}

// NewSaramaPublisherFrom wraps an existing producer.
func NewSaramaPublisherFrom(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

func (p *SaramaPublisher) Publish(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
