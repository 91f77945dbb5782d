package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "orderflow"

// ProducerOption настраивает Producer.
type ProducerOption func(*producerSettings)

type producerSettings struct {
	clientID    string
	compression sarama.CompressionCodec
	logger      *log.Entry
}

// WithClientID задаёт client.id, под которым producer виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(s *producerSettings) {
		if id != "" {
			s.clientID = id
		}
	}
}

// WithCompression задаёт кодек сжатия (по умолчанию snappy).
func WithCompression(codec sarama.CompressionCodec) ProducerOption {
	return func(s *producerSettings) { s.compression = codec }
}

// WithProducerLogger задаёт logger.
func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(s *producerSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func defaultProducerSettings() producerSettings {
	return producerSettings{
		clientID:    defaultClientID,
		compression: sarama.CompressionSnappy,
		logger:      log.WithField("component", "kafka-producer"),
	}
}

// newSaramaConfig собирает конфигурацию идемпотентного sync producer:
// acks=all и одна in-flight заявка на соединение, иначе брокер отклонит idempotent producer.
func newSaramaConfig(s producerSettings) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = s.clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = s.compression
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer — синхронный Kafka producer для событий заказа и DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	settings := defaultProducerSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	producer, err := sarama.NewSyncProducer(brokers, newSaramaConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{producer: producer, logger: settings.logger}, nil
}

// WrapSyncProducer оборачивает готовый sarama.SyncProducer (например, mocks.SyncProducer).
func WrapSyncProducer(producer sarama.SyncProducer, opts ...ProducerOption) *Producer {
	settings := defaultProducerSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return &Producer{producer: producer, logger: settings.logger}
}

// PublishEvent кодирует event в JSON и отправляет через Send.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode kafka event for %s: %w", topic, err)
	}
	return p.Send(ctx, topic, key, value, headers)
}

// Send отправляет сообщение и ждёт подтверждения брокера. SyncProducer не
// принимает ctx, поэтому отмена проверяется только до отправки.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(buildMessage(topic, key, value, headers, time.Now()))
	fields := log.Fields{"topic": topic, "key": key}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka message acknowledged")
	return nil
}

// buildMessage раскладывает заголовки в порядке имён, чтобы сообщения были воспроизводимы.
func buildMessage(topic, key string, value []byte, headers map[string]string, at time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: at,
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
