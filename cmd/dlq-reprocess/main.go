// Команда dlq-reprocess читает orderflow.dlq и возвращает события в исходный topic.
// По умолчанию работает в dry-run: только перечисляет кандидатов.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "ORDERFLOW_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

// replayPublisher публикует восстановленное событие в указанный topic.
type replayPublisher interface {
	Publish(ctx context.Context, topic string, msg domain.OutboxMessage) error
}

type kafkaReplayPublisher struct {
	producer *kafka.Producer
}

func (p kafkaReplayPublisher) Publish(ctx context.Context, topic string, msg domain.OutboxMessage) error {
	return kafka.NewOutboxPublisher(p.producer, topic).Publish(ctx, msg)
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	client, consumer, publisher, closeFn, err := connect(cfg)
	if err != nil {
		fail("%v", err)
	}
	defer closeFn()

	stats, err := replay(context.Background(), cfg, client, consumer, publisher)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}

	log.WithFields(log.Fields{
		"execute":   cfg.execute,
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for messages without original-topic header")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(brokersEnv)
	}
	for _, b := range strings.Split(brokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.brokers = append(cfg.brokers, b)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}
	return cfg, nil
}

func connect(cfg config) (offsetClient, sarama.Consumer, replayPublisher, func(), error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "orderflow-dlq-reprocess"
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	closeFn := func() {
		_ = consumer.Close()
		_ = client.Close()
	}
	if !cfg.execute {
		return client, consumer, nil, closeFn, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID("orderflow-dlq-reprocess"))
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, err
	}
	return client, consumer, kafkaReplayPublisher{producer: producer}, func() {
		_ = producer.Close()
		closeFn()
	}, nil
}

// replay обходит партиции source topic от самого старого offset до текущего конца.
func replay(ctx context.Context, cfg config, client offsetClient, consumer sarama.Consumer, publisher replayPublisher) (replayStats, error) {
	var total replayStats
	if cfg.execute && publisher == nil {
		return total, fmt.Errorf("publisher is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := replayPartition(ctx, cfg, client, consumer, publisher, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func replayPartition(
	ctx context.Context,
	cfg config,
	client offsetClient,
	consumer sarama.Consumer,
	publisher replayPublisher,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	logger := log.WithFields(log.Fields{"component": "dlq-reprocess", "partition": partition})
	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.processed++
			topic, event, err := restore(msg, cfg.targetTopic)
			if err != nil {
				stats.skipped++
				logger.WithError(err).WithField("offset", msg.Offset).Warn("skip unsupported dlq message")
			} else if cfg.execute {
				if err := publisher.Publish(ctx, topic, event); err != nil {
					return stats, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
				}
				stats.replayed++
			} else {
				stats.replayed++
				logger.WithFields(log.Fields{
					"offset":       msg.Offset,
					"target_topic": topic,
					"event_id":     event.ID,
					"event_type":   event.EventType,
				}).Info("dlq replay candidate")
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// restore достаёт исходное событие и topic назначения из DLQ-сообщения.
func restore(msg *sarama.ConsumerMessage, fallbackTopic string) (string, domain.OutboxMessage, error) {
	dl, err := outbox.DecodeDeadLetter(msg.Value)
	if err != nil {
		return "", domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}

	topic := fallbackTopic
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == kafka.HeaderOriginalTopic && len(h.Value) > 0 {
			topic = string(h.Value)
		}
	}
	return topic, dl.Message(), nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
