package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "CAMPUSMART_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	dlqTopic    string
	outboxTopic string
	eventType   string
	orderID     string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type replayPublisher interface {
	Replay(msg kafka.ReplayMessage) error
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaSource) Close() error { return s.consumer.Close() }

// connect открывает клиент и consumer; producer нужен только в режиме -execute.
var connect = func(cfg config) (offsetClient, partitionSource, replayPublisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "campusmart-dlq-replay"
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaSource{consumer: consumer}, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, "")
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, saramaSource{consumer: consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&cfg.outboxTopic, "outbox-topic", kafka.TopicOrderEvents, "topic for replayed outbox records")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only this event type")
	fs.StringVar(&cfg.orderID, "order", "", "replay only events of this order")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of DLQ records to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish records; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest records of every partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = splitBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.dlqTopic) == "":
		return config{}, errors.New("dlq-topic is required")
	case strings.TrimSpace(cfg.outboxTopic) == "":
		return config{}, errors.New("outbox-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// summary — итог прогона.
type summary struct {
	scanned  int
	replayed int
	filtered int
	invalid  int
}

func (s *summary) add(other summary) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.filtered += other.filtered
	s.invalid += other.invalid
}

func run(ctx context.Context, cfg config) (summary, error) {
	client, source, publisher, err := connect(cfg)
	if err != nil {
		return summary{}, err
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
		_ = source.Close()
		_ = client.Close()
	}()

	r := &replayer{cfg: cfg, client: client, source: source, publisher: publisher, logger: log.WithField("dlq_topic", cfg.dlqTopic)}
	return r.run(ctx)
}

type replayer struct {
	cfg       config
	client    offsetClient
	source    partitionSource
	publisher replayPublisher
	logger    *log.Entry
}

func (r *replayer) run(ctx context.Context) (summary, error) {
	if r.cfg.execute && r.publisher == nil {
		return summary{}, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.dlqTopic)
	if err != nil {
		return summary{}, fmt.Errorf("list partitions of %s: %w", r.cfg.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total summary
	for _, partition := range partitions {
		if total.scanned >= r.cfg.limit {
			break
		}
		part, err := r.scanPartition(ctx, partition, r.cfg.limit-total.scanned)
		total.add(part)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"filtered": total.filtered,
		"invalid":  total.invalid,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, limit int) (summary, error) {
	var stats summary

	oldest, err := r.client.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	reader, err := r.source.ConsumePartition(r.cfg.dlqTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumeErr := <-reader.Errors():
			if consumeErr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.scanned++
			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *summary) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := kafka.DecodeDLQMessage(msg.Value, r.cfg.outboxTopic)
	if err != nil {
		stats.invalid++
		entry.WithError(err).Warn("skip undecodable dlq record")
		return nil
	}
	if !r.matches(replay) {
		stats.filtered++
		return nil
	}

	entry = entry.WithFields(log.Fields{
		"target_topic": replay.Topic,
		"event_type":   replay.EventType,
		"order_id":     replay.AggregateID,
		"fail_reason":  replay.FailReason,
	})
	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		stats.replayed++
		return nil
	}
	if err := r.publisher.Replay(replay); err != nil {
		return fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	entry.Info("dlq record replayed")
	stats.replayed++
	return nil
}

func (r *replayer) matches(msg kafka.ReplayMessage) bool {
	if r.cfg.eventType != "" && msg.EventType != r.cfg.eventType {
		return false
	}
	if r.cfg.orderID != "" && msg.AggregateID != r.cfg.orderID {
		return false
	}
	return true
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
