package main

import (
	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
)

func logEntry() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return log.NewEntry(logger)
}

type stubOffsetClient struct {
	newest        map[int32]int64
	partitionsErr error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if marker == sarama.OffsetOldest {
		return 0, nil
	}
	return s.newest[partition], nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	partitions := make([]int32, 0, len(s.newest))
	for p := range s.newest {
		partitions = append(partitions, p)
	}
	return partitions, nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

// stubSource отдаёт сообщения партиции из начального смещения.
// open оставляет канал открытым, чтобы сработал idle timeout.
type stubSource struct {
	messages map[int32][]*sarama.ConsumerMessage
	open     bool
}

func (s *stubSource) ConsumePartition(_ string, partition int32, offset int64) (partitionReader, error) {
	msgs := s.messages[partition]
	if offset > 0 && int(offset) <= len(msgs) {
		msgs = msgs[offset:]
	}
	reader := &stubReader{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range msgs {
		reader.messages <- msg
	}
	if !s.open {
		close(reader.messages)
	}
	return reader, nil
}

func (s *stubSource) Close() error { return nil }

type stubReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (r *stubReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *stubReader) Errors() <-chan *sarama.ConsumerError     { return r.errors }
func (r *stubReader) Close() error                             { return nil }

type stubPublisher struct {
	sent []kafka.ReplayMessage
	err  error
}

func (p *stubPublisher) Replay(msg kafka.ReplayMessage) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *stubPublisher) Close() error { return nil }
