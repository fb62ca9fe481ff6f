package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// MessageWriter — то, что Producer требует от kafka.Writer (для подмены в тестах).
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer дублирует изменения кейсов в топик Kafka (best-effort, не блокирует API).
// Сообщения уходят в порядке Publish: одна горутина читает очередь.
type Producer struct {
	writer MessageWriter
	queue  chan model.ChangeEvent
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

const queueSize = 256

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

// NewProducerWithWriter starts a producer over an arbitrary writer.
func NewProducerWithWriter(w MessageWriter, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{
		writer: w,
		queue:  make(chan model.ChangeEvent, queueSize),
		logger: logger.With("component", "kafka"),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues e. When the queue is full the event is dropped and
// logged; Kafka is a side channel and must not stall writes.
func (p *Producer) Publish(e model.ChangeEvent) {
	if p.writer == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.logger.Warn("queue full, dropping change event", "kind", e.Kind, "case_id", e.ID)
	}
}

func (p *Producer) run() {
	defer close(p.done)
	for e := range p.queue {
		msg, err := Encode(e)
		if err != nil {
			p.logger.Error("marshal change event", "err", errs.Loggable(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.logger.Error("write change event", "case_id", e.ID, "err", errs.Loggable(err))
		}
		cancel()
	}
}

// Encode builds the Kafka message for e. The key is the case id so every
// change of one case lands in one partition.
func Encode(e model.ChangeEvent) (kafka.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("case." + string(e.Kind))},
		},
	}, nil
}

// Close drains the queue and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
	return p.writer.Close()
}
