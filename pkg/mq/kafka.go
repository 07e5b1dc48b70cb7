// Package mq 提供 Kafka 生产者/消费者封装：JSON 负载、熔断保护、手动提交与死信队列
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/unionfinance/pkg/logger"
)

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	MaxRetries   int
	RetryBackoff time.Duration
}

// KafkaProducer Kafka 生产者，连续失败后熔断，避免拖慢业务请求
type KafkaProducer struct {
	writer  *kafka.Writer
	breaker *gobreaker.CircuitBreaker
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-producer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	logger.Info(context.Background(), "kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer, breaker: breaker}
}

// Publish 发送 JSON 消息
func (kp *KafkaProducer) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: data, Time: time.Now().UTC()}

	_, err = kp.breaker.Execute(func() (any, error) {
		return nil, kp.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		logger.Error(ctx, "failed to send kafka message", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Time      time.Time
}

// UnmarshalPayload 解析 JSON 负载
func (m *Message) UnmarshalPayload(dest any) error {
	return json.Unmarshal(m.Value, dest)
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg *Message) error

// KafkaConsumer Kafka 消费者
type KafkaConsumer struct {
	reader *kafka.Reader
	dlq    *DeadLetterQueue
}

// NewConsumer 创建 Kafka 消费者，dlq 可为空
func NewConsumer(cfg KafkaConfig, topic string, dlq *DeadLetterQueue) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	logger.Info(context.Background(), "kafka consumer created", "topic", topic, "group_id", cfg.GroupID)
	return &KafkaConsumer{reader: reader, dlq: dlq}
}

// Run 循环消费直到 ctx 取消。处理失败的消息进入死信队列后提交
func (kc *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	for {
		km, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		msg := &Message{
			Topic:     km.Topic,
			Partition: km.Partition,
			Offset:    km.Offset,
			Key:       string(km.Key),
			Value:     km.Value,
			Time:      km.Time,
		}
		if herr := handle(ctx, msg); herr != nil {
			logger.Error(ctx, "message handling failed", "topic", msg.Topic, "offset", msg.Offset, "error", herr)
			if kc.dlq != nil {
				if derr := kc.dlq.Send(ctx, msg, herr); derr != nil {
					return derr
				}
			}
		}
		if err := kc.reader.CommitMessages(ctx, km); err != nil {
			return fmt.Errorf("commit offset %d: %w", km.Offset, err)
		}
	}
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	publisher Publisher
	topic     string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(publisher Publisher, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{publisher: publisher, topic: topic}
}

// DeadLetter 死信内容
type DeadLetter struct {
	OriginalTopic  string    `json:"original_topic"`
	OriginalKey    string    `json:"original_key"`
	OriginalValue  string    `json:"original_value"`
	OriginalOffset int64     `json:"original_offset"`
	FailureError   string    `json:"failure_error"`
	FailedAt       time.Time `json:"failed_at"`
}

// Send 发送到死信队列
func (dlq *DeadLetterQueue) Send(ctx context.Context, msg *Message, cause error) error {
	return dlq.publisher.Publish(ctx, dlq.topic, msg.Key, DeadLetter{
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.Key,
		OriginalValue:  string(msg.Value),
		OriginalOffset: msg.Offset,
		FailureError:   cause.Error(),
		FailedAt:       time.Now().UTC(),
	})
}

// MemoryPublisher 内存发布者，未接入 Kafka 时使用
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryPublisher 创建内存发布者
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录消息
func (p *MemoryPublisher) Publish(_ context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Key: key, Value: data, Time: time.Now().UTC()})
	return nil
}

// Messages 已发布消息的副本
func (p *MemoryPublisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
