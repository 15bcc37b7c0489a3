// Package kafka 提供了与 Kafka 消息队列交互的功能：埋点事件的生产与批量归档消费。
package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"health-coach-go/internal/config"
	"health-coach-go/pkg/log"
)

// Producer 向固定主题写入消息。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一条消息，key 用于分区。
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// BatchArchiver 接收一批原始消息体并持久化。
type BatchArchiver interface {
	Archive(ctx context.Context, batch [][]byte) error
}

// MessageReader 是 kafka.Reader 中消费者用到的子集。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader 创建带消费组的 Reader。
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}

// BatchConsumer 累积消息，达到 batchSize 或 flushInterval 到期时整体归档，归档成功后提交 offset。
type BatchConsumer struct {
	reader        MessageReader
	archiver      BatchArchiver
	batchSize     int
	flushInterval time.Duration
}

// NewBatchConsumer 创建批量消费者。
func NewBatchConsumer(reader MessageReader, archiver BatchArchiver, batchSize int, flushInterval time.Duration) *BatchConsumer {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &BatchConsumer{reader: reader, archiver: archiver, batchSize: batchSize, flushInterval: flushInterval}
}

// Run 阻塞消费直到 ctx 取消。退出前会尝试归档剩余消息，并关闭 reader，调用方无需再关闭。
func (c *BatchConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	var pending []kafka.Message
	deadline := time.Now().Add(c.flushInterval)

	// failed 为 true 表示上一次归档失败，pending 里的批次仍待重试
	var failed bool
	flush := func(fctx context.Context) {
		if len(pending) == 0 {
			return
		}
		batch := make([][]byte, len(pending))
		for i, m := range pending {
			batch[i] = m.Value
		}
		if err := c.archiver.Archive(fctx, batch); err != nil {
			// 不提交 offset，下次重启后从上次提交处重新消费
			log.Errorf("归档 %d 条埋点事件失败: %v", len(batch), err)
			failed = true
			return
		}
		failed = false
		if err := c.reader.CommitMessages(fctx, pending...); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
		log.Infof("已归档 %d 条埋点事件", len(batch))
		pending = pending[:0]
	}

	for {
		// 归档持续失败时暂停拉取，pending 最多保留一个批次
		if failed && len(pending) >= c.batchSize {
			timer := time.NewTimer(time.Until(deadline))
			select {
			case <-ctx.Done():
				timer.Stop()
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
				flush(shutdownCtx)
				cancelShutdown()
				return nil
			case <-timer.C:
			}
			flush(ctx)
			deadline = time.Now().Add(c.flushInterval)
			continue
		}

		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		m, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			pending = append(pending, m)
			if len(pending) >= c.batchSize {
				flush(ctx)
				deadline = time.Now().Add(c.flushInterval)
			}
		case ctx.Err() != nil:
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancelShutdown()
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			flush(ctx)
			deadline = time.Now().Add(c.flushInterval)
		default:
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
	}
}
