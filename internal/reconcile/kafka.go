package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaQueue hands jobs to a Kafka topic so that any instance can finish
// them, even after the sender's instance restarts.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	apply  Applier
	log    *zap.Logger
}

func NewKafkaQueue(brokers []string, topic, groupID string, apply Applier, log *zap.Logger) *KafkaQueue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaQueue{writer: w, reader: r, apply: apply, log: log}
}

// Enqueue keys by chat id so one chat's jobs stay on one partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.Message.ChatID),
		Value: b,
		Time:  time.Now(),
	})
}

// Run consumes jobs until ctx is done. Offsets are committed only after a job
// is applied, so a crash replays it; the applier is idempotent.
func (q *KafkaQueue) Run(ctx context.Context) {
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("kafka fetch", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			q.log.Error("kafka: dropping malformed job", zap.ByteString("key", m.Key), zap.Error(err))
		} else if err := applyUntilDone(ctx, q.apply, job, 10*time.Second); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			q.log.Error("kafka: giving up on message effects",
				zap.String("message_id", job.Message.ID), zap.Error(err))
		}

		if err := q.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			q.log.Warn("kafka commit", zap.Error(err))
		}
	}
}

func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	return errors.Join(werr, rerr)
}
