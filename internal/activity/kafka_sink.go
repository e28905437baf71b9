package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/toolhub/hubauth/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaSink struct {
	writer messageWriter
}

func createKafkaSink(deps SinkDeps) (Sink, error) {
	cfg := deps.Config.Kafka
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka activity sink needs brokers and topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &kafkaSink{writer: writer}, nil
}

// Entries are keyed by user so one user's events stay ordered on a
// partition. Anonymous entries share the "anonymous" key.
func buildMessage(entry *model.ActivityLog) (kafka.Message, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return kafka.Message{}, err
	}
	key := "anonymous"
	if entry.UserID != nil {
		key = strconv.FormatInt(*entry.UserID, 10)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Unix(entry.CreatedAt, 0),
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}, nil
}

func (s *kafkaSink) Write(ctx context.Context, entry *model.ActivityLog) error {
	msg, err := buildMessage(entry)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
