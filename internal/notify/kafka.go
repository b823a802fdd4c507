package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig configura el emisor Kafka.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// KafkaEmitter publica cada evento como JSON con clave = session id,
// así los eventos de una misma sesión caen en la misma partición.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaEmitter abre un SyncProducer contra cfg.Brokers.
func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("notify: kafka brokers and topic are required")
	}
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.DialTimeout = cfg.Timeout
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka producer: %w", err)
	}
	return NewKafkaEmitterWithProducer(p, cfg.Topic), nil
}

// NewKafkaEmitterWithProducer usa un producer ya construido (tests con sarama/mocks).
func NewKafkaEmitterWithProducer(p sarama.SyncProducer, topic string) *KafkaEmitter {
	return &KafkaEmitter{producer: p, topic: topic}
}

func (e *KafkaEmitter) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	}
	if _, _, err := e.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("notify: kafka send: %w", err)
	}
	return nil
}

// Close cierra el producer.
func (e *KafkaEmitter) Close() error { return e.producer.Close() }
