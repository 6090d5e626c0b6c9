package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"PPChat/logger"
	"PPChat/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Retries     int
	Compression string // none/snappy/lz4/zstd
}

// KafkaSink publishes MessageEvent keyed by chat guid, so one chat stays on one partition.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

func BuildProducerConfig(c KafkaConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewKafkaSink(c KafkaConfig) (*KafkaSink, error) {
	p, err := sarama.NewSyncProducer(c.Brokers, BuildProducerConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka sync producer", "brokers", strings.Join(c.Brokers, ","))
	}
	return NewKafkaSinkWithProducer(c.Topic, p), nil
}

func NewKafkaSinkWithProducer(topic string, p sarama.SyncProducer) *KafkaSink {
	return &KafkaSink{topic: topic, producer: p}
}

func (k *KafkaSink) Emit(_ context.Context, ev MessageEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal message event")
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.ChatGUID),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", k.topic, "chat_guid", ev.ChatGUID)
	}
	logger.Debug("message event sent",
		zap.String("topic", k.topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (k *KafkaSink) Close() error { return k.producer.Close() }
