package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/google/go-cmp/cmp"
)

func TestKafkaSinkEmit(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	ev := MessageEvent{
		MessageGUID: "m-1",
		ChatGUID:    "c-1",
		ChatID:      7,
		UserGUID:    "u-1",
		Content:     "hi",
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "ppchat.messages" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "c-1" {
			return errors.New("wrong key " + string(key))
		}
		raw, _ := msg.Value.Encode()
		var got MessageEvent
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		if d := cmp.Diff(ev, got); d != "" {
			return errors.New(d)
		}
		return nil
	})

	s := NewKafkaSinkWithProducer("ppchat.messages", p)
	if err := s.Emit(context.Background(), ev); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaSinkEmitError(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	s := NewKafkaSinkWithProducer("t", p)
	if err := s.Emit(context.Background(), MessageEvent{ChatGUID: "c"}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("want ErrOutOfBrokers, got %v", err)
	}
	_ = s.Close()
}

func TestBuildProducerConfig(t *testing.T) {
	cfg := BuildProducerConfig(KafkaConfig{Compression: "LZ4"})
	if cfg.Producer.Compression != sarama.CompressionLZ4 {
		t.Fatalf("compression = %v", cfg.Producer.Compression)
	}
	if cfg.Producer.Retry.Max != 1 {
		t.Fatalf("retries = %d", cfg.Producer.Retry.Max)
	}
}
