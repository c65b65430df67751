package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
)

func TestPublishSaleEventEncodesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "sale-1" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event model.SaleEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Status != enums.SaleStatusPaymentConfirmed || event.AmountCents != 15000 {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	publisher := NewPublisherWithProducer(producer, "sales.lifecycle", nil)
	err := publisher.PublishSaleEvent(context.Background(), model.SaleEvent{
		SaleID:      "sale-1",
		Status:      enums.SaleStatusPaymentConfirmed,
		AmountCents: 15000,
		Currency:    "BRL",
		OccurredAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishSaleEventReturnsProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewPublisherWithProducer(producer, "sales.lifecycle", nil)
	err := publisher.PublishSaleEvent(context.Background(), model.SaleEvent{SaleID: "sale-1", Status: enums.SaleStatusFailed})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	_ = publisher.Close()
}

func TestNewPublisherValidatesConfig(t *testing.T) {
	if _, err := NewPublisher(Config{Topic: "t"}, nil); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
	if _, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	if _, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "t", Version: "not-a-version"}, nil); err == nil {
		t.Fatalf("expected error for bad version")
	}
}
