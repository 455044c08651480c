// Package events consumes ride-completion events from the dispatch broker
// and feeds them into the accrual engine.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const (
	// DefaultQueue is the broker queue carrying ride.completed events.
	DefaultQueue = "rydrbank.ride.completed"

	maxDialAttempts  = 10
	initialDialDelay = 1 * time.Second
	maxDialDelay     = 30 * time.Second
	prefetchCount    = 10
)

// RideCompletedEvent is the wire payload published by the dispatch service.
type RideCompletedEvent struct {
	AccountID     string  `json:"account_id"`
	RideID        string  `json:"ride_id"`
	DistanceMiles float64 `json:"distance_miles"`
}

// RideRecorder is the slice of the accrual engine the consumer needs.
type RideRecorder interface {
	RecordEligibleRide(ctx context.Context, accountID bank.AccountID, rideID bank.RideID, distanceMiles float64) (bank.AccrualResult, error)
}

// Consumer reads ride-completion events off one queue with manual acks.
type Consumer struct {
	url      string
	queue    string
	recorder RideRecorder
	logger   *zap.Logger
}

// NewConsumer wires a Consumer.
func NewConsumer(url string, queue string, recorder RideRecorder, logger *zap.Logger) (*Consumer, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if recorder == nil {
		return nil, fmt.Errorf("ride recorder is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Consumer{url: url, queue: queue, recorder: recorder, logger: logger}, nil
}

// Run connects with bounded retry and processes deliveries until the
// context is cancelled or the channel closes.
func (consumer *Consumer) Run(ctx context.Context) error {
	conn, channel, err := consumer.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer channel.Close()

	if _, err := channel.QueueDeclare(consumer.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", consumer.queue, err)
	}
	deliveries, err := channel.Consume(consumer.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumer.queue, err)
	}

	consumer.logger.Info("ride event consumer started", zap.String("queue", consumer.queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, open := <-deliveries:
			if !open {
				return errors.New("amqp channel closed")
			}
			consumer.handle(ctx, delivery)
		}
	}
}

// handle decides the ack per delivery: malformed payloads are dropped,
// transient store conflicts are requeued, anything else is processed once.
func (consumer *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	outcome, err := HandleRideEvent(ctx, consumer.recorder, delivery.Body)
	switch outcome {
	case OutcomeProcessed:
		if err := delivery.Ack(false); err != nil {
			consumer.logger.Warn("ack failed", zap.Error(err))
		}
	case OutcomeRequeue:
		consumer.logger.Warn("requeueing ride event", zap.Error(err))
		if err := delivery.Nack(false, true); err != nil {
			consumer.logger.Warn("nack failed", zap.Error(err))
		}
	case OutcomeDrop:
		consumer.logger.Error("dropping ride event", zap.Error(err))
		if err := delivery.Nack(false, false); err != nil {
			consumer.logger.Warn("nack failed", zap.Error(err))
		}
	}
}

// Outcome classifies how a delivery was handled.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeRequeue
	OutcomeDrop
)

// HandleRideEvent decodes and records one ride-completion payload.
func HandleRideEvent(ctx context.Context, recorder RideRecorder, payload []byte) (Outcome, error) {
	var event RideCompletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return OutcomeDrop, fmt.Errorf("decode ride event: %w", err)
	}
	accountID, err := bank.NewAccountID(event.AccountID)
	if err != nil {
		return OutcomeDrop, err
	}
	rideID, err := bank.NewRideID(event.RideID)
	if err != nil {
		return OutcomeDrop, err
	}
	if _, err := recorder.RecordEligibleRide(ctx, accountID, rideID, event.DistanceMiles); err != nil {
		if errors.Is(err, bank.ErrStoreConflict) {
			return OutcomeRequeue, err
		}
		return OutcomeDrop, err
	}
	return OutcomeProcessed, nil
}

func (consumer *Consumer) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	delay := initialDialDelay
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		conn, err := amqp.Dial(consumer.url)
		if err == nil {
			channel, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, nil, fmt.Errorf("open channel: %w", err)
			}
			if err := channel.Qos(prefetchCount, 0, false); err != nil {
				_ = channel.Close()
				_ = conn.Close()
				return nil, nil, fmt.Errorf("set qos: %w", err)
			}
			return conn, channel, nil
		}
		consumer.logger.Warn("amqp dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxDialAttempts),
			zap.Error(err),
		)
		if attempt == maxDialAttempts {
			return nil, nil, fmt.Errorf("connect after %d attempts: %w", maxDialAttempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * 1.5)
			if delay > maxDialDelay {
				delay = maxDialDelay
			}
		}
	}
	return nil, nil, errors.New("unreachable")
}
