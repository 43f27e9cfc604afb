package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// Inbound: trade closures from the trading engine.
	TradeStreamName   = "CHALLENGE_TRADES"
	TradeSubjects     = "challenge.trades.>"
	TradeConsumerName = "eval-trades"

	// Outbound: challenge lifecycle notifications and trading commands.
	EventStreamName   = "CHALLENGE_EVENTS"
	EventSubjects     = "challenge.events.>"
	CommandStreamName = "TRADING_COMMANDS"
	CommandSubjects   = "trading.commands.>"
)

// NATSSubscriber consumes trade-closure messages from JetStream and feeds
// them into the eventChan for the ingest worker pool.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// RawEvent is the parsed-but-untyped message from NATS, ready for the worker
// pool to validate and convert into a typed event before evaluation.
type RawEvent struct {
	Subject string
	Data    []byte
	AckFunc func() // ACK after the event is applied or deliberately dropped
	NakFunc func() // NAK on infrastructure failure (will be redelivered)
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates the durable trade consumer.
// Explicit ACK, max_deliver=5, ack_wait=30s: an event is only ACKed once the
// evaluation cycle committed or classified it a drop, so a crash mid-cycle
// redelivers and the dedup tiers absorb the replay.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, TradeStreamName, jetstream.ConsumerConfig{
		Durable:       TradeConsumerName,
		FilterSubject: TradeSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", TradeConsumerName, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject: msg.Subject(),
			Data:    msg.Data(),
			AckFunc: func() { msg.Ack() },
			NakFunc: func() { msg.Nak() },
		}

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", TradeConsumerName, err)
	}

	ns.consumers = append(ns.consumers, consumerContext)
	ns.log.Info().
		Str("subject", TradeSubjects).
		Str("consumer", TradeConsumerName).
		Msg("subscribed to trade closures")

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates the inbound and outbound JetStream streams if they
// don't exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      TradeStreamName,
			Subjects:  []string{TradeSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStreamName,
			Subjects:  []string{EventSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      CommandStreamName,
			Subjects:  []string{CommandSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
