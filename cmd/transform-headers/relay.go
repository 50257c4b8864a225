package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bhatti/transform-headers/transformheaders"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Transform Kafka record headers between two topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			config, err := loadPolicyConfig(viper.GetString("policy"))
			if err != nil {
				return err
			}
			policy := transformheaders.NewPolicy(config,
				transformheaders.WithAPIID(viper.GetString("api_id")),
				transformheaders.WithLogger(logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, policy, logger)
		},
	}

	cmd.Flags().StringSlice("brokers", []string{"localhost:9092"}, "Kafka bootstrap brokers")
	cmd.Flags().String("group", "transform-headers", "consumer group id")
	cmd.Flags().String("source-topic", "", "topic to consume")
	cmd.Flags().String("sink-topic", "", "topic to produce transformed records to")

	_ = viper.BindPFlag("relay.brokers", cmd.Flags().Lookup("brokers"))
	_ = viper.BindPFlag("relay.group", cmd.Flags().Lookup("group"))
	_ = viper.BindPFlag("relay.source_topic", cmd.Flags().Lookup("source-topic"))
	_ = viper.BindPFlag("relay.sink_topic", cmd.Flags().Lookup("sink-topic"))
	return cmd
}

func runRelay(ctx context.Context, policy *transformheaders.Policy, logger logrus.FieldLogger) error {
	source, sink := viper.GetString("relay.source_topic"), viper.GetString("relay.sink_topic")
	if source == "" || sink == "" {
		return errors.New("source-topic and sink-topic are required")
	}
	brokers := viper.GetStringSlice("relay.brokers")

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("creating producer: %w", err)
	}
	defer producer.Close()

	group, err := sarama.NewConsumerGroup(brokers, viper.GetString("relay.group"), cfg)
	if err != nil {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.WithError(err).Warn("Consumer group error")
		}
	}()

	handler := &relayHandler{policy: policy, producer: producer, sink: sink, logger: logger}
	logger.WithFields(logrus.Fields{"source": source, "sink": sink}).Info("Relay started")
	for {
		if err := group.Consume(ctx, []string{source}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// relayHandler is a sarama.ConsumerGroupHandler forwarding transformed records
type relayHandler struct {
	policy   *transformheaders.Policy
	producer sarama.SyncProducer
	sink     string
	logger   logrus.FieldLogger
}

func (h *relayHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *relayHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *relayHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.relay(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// relay transforms msg and produces it to the sink topic. Records whose
// transformation fails are logged and skipped. Produce errors and
// cancellation are returned so the record is not marked.
func (h *relayHandler) relay(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if err := h.policy.OnKafkaMessage(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var failure *transformheaders.KafkaFailure
		if errors.As(err, &failure) {
			h.logger.WithFields(logrus.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).WithError(err).Warn("Record interrupted, skipped")
			return nil
		}
		return err
	}

	_, _, err := h.producer.SendMessage(forward(msg, h.sink))
	if err != nil {
		return fmt.Errorf("producing to %s: %w", h.sink, err)
	}
	return nil
}

// forward builds the sink record for msg
func forward(msg *sarama.ConsumerMessage, topic string) *sarama.ProducerMessage {
	out := &sarama.ProducerMessage{
		Topic:     topic,
		Timestamp: msg.Timestamp,
	}
	if msg.Key != nil {
		out.Key = sarama.ByteEncoder(msg.Key)
	}
	if msg.Value != nil {
		out.Value = sarama.ByteEncoder(msg.Value)
	}
	for _, h := range msg.Headers {
		if h != nil {
			out.Headers = append(out.Headers, *h)
		}
	}
	return out
}
