package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
	"go.uber.org/zap"
)

const maxRetries = 3

// AlertIngester registers alerts raised by upstream monitoring
type AlertIngester interface {
	CreateAlert(ctx context.Context, customerID, alertType string, riskScore int) (*domain.Alert, error)
}

// AlertConsumer turns messages on the alert topic into open alerts
type AlertConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       *alertConsumerHandler
	topics        []string
	logger        *zap.Logger
}

func NewAlertConsumer(cfg config.KafkaConfig, ingester AlertIngester, logger *zap.Logger) (*AlertConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &AlertConsumer{
		consumerGroup: consumerGroup,
		handler:       newAlertConsumerHandler(ingester, logger),
		topics:        []string{cfg.AlertTopic},
		logger:        logger,
	}, nil
}

// Start consumes until ctx is cancelled
func (c *AlertConsumer) Start(ctx context.Context) error {
	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
			c.logger.Error("Error from consumer", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second): // Retry backoff
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *AlertConsumer) Close() error {
	return c.consumerGroup.Close()
}

// alertMessage is the wire format of the alert topic
type alertMessage struct {
	CustomerID string `json:"customer_id"`
	AlertType  string `json:"alert_type"`
	RiskScore  int    `json:"risk_score"`
}

type alertConsumerHandler struct {
	ingester   AlertIngester
	logger     *zap.Logger
	retryDelay time.Duration
}

func newAlertConsumerHandler(ingester AlertIngester, logger *zap.Logger) *alertConsumerHandler {
	return &alertConsumerHandler{ingester: ingester, logger: logger, retryDelay: time.Second}
}

func (h *alertConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *alertConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *alertConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.processMessage(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

// processMessage ingests one alert. Malformed and invalid messages are
// dropped; store failures are retried with a linear backoff.
func (h *alertConsumerHandler) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	var m alertMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		h.logger.Error("Failed to unmarshal alert", zap.Int64("offset", msg.Offset), zap.Error(err))
		return // Skip malformed
	}

	for i := 0; i < maxRetries; i++ {
		alert, err := h.ingester.CreateAlert(ctx, m.CustomerID, m.AlertType, m.RiskScore)
		if err == nil {
			h.logger.Debug("Alert ingested",
				zap.String("alert_id", alert.ID.String()),
				zap.Int64("offset", msg.Offset),
			)
			return
		}
		if domain.IsValidation(err) {
			h.logger.Warn("Dropping invalid alert", zap.Int64("offset", msg.Offset), zap.Error(err))
			return
		}
		h.logger.Error("Failed to ingest alert",
			zap.String("topic", msg.Topic),
			zap.Error(err),
			zap.Int("retry", i+1),
		)
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(i+1) * h.retryDelay):
			}
		}
	}
	h.logger.Error("Dropping alert after retries",
		zap.String("customer_id", m.CustomerID),
		zap.Int64("offset", msg.Offset),
	)
}
