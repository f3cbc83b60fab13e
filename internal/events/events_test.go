package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	customerID string
	alertType  string
	riskScore  int
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []call
	errs  []error // returned in order, then nil
}

func (f *fakeIngester) CreateAlert(_ context.Context, customerID, alertType string, riskScore int) (*domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{customerID, alertType, riskScore})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return domain.NewAlert(customerID, alertType, riskScore), nil
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, msg.Offset) }
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "sar.alerts" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return int64(len(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func message(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "sar.alerts", Offset: offset, Value: []byte(value)}
}

func TestConsumeClaim_IngestsAndMarksEveryMessage(t *testing.T) {
	ingester := &fakeIngester{}
	h := newAlertConsumerHandler(ingester, zap.NewNop())

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- message(0, `{"customer_id":"CUST-1001","alert_type":"Rapid Movement","risk_score":80}`)
	claim.messages <- message(1, `not json`)
	claim.messages <- message(2, `{"customer_id":"CUST-1002","alert_type":"Velocity","risk_score":55}`)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{0, 1, 2}, session.marked, "malformed messages are skipped, not redelivered")
	assert.Equal(t, []call{
		{"CUST-1001", "Rapid Movement", 80},
		{"CUST-1002", "Velocity", 55},
	}, ingester.calls)
}

func TestProcessMessage_RetriesTransientErrors(t *testing.T) {
	ingester := &fakeIngester{errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	h := newAlertConsumerHandler(ingester, zap.NewNop())
	h.retryDelay = time.Millisecond

	h.processMessage(context.Background(), message(7, `{"customer_id":"CUST-1001","alert_type":"Rapid Movement","risk_score":80}`))
	assert.Len(t, ingester.calls, 3)
}

func TestProcessMessage_GivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("database unavailable")
	ingester := &fakeIngester{errs: []error{boom, boom, boom, boom}}
	h := newAlertConsumerHandler(ingester, zap.NewNop())
	h.retryDelay = time.Millisecond

	h.processMessage(context.Background(), message(7, `{"customer_id":"CUST-1001","alert_type":"Rapid Movement","risk_score":80}`))
	assert.Len(t, ingester.calls, maxRetries)
}

func TestProcessMessage_DropsInvalidAlerts(t *testing.T) {
	ingester := &fakeIngester{errs: []error{domain.NewValidationError("risk_score", "risk score must be between 0 and 100")}}
	h := newAlertConsumerHandler(ingester, zap.NewNop())
	h.retryDelay = time.Millisecond

	h.processMessage(context.Background(), message(3, `{"customer_id":"CUST-1001","alert_type":"Rapid Movement","risk_score":900}`))
	assert.Len(t, ingester.calls, 1, "validation failures are not retried")
}

func TestCaseEventPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := newCaseEventPublisher(producer, "sar.case-events")

	c := &domain.Case{
		ID:       uuid.New(),
		AlertID:  uuid.New(),
		Status:   domain.CaseStatusSubmitted,
		Typology: domain.TypologyRapidMovement,
	}
	event := domain.NewCaseEvent(domain.EventSARSubmitted, c, "analyst@bank")
	event.SubmissionID = "SAR-1A2B3C4D"

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "sar.case-events", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, c.ID.String(), string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var got domain.CaseEvent
		require.NoError(t, json.Unmarshal(value, &got))
		assert.Equal(t, domain.EventSARSubmitted, got.Type)
		assert.Equal(t, "SAR-1A2B3C4D", got.SubmissionID)
		return nil
	})

	require.NoError(t, publisher.PublishCaseEvent(context.Background(), event))
	require.NoError(t, publisher.Close())
}

func TestCaseEventPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := newCaseEventPublisher(producer, "sar.case-events")
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	c := &domain.Case{ID: uuid.New()}
	err := publisher.PublishCaseEvent(context.Background(), domain.NewCaseEvent(domain.EventCaseOpened, c, "a"))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, publisher.Close())
}

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig(config.KafkaConfig{EnableIdempotent: true})
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.NoError(t, cfg.Validate())
}
