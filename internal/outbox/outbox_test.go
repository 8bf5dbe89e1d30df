package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/config"
	"foodhub/internal/logger"
	"foodhub/internal/outbox"
	"foodhub/internal/outbox/outboxtest"
	"foodhub/internal/types"
)

type recordingNotifier struct {
	mu    sync.Mutex
	fail  int
	calls []map[string]string
	users []types.ID
}

func (n *recordingNotifier) SendUserNotification(_ context.Context, userID types.ID, _, _ string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail > 0 {
		n.fail--
		return errors.New("push gateway unavailable")
	}
	n.calls = append(n.calls, data)
	n.users = append(n.users, userID)
	return nil
}

func newNotice(t *testing.T, userID types.ID) *outbox.Message {
	t.Helper()
	m, err := outbox.NewUserNotification("ORD-1", outbox.UserNotification{
		UserID: userID,
		Title:  "No delivery partner",
		Body:   "No delivery partner accepted in time",
		Data:   map[string]string{"event": "ORDER_DISPATCH_EXPIRED", "orderId": "ORD-1"},
	}, time.Now())
	require.NoError(t, err)
	return m
}

func TestProcessor_DeliversNotificationOnce(t *testing.T) {
	ctx := context.Background()
	repo := outboxtest.NewMemory()
	n := &recordingNotifier{}
	p := outbox.NewProcessor(repo, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3}, logger.Nop())
	p.Register(outbox.EventUserNotification, outbox.NewNotificationHandler(n))

	msg := newNotice(t, "vendor-user-1")
	require.NoError(t, repo.Enqueue(ctx, msg))

	done, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	done, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, done)

	require.Len(t, n.calls, 1)
	assert.Equal(t, types.ID("vendor-user-1"), n.users[0])
	assert.Equal(t, "ORDER_DISPATCH_EXPIRED", n.calls[0]["event"])
	assert.Equal(t, msg.EventID, n.calls[0]["eventId"])
	assert.Equal(t, outbox.StatusCompleted, repo.Messages("")[0].Status)
}

func TestProcessor_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	repo := outboxtest.NewMemory()
	n := &recordingNotifier{fail: 2}
	p := outbox.NewProcessor(repo, config.OutboxConfig{BatchSize: 10, MaxAttempts: 5}, logger.Nop())
	p.Register(outbox.EventUserNotification, outbox.NewNotificationHandler(n))
	require.NoError(t, repo.Enqueue(ctx, newNotice(t, "u1")))

	for i := 0; i < 3; i++ {
		_, err := p.ProcessBatch(ctx)
		require.NoError(t, err)
	}
	stored := repo.Messages("")[0]
	assert.Equal(t, outbox.StatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Len(t, n.calls, 1)
}

func TestProcessor_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := outboxtest.NewMemory()
	n := &recordingNotifier{fail: 100}
	p := outbox.NewProcessor(repo, config.OutboxConfig{BatchSize: 10, MaxAttempts: 2}, logger.Nop())
	p.Register(outbox.EventUserNotification, outbox.NewNotificationHandler(n))
	require.NoError(t, repo.Enqueue(ctx, newNotice(t, "u1")))

	for i := 0; i < 4; i++ {
		_, _ = p.ProcessBatch(ctx)
	}
	stored := repo.Messages("")[0]
	assert.Equal(t, outbox.StatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.LastError)
}

func TestProcessor_UnknownEventTypeFails(t *testing.T) {
	ctx := context.Background()
	repo := outboxtest.NewMemory()
	p := outbox.NewProcessor(repo, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3}, logger.Nop())
	require.NoError(t, repo.Enqueue(ctx, newNotice(t, "u1")))

	done, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.Equal(t, outbox.StatusFailed, repo.Messages("")[0].Status)
}

func TestKafkaHandler_PublishesKeyedByAggregate(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev outbox.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.EventType != outbox.EventOrderStatusChanged {
			return errors.New("unexpected event type " + ev.EventType)
		}
		return nil
	})
	defer producer.Close()

	m, err := outbox.NewOrderStatusChanged(outbox.OrderStatusChanged{
		OrderID: "ORD-1", From: "DISPATCHING", To: "ASSIGNED",
	}, time.Now())
	require.NoError(t, err)

	h := outbox.NewKafkaHandler(producer, "foodhub.order-events", logger.Nop())
	require.NoError(t, h.HandleMessage(context.Background(), m))
}

func TestKafkaHandler_PropagatesFailure(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	defer producer.Close()

	m, _ := outbox.NewOrderStatusChanged(outbox.OrderStatusChanged{OrderID: "ORD-2"}, time.Now())
	h := outbox.NewKafkaHandler(producer, "t", logger.Nop())
	assert.ErrorIs(t, h.HandleMessage(context.Background(), m), sarama.ErrOutOfBrokers)
}

func TestLoggingHandler(t *testing.T) {
	m, _ := outbox.NewOrderStatusChanged(outbox.OrderStatusChanged{OrderID: "ORD-3"}, time.Now())
	assert.NoError(t, outbox.NewLoggingHandler(logger.Nop()).HandleMessage(context.Background(), m))
	assert.Error(t, outbox.NewLoggingHandler(logger.Nop()).HandleMessage(context.Background(), &outbox.Message{Payload: []byte("{")}))
}

type vendorDirectory map[types.ID]types.ID

func (d vendorDirectory) UserID(_ context.Context, vendorID types.ID) (types.ID, error) {
	if u, ok := d[vendorID]; ok {
		return u, nil
	}
	return "", errors.New("vendor not found")
}

func TestVendorNotification_RetriedUntilVendorResolves(t *testing.T) {
	ctx := context.Background()
	repo := outboxtest.NewMemory()
	n := &recordingNotifier{}
	dir := vendorDirectory{}
	p := outbox.NewProcessor(repo, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3}, logger.Nop())
	p.Register(outbox.EventVendorNotification, outbox.NewVendorNotificationHandler(dir, n))

	msg, err := outbox.NewVendorNotification("ORD-1", outbox.VendorNotification{
		VendorID: "vendor-1",
		Title:    "No delivery partner",
		Data:     map[string]string{"event": "ORDER_DISPATCH_EXPIRED", "orderId": "ORD-1"},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(ctx, msg))

	done, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.Equal(t, outbox.StatusPending, repo.Messages("")[0].Status)
	assert.Empty(t, n.calls)

	dir["vendor-1"] = "vendor-user-1"
	done, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	require.Len(t, n.calls, 1)
	assert.Equal(t, types.ID("vendor-user-1"), n.users[0])
	assert.Equal(t, msg.EventID, n.calls[0]["eventId"])
	assert.Equal(t, "ORDER_DISPATCH_EXPIRED", n.calls[0]["event"])
}
