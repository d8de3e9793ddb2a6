package events

import (
	"context"
	"os"
	"testing"
	"time"

	"spendbook/internal/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewExpenseEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e := &models.Expense{
		ID:       "17",
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Category: "food",
		Amount:   12.5,
		UserID:   "3",
	}

	ev := NewExpenseEvent(ExpenseCreated, e, at)

	assert.Equal(t, Event{
		Type:       ExpenseCreated,
		ExpenseID:  "17",
		OwnerID:    "3",
		Date:       "2024-01-01",
		Category:   "food",
		Amount:     12.5,
		OccurredAt: at.UTC(),
	}, ev)
}

func TestEventJSON(t *testing.T) {
	ev := NewExpenseEvent(ExpenseDeleted, &models.Expense{ID: "9"}, time.Unix(0, 0))

	body, err := ev.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"expense.deleted","expense_id":"9","occurred_at":"1970-01-01T00:00:00Z"}`, string(body))

	decoded, err := FromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, ev.ExpenseID, decoded.ExpenseID)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: ExpenseCreated}))
	assert.NoError(t, p.Close())
}

func TestAMQPPublisher(t *testing.T) {
	url := os.Getenv("AMQP_TEST_URL")
	if url == "" {
		t.Skip("AMQP_TEST_URL not set")
	}
	const exchange = "spendbook_test"

	p, err := NewAMQPPublisher(url, exchange, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	conn, err := amqp091.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "expense.*", exchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), Event{Type: ExpenseUpdated, ExpenseID: "5", OccurredAt: time.Now()}))

	select {
	case d := <-msgs:
		assert.Equal(t, ExpenseUpdated, d.RoutingKey)
		ev, err := FromJSON(d.Body)
		require.NoError(t, err)
		assert.Equal(t, "5", ev.ExpenseID)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}
