// internal/notify/notifier_test.go
package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
)

// ==========================
// Mock Implementations
// ==========================

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)

	inputs []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{}, nil
}

// ==========================
// Tests
// ==========================

func TestSNSNotifier_RenewalReminder(t *testing.T) {
	client := &MockSNSService{}
	n := NewWithClient(client, "arn:aws:sns:us-east-1:000000000000:billing", logger.NewTestLogger(t))

	until := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	err := n.RenewalReminder(context.Background(), 42, until)

	require.NoError(t, err)
	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:billing", *input.TopicArn)
	assert.Equal(t, KindRenewalReminder, *input.MessageAttributes["kind"].StringValue)

	var msg message
	require.NoError(t, json.Unmarshal([]byte(*input.Message), &msg))
	assert.Equal(t, KindRenewalReminder, msg.Kind)
	assert.Equal(t, int64(42), msg.UserID)
	assert.Equal(t, "2024-07-02T12:00:00Z", msg.Until)
	assert.NotEmpty(t, msg.NotificationID)
	assert.NotEmpty(t, msg.Timestamp)
}

func TestSNSNotifier_ChargeOutcomes(t *testing.T) {
	tests := []struct {
		name string
		send func(n *SNSNotifier) error
		kind string
	}{
		{
			name: "auto charge succeeded",
			send: func(n *SNSNotifier) error { return n.AutoChargeSucceeded(context.Background(), 42) },
			kind: KindAutoChargeSucceeded,
		},
		{
			name: "auto charge failed",
			send: func(n *SNSNotifier) error { return n.AutoChargeFailed(context.Background(), 42) },
			kind: KindAutoChargeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockSNSService{}
			n := NewWithClient(client, "arn:test", logger.NewTestLogger(t))

			require.NoError(t, tt.send(n))
			require.Len(t, client.inputs, 1)

			var msg message
			require.NoError(t, json.Unmarshal([]byte(*client.inputs[0].Message), &msg))
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, int64(42), msg.UserID)
			assert.Empty(t, msg.Until)
		})
	}
}

func TestSNSNotifier_PublishFailure(t *testing.T) {
	client := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, stderrors.New("topic not found")
		},
	}
	n := NewWithClient(client, "arn:test", logger.NewTestLogger(t))

	err := n.AutoChargeFailed(context.Background(), 42)

	assert.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotificationSendFailed))
}

func TestNoop_DiscardsEverything(t *testing.T) {
	n := Noop{}
	assert.NoError(t, n.RenewalReminder(context.Background(), 1, time.Now()))
	assert.NoError(t, n.AutoChargeSucceeded(context.Background(), 1))
	assert.NoError(t, n.AutoChargeFailed(context.Background(), 1))
}
