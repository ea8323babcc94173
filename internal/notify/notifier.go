// Package notify is the best-effort notification collaborator. Delivery
// failures are never fatal for billing state transitions.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	"billing-workers/internal/common/config"
	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
)

const (
	KindRenewalReminder     = "renewal_reminder"
	KindAutoChargeSucceeded = "auto_charge_succeeded"
	KindAutoChargeFailed    = "auto_charge_failed"
)

// Notifier delivers subscriber-facing billing notifications.
type Notifier interface {
	RenewalReminder(ctx context.Context, userID int64, until time.Time) error
	AutoChargeSucceeded(ctx context.Context, userID int64) error
	AutoChargeFailed(ctx context.Context, userID int64) error
}

// SNSService is the subset of the SNS client used here, for mocking.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type message struct {
	NotificationID string `json:"notification_id"`
	Kind           string `json:"kind"`
	UserID         int64  `json:"user_id"`
	Until          string `json:"until,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// SNSNotifier publishes notification events to an SNS topic; downstream
// consumers own the actual channel delivery.
type SNSNotifier struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewSNSNotifier(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*SNSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, err
	}
	return &SNSNotifier{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "notify"}),
	}, nil
}

// NewWithClient builds a notifier around an existing SNS client (tests).
func NewWithClient(client SNSService, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, logger: log}
}

func (n *SNSNotifier) RenewalReminder(ctx context.Context, userID int64, until time.Time) error {
	return n.publish(ctx, message{
		Kind:   KindRenewalReminder,
		UserID: userID,
		Until:  until.UTC().Format(time.RFC3339),
	})
}

func (n *SNSNotifier) AutoChargeSucceeded(ctx context.Context, userID int64) error {
	return n.publish(ctx, message{Kind: KindAutoChargeSucceeded, UserID: userID})
}

func (n *SNSNotifier) AutoChargeFailed(ctx context.Context, userID int64) error {
	return n.publish(ctx, message{Kind: KindAutoChargeFailed, UserID: userID})
}

func (n *SNSNotifier) publish(ctx context.Context, msg message) error {
	msg.NotificationID = uuid.New().String()
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.NewNotificationSendFailedError(msg.Kind, err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Kind),
			},
		},
	})
	if err != nil {
		return errors.NewNotificationSendFailedError(msg.Kind, err)
	}

	n.logger.Debug("notification published", map[string]interface{}{
		"kind":   msg.Kind,
		"userId": msg.UserID,
	})
	return nil
}

// Noop discards all notifications; used when delivery is disabled.
type Noop struct{}

func (Noop) RenewalReminder(context.Context, int64, time.Time) error { return nil }
func (Noop) AutoChargeSucceeded(context.Context, int64) error        { return nil }
func (Noop) AutoChargeFailed(context.Context, int64) error           { return nil }
