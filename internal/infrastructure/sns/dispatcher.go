package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// otpJob is the message body consumed by the mail worker subscribed to the topic.
type otpJob struct {
	Type    string `json:"type"`
	Email   string `json:"email"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

// TopicDispatcher hands OTP deliveries to an SNS topic instead of sending
// mail in-process.
type TopicDispatcher struct {
	client   publisher
	topicARN string
}

// NewTopicDispatcher builds an SNS client; endpoint overrides the AWS
// endpoint when set (LocalStack).
func NewTopicDispatcher(awsCfg aws.Config, topicARN, endpoint string) *TopicDispatcher {
	var opts []func(*sns.Options)
	if endpoint != "" {
		opts = append(opts, func(o *sns.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	return &TopicDispatcher{client: sns.NewFromConfig(awsCfg, opts...), topicARN: topicARN}
}

func (d *TopicDispatcher) SendOTP(ctx context.Context, email, code, purpose string) error {
	body, err := json.Marshal(otpJob{Type: "otp", Email: email, Code: code, Purpose: purpose})
	if err != nil {
		return fmt.Errorf("encode otp job: %w", err)
	}
	_, err = d.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(d.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"purpose": {DataType: aws.String("String"), StringValue: aws.String(purpose)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish otp job: %w", err)
	}
	return nil
}
