package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/nexus-verify/internal/domain"
)

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AuditSink publishes audit entries as JSON to an SNS topic. The outcome is
// set as a message attribute so subscribers can filter on it.
type AuditSink struct {
	client   publisher
	topicARN string
}

// NewClient creates an SNS client. When endpointURL is set (LocalStack),
// it overrides the endpoint.
func NewClient(awsCfg aws.Config, endpointURL string) *sns.Client {
	var clientOpts []func(*sns.Options)
	if endpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return sns.NewFromConfig(awsCfg, clientOpts...)
}

func NewAuditSink(client publisher, topicARN string) *AuditSink {
	return &AuditSink{client: client, topicARN: topicARN}
}

func (s *AuditSink) Emit(ctx context.Context, entry domain.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	kind := string(entry.Outcome)
	if kind == "" {
		kind = entry.Action
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
