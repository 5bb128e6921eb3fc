package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/maximilianredt/eforms-conversion-uploader/internal/config"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// Client publishes run summaries to an SQS queue so downstream
// consumers (alerting, reporting) can react to completed syncs.
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client.
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url", SQSConfig.QueueURL))

	return &Client{
		client: sqsClient,
		config: SQSConfig,
		log:    log,
	}, nil
}

// QueueURL returns the configured queue URL.
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// PublishSummary publishes the run summary to SQS.
func (c *Client) PublishSummary(ctx context.Context, summary *domain.RunSummary) error {
	bodyJSON, err := json.Marshal(summary)
	if err != nil {
		c.log.Error("Failed to marshal run summary",
			zap.String("run_id", summary.RunID),
			zap.Error(err))
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	status := "completed"
	if summary.TotalFailed() > 0 {
		status = "completed_with_failures"
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"RunID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(summary.RunID),
			},
			"Status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(status),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send run summary to SQS",
			zap.String("run_id", summary.RunID),
			zap.Error(err))
		return fmt.Errorf("failed to send run summary to SQS: %w", err)
	}

	c.log.Info("Run summary published to SQS",
		zap.String("run_id", summary.RunID),
		zap.String("status", status))

	return nil
}
