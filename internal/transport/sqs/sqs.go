// Package sqs implements transport.Transport on an SQS-compatible queue with
// aws-sdk-go-v2.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	smithy "github.com/aws/smithy-go"

	"github.com/rzbill/spqs/internal/qerr"
	"github.com/rzbill/spqs/internal/transport"
	"github.com/rzbill/spqs/pkg/log"
)

// maxBatch is the service limit on messages per receive.
const maxBatch = 10

// API is the subset of *sqs.Client the transport uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// Config selects the queue and the AWS endpoint.
type Config struct {
	// QueueURL wins over QueueName when both are set.
	QueueURL  string
	QueueName string
	Region    string
	// Endpoint overrides the service endpoint (LocalStack, ElasticMQ).
	Endpoint string
}

// Transport is an SQS-backed transport.
type Transport struct {
	api      API
	queueURL string
	logger   log.Logger
}

// New loads the default AWS configuration, builds a client and resolves the
// queue URL.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sqs: load config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			if !strings.Contains(endpoint, "://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewWithAPI(ctx, client, cfg, logger)
}

// NewWithAPI builds a transport over an existing client.
func NewWithAPI(ctx context.Context, api API, cfg Config, logger log.Logger) (*Transport, error) {
	if logger == nil {
		logger = log.NopLogger()
	}
	t := &Transport{api: api, queueURL: cfg.QueueURL, logger: logger.WithComponent("sqs")}
	if t.queueURL == "" {
		if cfg.QueueName == "" {
			return nil, errors.New("sqs: queue url or name is required")
		}
		out, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(cfg.QueueName)})
		if err != nil {
			return nil, wrap("resolve", err)
		}
		t.queueURL = aws.ToString(out.QueueUrl)
	}
	return t, nil
}

// QueueURL returns the resolved queue URL.
func (t *Transport) QueueURL() string { return t.queueURL }

func (t *Transport) Send(ctx context.Context, req transport.SendRequest) (string, error) {
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(t.queueURL),
		MessageBody:       aws.String(req.Body),
		MessageAttributes: encodeAttributes(transport.Attributes(req)),
		DelaySeconds:      seconds(req.Delay),
	}
	if req.GroupID != "" {
		in.MessageGroupId = aws.String(req.GroupID)
	}
	if req.DeduplicationID != "" {
		in.MessageDeduplicationId = aws.String(req.DeduplicationID)
	}
	out, err := t.api.SendMessage(ctx, in)
	if err != nil {
		return "", wrap("send", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (t *Transport) Receive(ctx context.Context, req transport.ReceiveRequest) ([]transport.Message, error) {
	n := req.MaxMessages
	if n <= 0 {
		n = 1
	}
	if n > maxBatch {
		n = maxBatch
	}
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(t.queueURL),
		MaxNumberOfMessages: int32(n),
		VisibilityTimeout:   seconds(req.VisibilityTimeout),
		WaitTimeSeconds:     seconds(req.WaitTime),
	}
	if req.IncludeAttributes {
		in.MessageAttributeNames = []string{"All"}
	} else {
		in.MessageAttributeNames = []string{transport.PriorityAttribute}
	}
	out, err := t.api.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, wrap("receive", err)
	}
	msgs := make([]transport.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, transport.Message{
			ID:           aws.ToString(m.MessageId),
			Body:         aws.ToString(m.Body),
			ReceiptToken: aws.ToString(m.ReceiptHandle),
			Attributes:   decodeAttributes(m.MessageAttributes),
		})
	}
	return msgs, nil
}

func (t *Transport) Delete(ctx context.Context, receiptToken string) error {
	_, err := t.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(t.queueURL),
		ReceiptHandle: aws.String(receiptToken),
	})
	return wrap("delete", err)
}

func (t *Transport) ExtendLease(ctx context.Context, receiptToken string, timeout time.Duration) error {
	_, err := t.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(t.queueURL),
		ReceiptHandle:     aws.String(receiptToken),
		VisibilityTimeout: seconds(timeout),
	})
	return wrap("extend", err)
}

func (t *Transport) ApproximateCount(ctx context.Context) (int64, error) {
	out, err := t.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(t.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, wrap("count", err)
	}
	raw := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, qerr.Transport("count", "", fmt.Errorf("parse %q: %w", raw, err))
	}
	return n, nil
}

func (t *Transport) Purge(ctx context.Context) error {
	_, err := t.api.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(t.queueURL)})
	if err == nil {
		t.logger.Info("purge requested", log.Str("queue", t.queueURL))
	}
	return wrap("purge", err)
}

func encodeAttributes(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return out
}

func decodeAttributes(attrs map[string]sqstypes.MessageAttributeValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32((d + time.Second - 1) / time.Second)
}

// wrap converts an SDK error into a TransportError, keeping the service code.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	return qerr.Transport(op, code, err)
}
