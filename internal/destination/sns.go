package destination

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/forgelight/vigil/internal/settings"
)

var (
	topicARNPattern = regexp.MustCompile(`^arn:aws:sns:([a-zA-Z0-9-]+):([0-9]{12}):([a-zA-Z0-9-_]+)$`)
	roleARNPattern  = regexp.MustCompile(`^arn:aws:iam::([0-9]{12}):role(/[a-zA-Z0-9+=,.@_-]+)+$`)
)

// SNSConfig configures an AWS SNS destination. In static-credential mode the
// keys come from the runtime settings; otherwise the publish assumes RoleARN.
type SNSConfig struct {
	TopicARN string `json:"topic_arn"`
	RoleARN  string `json:"role_arn,omitempty"`
}

// validate checks the config against the active credential mode.
func (c *SNSConfig) validate(awsSettings settings.AWSSettings) error {
	if !topicARNPattern.MatchString(c.TopicARN) {
		return fmt.Errorf("topic arn is missing/invalid: %s", c.TopicARN)
	}
	if awsSettings.StaticCredentials {
		if awsSettings.AccessKey == "" {
			return fmt.Errorf("IAM user access key is missing")
		}
		if awsSettings.SecretKey == "" {
			return fmt.Errorf("IAM user secret key is missing")
		}
		return nil
	}
	if !roleARNPattern.MatchString(c.RoleARN) {
		return fmt.Errorf("role arn is missing/invalid: %s", c.RoleARN)
	}
	return nil
}

// region extracts the AWS region from the topic ARN.
func (c *SNSConfig) region() string {
	parts := strings.Split(c.TopicARN, ":")
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// credentialKey derives the cache key for the client serving this config.
// Insertion and lookup use the same key: the static key pair when
// static-credential mode is on, else the role ARN.
func (c *SNSConfig) credentialKey(awsSettings settings.AWSSettings) string {
	if awsSettings.StaticCredentials {
		return awsSettings.AccessKey + "|" + awsSettings.SecretKey
	}
	return c.RoleARN
}

// snsAPI is the slice of the SNS client the publisher uses. Tests install a
// fake here.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// snsPublisher delivers messages to SNS topics, caching one client per
// credential key and region.
type snsPublisher struct {
	mu      sync.Mutex
	clients map[string]snsAPI

	// newClient builds a client for the given config; replaced in tests.
	newClient func(ctx context.Context, cfg *SNSConfig, awsSettings settings.AWSSettings, region string) (snsAPI, error)
}

func newSNSPublisher() *snsPublisher {
	return &snsPublisher{
		clients:   make(map[string]snsAPI),
		newClient: newSNSClient,
	}
}

func (p *snsPublisher) publish(ctx context.Context, dest *Destination, subject, message string, snap *settings.Snapshot) (string, error) {
	cfg := dest.SNS
	if err := cfg.validate(snap.AWS); err != nil {
		return "", err
	}

	client, err := p.client(ctx, cfg, snap.AWS)
	if err != nil {
		return "", err
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(cfg.TopicARN),
		Message:  aws.String(message),
	}
	if subject != "" {
		input.Subject = aws.String(subject)
	}

	out, err := client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", cfg.TopicARN, err)
	}
	return aws.ToString(out.MessageId), nil
}

func (p *snsPublisher) client(ctx context.Context, cfg *SNSConfig, awsSettings settings.AWSSettings) (snsAPI, error) {
	region := cfg.region()
	key := cfg.credentialKey(awsSettings) + "|" + region

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	client, err := p.newClient(ctx, cfg, awsSettings, region)
	if err != nil {
		return nil, err
	}
	p.clients[key] = client
	return client, nil
}

// newSNSClient builds the real SDK client: static credentials when the mode
// is on, otherwise the default chain assuming the destination's role.
func newSNSClient(ctx context.Context, cfg *SNSConfig, awsSettings settings.AWSSettings, region string) (snsAPI, error) {
	if awsSettings.StaticCredentials {
		return sns.New(sns.Options{
			Region:      region,
			Credentials: credentials.NewStaticCredentialsProvider(awsSettings.AccessKey, awsSettings.SecretKey, ""),
		}), nil
	}

	base, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), cfg.RoleARN)
	return sns.NewFromConfig(base, func(o *sns.Options) {
		o.Credentials = aws.NewCredentialsCache(provider)
	}), nil
}
