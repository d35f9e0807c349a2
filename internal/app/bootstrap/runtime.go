package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-admin/internal/chat"
	"github.com/wolfman30/clinic-admin/internal/chat/sendbird"
	appconfig "github.com/wolfman30/clinic-admin/internal/config"
	"github.com/wolfman30/clinic-admin/internal/notify"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; wizard drafts disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildAWSConfig loads the shared AWS config. Explicit keys win over the
// default credential chain so S3-compatible providers work outside AWS.
func BuildAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	if cfg == nil {
		return aws.Config{}, fmt.Errorf("bootstrap: config is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// BuildBlobStore returns the image store. Without a bucket the store is
// returned disabled and uploads answer 503.
func BuildBlobStore(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) *storage.Store {
	opts := storage.Options{
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		MaxBytes:      cfg.UploadMaxBytes,
	}
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		if logger != nil {
			logger.Warn("S3_BUCKET not set; image uploads disabled")
		}
		return storage.NewStore(nil, opts, logger)
	}
	client := storage.NewS3Client(awsCfg, cfg.S3Endpoint, cfg.S3ForcePathStyle)
	return storage.NewStore(client, opts, logger)
}

// BuildEmailSender selects the notification email provider.
func BuildEmailSender(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	var ses notify.SESAPI
	if cfg.EmailProvider == "ses" {
		ses = sesv2.NewFromConfig(awsCfg)
	}
	return notify.NewEmailSender(notify.ProviderConfig{
		Provider:       cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.EmailFromAddress,
		FromName:       cfg.EmailFromName,
	}, ses, logger)
}

// BuildChatPlatform returns the Sendbird client, or nil when chat is not
// configured. The nil is an untyped interface so the chat service reports
// itself as disabled.
func BuildChatPlatform(cfg *appconfig.Config, m *metrics.Metrics, logger *logging.Logger) (chat.Platform, error) {
	if cfg == nil || strings.TrimSpace(cfg.SendbirdAPIToken) == "" {
		return nil, nil
	}
	client, err := sendbird.New(sendbird.Config{
		AppID:      cfg.SendbirdAppID,
		APIToken:   cfg.SendbirdAPIToken,
		BaseURL:    cfg.SendbirdBaseURL,
		MaxRetries: cfg.SendbirdRetries,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
