package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "candleflow/config"
	"candleflow/logger"
)

// S3Uploader puts archive files to a bucket under Hive-style partition keys.
type S3Uploader struct {
	client *s3.Client
	bucket string
	log    *logger.Log
}

// NewS3Uploader builds the uploader from configuration. Static credentials
// take precedence; otherwise the default AWS chain applies.
func NewS3Uploader(cfg appconfig.S3Config) (*S3Uploader, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log := logger.GetLogger()
	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 uploader initialized")

	return &S3Uploader{client: client, bucket: cfg.Bucket, log: log}, nil
}

// ObjectKey builds the partitioned key for one archive file, e.g.
// candles/source=auto/symbol=BTC/timeframe=1h/year=2024/month=03/day=10/
// BTC_1h_20240310120000-<uuid>.csv.
func ObjectKey(source, symbol, timeframe string, t time.Time, ext string) string {
	t = t.UTC()
	symbol = strings.ReplaceAll(symbol, "/", "-")
	filename := fmt.Sprintf("%s_%s_%s-%s.%s",
		symbol, timeframe, t.Format("20060102150405"), uuid.NewString(), ext)

	key := filepath.Join(
		"candles",
		fmt.Sprintf("source=%s", source),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("timeframe=%s", timeframe),
		fmt.Sprintf("year=%04d", t.Year()),
		fmt.Sprintf("month=%02d", int(t.Month())),
		fmt.Sprintf("day=%02d", t.Day()),
		filename,
	)
	return filepath.ToSlash(key)
}

// Upload puts one object. The context is detached from cancellation so an
// in-flight upload survives shutdown.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, format string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-format": format,
		},
	}

	if _, err := u.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}

	logger.IncrementS3Upload(int64(len(data)))
	u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"s3_key": key,
		"size":   len(data),
	}).Info("archive file uploaded")
	return nil
}
