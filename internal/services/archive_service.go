// internal/services/archive_service.go
package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/localdeals/voucher-core/internal/config"
)

// AuditArchiver stores exported audit trails outside the database.
type AuditArchiver interface {
	Enabled() bool
	Archive(ctx context.Context, key string, body []byte) error
}

type S3AuditArchiver struct {
	s3Client s3iface.S3API
	bucket   string
}

type disabledArchiver struct{}

func (disabledArchiver) Enabled() bool { return false }

func (disabledArchiver) Archive(ctx context.Context, key string, body []byte) error {
	return ErrArchiveUnavailable
}

func NewAuditArchiver(cfg *config.Config) (AuditArchiver, error) {
	if cfg.AWS.AccessKeyID == "" || cfg.AWS.S3Bucket == "" {
		// No archive for local development
		logrus.Info("S3 audit archive not configured, exports disabled")
		return disabledArchiver{}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3AuditArchiver(s3.New(sess), cfg.AWS.S3Bucket), nil
}

func NewS3AuditArchiver(client s3iface.S3API, bucket string) *S3AuditArchiver {
	return &S3AuditArchiver{s3Client: client, bucket: bucket}
}

func (a *S3AuditArchiver) Enabled() bool {
	return true
}

func (a *S3AuditArchiver) Archive(ctx context.Context, key string, body []byte) error {
	params := &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ContentLength:        aws.Int64(int64(len(body))),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	}

	if _, err := a.s3Client.PutObjectWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to upload audit archive to S3: %w", err)
	}

	return nil
}
