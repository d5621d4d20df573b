package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ReceiptArchiveConfig points at the S3-compatible bucket raw signed proofs
// are kept in for audit.
type ReceiptArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ReceiptArchive stores validated purchase proofs. Best-effort from the
// caller's perspective: an archive failure never blocks fulfillment.
type ReceiptArchive struct {
	cfg    ReceiptArchiveConfig
	client *s3.S3
}

func NewReceiptArchive(cfg ReceiptArchiveConfig) (*ReceiptArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("receipt archive: bucket is required")
	}
	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.Region),
		Endpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKey, cfg.SecretKey, "",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("receipt archive session: %w", err)
	}
	return &ReceiptArchive{cfg: cfg, client: s3.New(sess)}, nil
}

// ArchiveJSON uploads the payload under receipts/<date>/<transactionID>.json.
func (a *ReceiptArchive) ArchiveJSON(ctx context.Context, transactionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	key := fmt.Sprintf("receipts/%s/%s.json", time.Now().UTC().Format("2006-01-02"), transactionID)

	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("unable to upload receipt to S3: %v", err)
	}
	return nil
}
