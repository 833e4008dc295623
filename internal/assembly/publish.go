package assembly

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/picklr-io/stackr/internal/logging"
)

// MaxInlineTemplateSize is the largest template body CloudFormation accepts
// inline. Larger templates must be passed by S3 URL.
const MaxInlineTemplateSize = 51200

// S3API is the part of the S3 client the publisher uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads template bodies to S3 under content-addressed keys.
type Publisher struct {
	client S3API
	bucket string
	prefix string
	region string
}

// NewPublisher returns a publisher for bucket. Keys are prefixed with prefix
// when it is set.
func NewPublisher(client S3API, bucket, prefix, region string) (*Publisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("template publisher requires a bucket")
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}, nil
}

// Publish uploads body and returns the URL CloudFormation should read it from.
// Identical bodies map to the same key.
func (p *Publisher) Publish(ctx context.Context, stackName string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	key := path.Join(p.prefix, stackName, hex.EncodeToString(sum[:])+".template")

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(p.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload template to s3://%s/%s: %w", p.bucket, key, err)
	}

	logging.Debug("published template", "bucket", p.bucket, "key", key, "bytes", len(body))
	return p.url(key), nil
}

func (p *Publisher) url(key string) string {
	if p.region == "" || p.region == "us-east-1" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", p.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, key)
}

// NeedsUpload reports whether body must be passed by URL.
func NeedsUpload(body []byte) bool {
	return len(body) > MaxInlineTemplateSize
}
