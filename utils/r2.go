// utils/r2.go
package utils

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client the catalog needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// R2Object reads a single object (e.g. "catalog/courses.json") from a Cloudflare R2 bucket.
type R2Object struct {
	Client ObjectGetter
	Bucket string
	Key    string
}

// NewR2Client builds an S3 client pointed at the account's R2 endpoint.
func NewR2Client(ctx context.Context, accountID, accessKeyID, accessKeySecret string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

// Fetch downloads the object body.
func (o *R2Object) Fetch(ctx context.Context) ([]byte, error) {
	out, err := o.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch r2://%s/%s: %w", o.Bucket, o.Key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read r2://%s/%s: %w", o.Bucket, o.Key, err)
	}
	return body, nil
}

func (o *R2Object) String() string {
	return fmt.Sprintf("r2://%s/%s", o.Bucket, o.Key)
}
