package recordbase

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MinIOConfig locates a MinIO bucket holding local records and backups.
// The CLI fills it from --backend-endpoint and the access key flags.
type MinIOConfig struct {
	Endpoint        string // host:port without scheme
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// minioRegion is sent to satisfy request signing; MinIO ignores it.
const minioRegion = "us-east-1"

// NewMinIOBackend returns an S3Backend talking to MinIO with static
// credentials and path-style addressing (http://host/bucket/key).
func NewMinIOBackend(cfg MinIOConfig) (*S3Backend, error) {
	for field, v := range map[string]string{"Endpoint": cfg.Endpoint, "Bucket": cfg.Bucket} {
		if v == "" {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  field,
				"reason": "required for the minio backend",
			})
		}
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)),
		Region:       minioRegion,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true,
	})
	return NewS3Backend(client, cfg.Bucket), nil
}
