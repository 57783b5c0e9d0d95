package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Archive copies verification artifacts to S3 so they outlive the folder.
type Archive struct {
	client s3iface.S3API
	bucket string
	prefix string
}

func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	s3Config := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.Endpoint != ""),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		s3Config.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &Archive{client: s3.New(sess), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key is the object key of a file of a candidate folder.
func (a *Archive) Key(folder, file string) string {
	return path.Join(a.prefix, filepath.Base(folder), filepath.Base(file))
}

// Upload stores each file and returns the s3:// locations in order.
func (a *Archive) Upload(ctx context.Context, folder string, files ...string) ([]string, error) {
	locations := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return locations, fmt.Errorf("read %s: %w", filepath.Base(f), err)
		}
		key := a.Key(folder, f)
		_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return locations, fmt.Errorf("upload %s: %w", key, err)
		}
		locations = append(locations, fmt.Sprintf("s3://%s/%s", a.bucket, key))
	}
	return locations, nil
}
