package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Storage is the blob store for attachments and profile photos.
type Storage struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*Storage, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Storage{cfg: cfg, client: cl}, nil
}

// EnsureBucket creates the bucket if needed and makes its objects publicly
// readable so download URLs stay valid without signing.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	return s.client.SetBucketPolicy(ctx, s.cfg.Bucket, readOnlyPolicy(s.cfg.Bucket))
}

// Upload stores the local file at objectPath and returns the object key.
func (s *Storage) Upload(ctx context.Context, objectPath, localFile string) (string, error) {
	contentType := mime.TypeByExtension(path.Ext(localFile))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.FPutObject(ctx, s.cfg.Bucket, objectPath, localFile, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return info.Key, nil
}

// DurableURL returns the unsigned download URL of an uploaded object.
func (s *Storage) DurableURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	base := s.client.EndpointURL()
	u := url.URL{
		Scheme: base.Scheme,
		Host:   base.Host,
		Path:   "/" + path.Join(s.cfg.Bucket, key),
	}
	return u.String(), nil
}

// Remove deletes an object.
func (s *Storage) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
}

func readOnlyPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
