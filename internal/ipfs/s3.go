package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible IPFS pinning store such as Filebase.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store pins documents by writing them to an IPFS-backed bucket. The
// provider reports the CID as "cid" user metadata on the stored object.
type S3Store struct {
	client *minio.Client
	bucket string
	region string

	initOnce sync.Once
	initErr  error
}

// NewS3Store creates a store. Credentials may be empty, in which case the
// store reports itself as not configured.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ipfs: s3 endpoint is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	s := &S3Store{bucket: strings.TrimSpace(cfg.Bucket), region: region}
	if cfg.AccessKey == "" || cfg.SecretKey == "" || s.bucket == "" {
		return s, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("ipfs: init s3 client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Configured() bool { return s.client != nil }

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put writes data under name and returns the CID reported by the provider,
// falling back to the ETag.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) (Object, error) {
	if !s.Configured() {
		return Object{}, ErrNotConfigured
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Object{}, fmt.Errorf("ipfs: ensure bucket: %w", err)
	}

	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return Object{}, fmt.Errorf("ipfs: put object %s: %w", name, err)
	}

	stat, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		return Object{}, fmt.Errorf("ipfs: stat object %s: %s: %w", name, errResp.Code, err)
	}
	hash := cidFromMetadata(stat.UserMetadata)
	if hash == "" {
		hash = strings.Trim(info.ETag, `"`)
	}
	return Object{Name: name, Hash: hash, Size: info.Size}, nil
}

func cidFromMetadata(meta map[string]string) string {
	for k, v := range meta {
		if strings.EqualFold(k, "cid") {
			return v
		}
	}
	return ""
}
