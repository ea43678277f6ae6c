package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

const proofPrefix = "proofs/"

// Storage hosts proof images in a MinIO/S3 bucket as an alternative to the
// third-party image host.
type Storage struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	base := cfg.ProofPublicBase
	if base == "" {
		base = client.EndpointURL().String()
	}
	return &Storage{
		client:     client,
		bucket:     cfg.ProofBucket,
		region:     cfg.S3Region,
		publicBase: base,
	}, nil
}

// EnsureBucket makes sure the proof bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// UploadProof stores the image under a fresh key and returns its public URL.
func (s *Storage) UploadProof(ctx context.Context, file model.SelectedFile) (string, error) {
	if len(file.Data) == 0 {
		return "", &common.UploadError{Op: "put", Err: errors.New("empty file")}
	}
	key := ObjectKey(uuid.NewString(), file.Name)
	opts := minio.PutObjectOptions{ContentType: file.ContentType}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), opts)
	if err != nil {
		return "", &common.UploadError{Op: "put", Err: err}
	}
	return PublicURL(s.publicBase, s.bucket, key), nil
}

// Upload lets Storage stand in wherever an image host client is expected.
func (s *Storage) Upload(ctx context.Context, file model.SelectedFile) (string, error) {
	return s.UploadProof(ctx, file)
}

// ObjectKey builds "proofs/<id><ext>", keeping only the original extension so
// visitor-chosen file names never reach the bucket.
func ObjectKey(id, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	if len(ext) > 6 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	return proofPrefix + id + ext
}

// PublicURL joins base, bucket and key as a path-style object URL.
func PublicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}
