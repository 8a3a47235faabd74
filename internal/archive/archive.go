// Package archive stores a JSON report for every completed sync pass so operators can
// see which postings a pass delivered and which it dropped.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"jobsync/internal/config"
)

// Report describes one sync pass.
type Report struct {
	Key        string     `json:"key"`
	Source     string     `json:"source,omitempty"`
	Since      *time.Time `json:"since"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Synced     int        `json:"synced"`
	Failed     int        `json:"failed"`
	Total      int        `json:"total"`
	Delivered  []string   `json:"delivered"`
	Dropped    []string   `json:"dropped"`
}

// ObjectKey names the report under its cursor key and start instant.
func (r Report) ObjectKey() string {
	name := r.StartedAt.UTC().Format("20060102T150405.000Z")
	if r.Source != "" {
		name += "-" + r.Source
	}
	return sanitizeKey(filepath.Join(r.Key, name+".json"))
}

// Archiver persists reports and returns where each one landed.
type Archiver interface {
	Save(ctx context.Context, r Report) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type store struct {
	up uploader
}

func (s *store) Save(ctx context.Context, r Report) (string, error) {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return s.up.Upload(ctx, r.ObjectKey(), body, "application/json")
}

// New picks the S3 bucket when one is configured, else the local directory. It returns
// nil when neither is set.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	if cfg.ReportS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &store{up: &s3Uploader{client: client, bucket: cfg.ReportS3Bucket}}, nil
	}
	if cfg.ReportDir != "" {
		return NewLocal(cfg.ReportDir), nil
	}
	return nil, nil
}

// NewLocal writes reports beneath dir.
func NewLocal(dir string) Archiver {
	return &store{up: &localUploader{baseDir: dir}}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ReportS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ReportS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ReportS3Endpoint)
		}
		o.UsePathStyle = cfg.ReportS3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
