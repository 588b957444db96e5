// Package storage archives finished reports in S3-compatible object storage.
//
// Reports are stored under content-addressed keys:
//
//	<prefix>/YYYY/MM/DD/<blake3-hex>.csv
//
// Uploading the same report twice on the same day is a no-op. Only the
// report leaves the machine; it carries emails and outcomes, never app
// passwords.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/config"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/retry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"lukechampine.com/blake3"
)

type S3Storage struct {
	Client     *minio.Client
	BucketName string
	Prefix     string
	Backoff    retry.BackoffConfig
}

// New creates an S3 client. Region is fixed so the client does not probe
// the bucket location before the first request.
func New(endpoint, accessKeyID, secretAccessKey, bucketName, prefix string, useSSL bool, debug bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
		Region: "us-east-1",
	})
	if err != nil {
		logger.Error("STORAGE: Failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if debug {
		client.TraceOn(os.Stderr)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucketName,
		Prefix:     prefix,
		Backoff:    retry.DefaultBackoffConfig(),
	}, nil
}

// NewFromConfig creates the archive described by cfg.
func NewFromConfig(cfg config.ArchiveConfig, debug bool) (*S3Storage, error) {
	return New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.Prefix, !cfg.DisableTLS, debug)
}

// ReportKey derives the object key for a report body created at the given time.
func ReportKey(prefix string, at time.Time, body []byte) string {
	sum := blake3.Sum256(body)
	return path.Join(strings.Trim(prefix, "/"), at.UTC().Format("2006/01/02"), hex.EncodeToString(sum[:])+".csv")
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.StatObject(ctx, s.BucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

// Put uploads body under key, retrying transient failures.
func (s *S3Storage) Put(ctx context.Context, key string, body []byte) error {
	start := time.Now()
	err := retry.Do(ctx, "archive upload", s.Backoff, func(ctx context.Context) error {
		_, err := s.Client.PutObject(ctx, s.BucketName, key, bytes.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: "text/csv", SendContentMd5: true})
		if err != nil && !retryable(err) {
			return retry.Stop(err)
		}
		return err
	})
	metrics.ArchiveUploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ArchiveUploads.WithLabelValues(classifyS3Error(err)).Inc()
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	metrics.ArchiveUploads.WithLabelValues("success").Inc()
	return nil
}

// ArchiveReport uploads the report file at reportPath and returns its key.
func (s *S3Storage) ArchiveReport(ctx context.Context, reportPath string, at time.Time) (string, error) {
	body, err := os.ReadFile(reportPath)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	key := ReportKey(s.Prefix, at, body)

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		logger.Info("STORAGE: Report already archived", "bucket", s.BucketName, "key", key)
		metrics.ArchiveUploads.WithLabelValues("duplicate").Inc()
		return key, nil
	}

	if err := s.Put(ctx, key, body); err != nil {
		return "", err
	}
	logger.Info("STORAGE: Report archived", "bucket", s.BucketName, "key", key, "bytes", len(body))
	return key, nil
}

// retryable reports whether another attempt might succeed.
func retryable(err error) bool {
	switch classifyS3Error(err) {
	case "access_denied", "not_found", "canceled":
		return false
	default:
		return true
	}
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var resp minio.ErrorResponse
	errors.As(err, &resp)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return "access_denied"
	case "NoSuchBucket", "NoSuchKey":
		return "not_found"
	case "SlowDown", "RequestLimitExceeded":
		return "throttled"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
