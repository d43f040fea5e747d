package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/abr-pipeline/internal/metrics"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// Upload configuration
const (
	MaxConcurrentUploads = 20
)

// S3PutAPI is the subset of the S3 client used by the uploader.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader publishes asset output trees to S3.
type S3Uploader struct {
	s3Client S3PutAPI
	bucket   string
	log      *slog.Logger
}

// NewS3Uploader creates a new S3Uploader.
func NewS3Uploader(s3Client S3PutAPI, bucket string, log *slog.Logger) *S3Uploader {
	return &S3Uploader{
		s3Client: s3Client,
		bucket:   bucket,
		log:      log,
	}
}

// Bucket returns the destination bucket.
func (u *S3Uploader) Bucket() string {
	return u.bucket
}

// Upload uploads every file under assetDir to <assetID>/<relative path>.
func (u *S3Uploader) Upload(ctx context.Context, assetID, assetDir string) error {
	ctx, span := tracer.Start(ctx, "upload-asset")
	defer span.End()

	start := time.Now()

	var filesUploaded atomic.Int64
	var totalBytes atomic.Int64
	var firstErr atomic.Pointer[error]

	sem := make(chan struct{}, MaxConcurrentUploads)
	var wg sync.WaitGroup

	walkErr := filepath.Walk(assetDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// Skip temporary files
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		if firstErr.Load() != nil {
			return nil
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: during upload walk", models.ErrContextCanceled)
		}

		wg.Add(1)

		go func(filePath string, fileInfo os.FileInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			if firstErr.Load() != nil {
				return
			}

			relPath, err := filepath.Rel(assetDir, filePath)
			if err != nil {
				wrappedErr := fmt.Errorf("failed to get relative path: %w", err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}
			key := ObjectKey(assetID, relPath)

			file, err := os.Open(filePath)
			if err != nil {
				wrappedErr := fmt.Errorf("failed to open file %s: %w", filePath, err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}
			defer file.Close()

			_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(u.bucket),
				Key:         aws.String(key),
				Body:        file,
				ContentType: aws.String(contentType(filePath)),
			})
			if err != nil {
				wrappedErr := fmt.Errorf("failed to upload %s: %w", key, err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}

			filesUploaded.Add(1)
			totalBytes.Add(fileInfo.Size())

			u.log.DebugContext(ctx, "Uploaded file", "key", key)
		}(path, info)

		return nil
	})

	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("%w: %v", models.ErrUploadFailed, walkErr)
	}
	if errPtr := firstErr.Load(); errPtr != nil {
		return fmt.Errorf("%w: %v", models.ErrUploadFailed, *errPtr)
	}

	uploaded := filesUploaded.Load()
	bytes := totalBytes.Load()
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int64("files.uploaded", uploaded),
		attribute.Int64("bytes.total", bytes),
	)

	u.log.InfoContext(ctx, "Asset upload complete",
		"assetId", assetID,
		"bucket", u.bucket,
		"filesUploaded", uploaded,
		"totalBytes", bytes,
	)

	return nil
}

// ObjectKey returns the S3 key of a file relative to an asset directory.
func ObjectKey(assetID, relPath string) string {
	return assetID + "/" + filepath.ToSlash(relPath)
}

// contentType returns the appropriate content type for the file.
func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".mpd":
		return "application/dash+xml"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
