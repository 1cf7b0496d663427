// Package offload archives completed uploads to S3-compatible storage.
//
// Offload is optional: when disabled the archiver is a no-op and no AWS
// client is constructed. When enabled, each completed blob is copied to
// the configured bucket under {key_prefix}{uploadID}.bin, with the
// original filename and checksum recorded as object metadata and the
// content type derived from the filename. Blobs
// larger than the part size go up as multipart uploads; failures abort
// the multipart session so the bucket never accumulates orphaned parts.
package offload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/internal/telemetry"
	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/bufpool"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/models"
)

// abortTimeout bounds the best-effort abort of a failed multipart
// upload. The abort runs on a fresh context because the archive
// context is often already cancelled when we get here.
const abortTimeout = 30 * time.Second

// Archiver copies completed upload blobs to an S3 bucket. It satisfies
// the API's Archiver interface, so finalize hands completed sessions
// straight to it.
//
// Safe for concurrent use; each Archive call carries its own state.
type Archiver struct {
	config  Config
	client  *s3.Client
	blobs   blob.Store
	metrics *metrics.Metrics

	// parts pools part-sized buffers across Archive calls
	parts *bufpool.Pool
}

// New creates an archiver from configuration.
//
// A disabled config yields an archiver whose Archive is a no-op, so
// callers can wire it unconditionally. An enabled config constructs the
// S3 client and verifies bucket access; the bucket must already exist.
// metrics may be nil to disable collection.
func New(ctx context.Context, cfg Config, blobs blob.Store, m *metrics.Metrics) (*Archiver, error) {
	cfg.ApplyDefaults()

	if !cfg.Enabled {
		return &Archiver{config: cfg, metrics: m}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("S3 offload enabled",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"key_prefix", cfg.KeyPrefix,
		"part_size", cfg.PartSize.String(),
	)

	return &Archiver{
		config:  cfg,
		client:  client,
		blobs:   blobs,
		metrics: m,
		parts:   bufpool.NewPool(&bufpool.Config{LargeSize: int(cfg.PartSize)}),
	}, nil
}

// newClient builds an S3 client from the offload configuration. Static
// credentials are used when provided; otherwise the default AWS
// credential chain applies.
func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Enabled reports whether archival is active.
func (a *Archiver) Enabled() bool {
	return a.config.Enabled
}

// Archive copies the upload's blob to the bucket. Blobs no larger than
// the part size go up in a single PutObject; larger blobs use a
// multipart upload that is aborted on any failure.
//
// The blob is read, not moved: the local copy stays authoritative for
// status replays and downloads.
func (a *Archiver) Archive(ctx context.Context, upload *models.Upload) (err error) {
	if !a.config.Enabled {
		return nil
	}

	key := a.objectKey(upload.ID)

	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanOffloadArchive, upload.ID,
		telemetry.Bucket(a.config.Bucket),
		telemetry.StorageKey(key),
		telemetry.Filename(upload.Filename),
	)
	defer span.End()

	defer func() {
		a.metrics.RecordOffload(err)
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	size, err := a.blobs.Size(ctx, upload.ID)
	if err != nil {
		return fmt.Errorf("stat blob %s: %w", upload.ID, err)
	}

	f, err := a.blobs.Open(ctx, upload.ID)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", upload.ID, err)
	}
	defer f.Close()

	start := time.Now()
	if size <= int64(a.config.PartSize) {
		err = a.putObject(ctx, key, upload, f, size)
	} else {
		err = a.putMultipart(ctx, key, upload, f, size)
	}
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Upload archived",
		"upload_id", upload.ID,
		"bucket", a.config.Bucket,
		"key", key,
		"bytes", size,
		"duration_ms", logger.Duration(start),
	)
	return nil
}

// objectKey returns the bucket key for an upload's blob.
func (a *Archiver) objectKey(uploadID string) string {
	return a.config.KeyPrefix + uploadID + ".bin"
}

// objectContentType derives the archived object's MIME type from the
// original filename.
func objectContentType(upload *models.Upload) string {
	if upload.IsZip() {
		return "application/zip"
	}
	return "application/octet-stream"
}

// objectMetadata carries the original filename and checksum on the
// object, so the bucket alone is enough to identify what was archived.
func objectMetadata(upload *models.Upload) map[string]string {
	md := map[string]string{
		"filename": upload.Filename,
	}
	if upload.Checksum != "" {
		md["sha256"] = upload.Checksum
	}
	return md
}

// putObject uploads the whole blob in a single request.
func (a *Archiver) putObject(ctx context.Context, key string, upload *models.Upload, f blob.File, size int64) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(objectContentType(upload)),
		Metadata:      objectMetadata(upload),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// putMultipart streams the blob as a multipart upload. Any failure
// aborts the multipart session before returning.
func (a *Archiver) putMultipart(ctx context.Context, key string, upload *models.Upload, f blob.File, size int64) error {
	create, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(objectContentType(upload)),
		Metadata:    objectMetadata(upload),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := aws.ToString(create.UploadId)

	completed, err := a.uploadParts(ctx, key, uploadID, f, size)
	if err != nil {
		a.abort(key, uploadID)
		return err
	}

	telemetry.SetAttributes(ctx, telemetry.Parts(len(completed)))

	_, err = a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(a.config.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		a.abort(key, uploadID)
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// uploadParts reads the blob part by part and uploads each one. Parts
// are sequential: the archiver already runs detached from the request,
// so simplicity wins over parallel part dispatch here.
func (a *Archiver) uploadParts(ctx context.Context, key, uploadID string, f io.Reader, size int64) ([]types.CompletedPart, error) {
	partSize := int64(a.config.PartSize)
	total := partCount(size, partSize)
	completed := make([]types.CompletedPart, 0, total)

	buf := a.parts.Get(int(partSize))
	defer a.parts.Put(buf)

	for partNumber := 1; partNumber <= total; partNumber++ {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF && partNumber == total {
			// The final part is allowed to be short
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("read part %d: %w", partNumber, err)
		}

		resp, err := a.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(a.config.Bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(int32(partNumber)),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if err != nil {
			return nil, fmt.Errorf("upload part %d of %d: %w", partNumber, total, err)
		}

		completed = append(completed, types.CompletedPart{
			ETag:       resp.ETag,
			PartNumber: aws.Int32(int32(partNumber)),
		})
	}

	return completed, nil
}

// abort cancels an in-progress multipart upload. Best effort: a missing
// upload session means S3 already discarded it.
func (a *Archiver) abort(key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	_, err := a.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(a.config.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			logger.Warn("Failed to abort multipart upload",
				"key", key, "upload_id", uploadID, "error", err)
		}
	}
}

// partCount returns how many parts a blob of the given size needs.
func partCount(size, partSize int64) int {
	if size <= 0 {
		return 0
	}
	n := size / partSize
	if size%partSize != 0 {
		n++
	}
	return int(n)
}
