package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	appConfig "github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
)

const (
	metaChecksum   = "sar-checksum"
	metaKeyVersion = "sar-key-version"
	metaCaseID     = "sar-case-id"
)

// objectStore is the subset of the S3 client the archive uses
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ArchiveRepository keeps an encrypted, write-once copy of every sealed
// submission
type ArchiveRepository struct {
	client objectStore
	bucket string
	keys   *crypto.Keyring
}

// NewArchiveRepository creates a new S3 archive repository
func NewArchiveRepository(ctx context.Context, cfg appConfig.S3Config, keys *crypto.Keyring) (*ArchiveRepository, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		}
	})

	return newArchiveRepository(client, cfg.ArchiveBucket, keys), nil
}

func newArchiveRepository(client objectStore, bucket string, keys *crypto.Keyring) *ArchiveRepository {
	return &ArchiveRepository{client: client, bucket: bucket, keys: keys}
}

// ObjectKey returns the archive key of a submission:
// submissions/year/month/day/submissionID.json.enc
func ObjectKey(sub *domain.Submission) string {
	t := sub.SubmittedAt.UTC()
	return fmt.Sprintf("submissions/%d/%02d/%02d/%s.json.enc", t.Year(), t.Month(), t.Day(), sub.SubmissionID)
}

// ArchiveSubmission encrypts the submission and uploads it. The upload is
// conditional, so an existing archive object is never overwritten.
func (r *ArchiveRepository) ArchiveSubmission(ctx context.Context, sub *domain.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission for archive: %w", err)
	}

	sealed, version, err := r.keys.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt submission: %w", err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(ObjectKey(sub)),
		Body:        bytes.NewReader([]byte(sealed)),
		ContentType: aws.String("application/octet-stream"),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			metaChecksum:   sub.Checksum,
			metaKeyVersion: strconv.Itoa(version),
			metaCaseID:     sub.CaseID.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload submission to s3: %w", err)
	}

	return nil
}

// FetchSubmission downloads and decrypts an archived submission
func (r *ArchiveRepository) FetchSubmission(ctx context.Context, submissionID string, submittedAt time.Time) (*domain.Submission, error) {
	key := ObjectKey(&domain.Submission{SubmissionID: submissionID, SubmittedAt: submittedAt})
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, domain.NewNotFoundError("archived submission", submissionID)
		}
		return nil, fmt.Errorf("failed to download submission from s3: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive object: %w", err)
	}

	version, err := strconv.Atoi(out.Metadata[metaKeyVersion])
	if err != nil {
		return nil, fmt.Errorf("archive object %s has no key version: %w", key, err)
	}

	plaintext, err := r.keys.Open(string(body), version)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt submission: %w", err)
	}

	var sub domain.Submission
	if err := json.Unmarshal(plaintext, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived submission: %w", err)
	}
	if sub.Checksum != out.Metadata[metaChecksum] {
		return nil, fmt.Errorf("archive object %s checksum metadata does not match payload", key)
	}
	return &sub, nil
}
