package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

const tracerName = "github.com/nauu/lightingbi/pkg/storage/archive"

const (
	sourcePrefix = "formula-sources/sha256/"
	latestPrefix = "formula-sources/latest/"
	contentType  = "text/plain; charset=utf-8"
)

// ErrNotArchived is returned when no source is stored for a hash or formula id
var ErrNotArchived = errors.New("source not archived")

// ObjectAPI is the subset of the S3 client used by the archive
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Record identifies one archived source text
type Record struct {
	FormulaID string
	Hash      string
	Key       string
	Deduped   bool // the content was already stored
}

// Archive keeps every saved formula source in S3, content addressed by its
// SHA-256, plus a per-id pointer to the latest hash.
type Archive struct {
	client ObjectAPI
	bucket string
}

// New creates an archive on top of an existing client
func New(client ObjectAPI, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// NewS3Archive builds an S3 client from cfg and makes sure the bucket exists
func NewS3Archive(ctx context.Context, cfg storage.Config) (*Archive, error) {
	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// static credentials (MinIO or explicit keys)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	a := New(client, cfg.S3Bucket)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return a, nil
}

// HashSource returns the hex SHA-256 of source
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func sourceKey(hash string) string {
	return fmt.Sprintf("%s%s/%s", sourcePrefix, hash[:2], hash[2:])
}

func latestKey(formulaID string) string {
	return latestPrefix + url.PathEscape(formulaID)
}

// Put stores source under its hash, skipping the upload when the same text is
// already archived, and points formulaID at it.
func (a *Archive) Put(ctx context.Context, formulaID, source string) (rec Record, err error) {
	hash := HashSource(source)
	key := sourceKey(hash)

	ctx, span := observability.StartSpan(ctx, tracerName, "archive.Put",
		attribute.String("s3.bucket", a.bucket),
		attribute.String("s3.key", key),
		attribute.String("content.hash", hash),
		attribute.Int("content.size", len(source)),
	)
	defer func() { observability.EndSpan(span, err) }()

	exists, err := a.exists(ctx, key)
	if err != nil {
		return Record{}, err
	}

	if !exists {
		if err := a.put(ctx, key, []byte(source), map[string]string{
			"formula-id":      formulaID,
			"checksum-sha256": hash,
		}); err != nil {
			return Record{}, err
		}
	}
	span.SetAttributes(attribute.Bool("deduplication.hit", exists))

	if err := a.put(ctx, latestKey(formulaID), []byte(hash), nil); err != nil {
		return Record{}, err
	}

	return Record{FormulaID: formulaID, Hash: hash, Key: key, Deduped: exists}, nil
}

// Get returns the source text archived under hash
func (a *Archive) Get(ctx context.Context, hash string) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("invalid hash %q", hash)
	}
	data, err := a.get(ctx, sourceKey(hash))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Latest returns the most recently archived source for formulaID
func (a *Archive) Latest(ctx context.Context, formulaID string) (string, error) {
	hash, err := a.get(ctx, latestKey(formulaID))
	if err != nil {
		return "", err
	}
	return a.Get(ctx, string(hash))
}

// HealthCheck verifies S3 connectivity
func (a *Archive) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (a *Archive) put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

func (a *Archive) get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotArchived
		}
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (a *Archive) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}

	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil && !isBucketAlreadyExists(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func isBucketAlreadyExists(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}
