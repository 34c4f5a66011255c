// Package s3store implements the RemoteStore contract on top of S3 or an
// S3-compatible service (MinIO, Cloudflare R2). The snapshot lives in a
// single object; the object ETag is the revision token and conditional PUTs
// (If-Match, If-None-Match) provide the compare-and-swap.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/snapshot"
)

// Config configures the S3 store.
type Config struct {
	Bucket   string
	Key      string // object key for the snapshot document
	Region   string
	Endpoint string // for S3-compatible services

	// AccessKeyID and SecretAccessKey are optional; prefer IAM roles or the
	// standard AWS environment variables.
	AccessKeyID     string
	SecretAccessKey string

	UsePathStyle bool
}

// Store holds the shared snapshot in one S3 object.
type Store struct {
	client *s3.Client
	bucket string
	key    string
}

// New creates a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.Errorf(errors.OpStore, "s3store", errors.KindValidation,
			"bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = "possync/snapshot.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpStore, "s3store",
			fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

// NewWithClient wraps an existing S3 client. Tests and callers with custom
// client middleware use this.
func NewWithClient(client *s3.Client, bucket, key string) *Store {
	return &Store{client: client, bucket: bucket, key: key}
}

// Fetch downloads the snapshot object and returns its ETag as the revision.
func (st *Store) Fetch(ctx context.Context) (*snapshot.Snapshot, possync.Revision, error) {
	resp, err := st.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(st.key),
	})
	if err != nil {
		return nil, "", st.mapError(errors.OpFetch, err, "")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.NewTransportError(errors.OpFetch, "s3store", err)
	}

	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, "", err
	}
	return snap, possync.Revision(aws.ToString(resp.ETag)), nil
}

// Write uploads the snapshot conditionally. A non-empty expected revision
// becomes If-Match; an empty one becomes If-None-Match: * so a lost
// first-publish race cannot overwrite another device's document.
func (st *Store) Write(ctx context.Context, snap *snapshot.Snapshot, expected possync.Revision) (possync.Revision, error) {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(st.bucket),
		Key:         aws.String(st.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if expected != "" {
		input.IfMatch = aws.String(string(expected))
	} else {
		input.IfNoneMatch = aws.String("*")
	}

	resp, err := st.client.PutObject(ctx, input)
	if err != nil {
		return "", st.mapError(errors.OpPush, err, string(expected))
	}
	return possync.Revision(aws.ToString(resp.ETag)), nil
}

// Close releases nothing; the underlying client is stateless.
func (st *Store) Close() error { return nil }

// mapError translates S3 failures into engine error kinds. Precondition
// failures are the compare-and-swap losing a race; throttling and 5xx are
// retryable transport faults.
func (st *Store) mapError(op errors.Operation, err error, expected string) error {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return errors.NewNotFound("s3store")
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errors.NewNotFound("s3store")
		case "PreconditionFailed", "ConditionalRequestConflict":
			return errors.NewRevisionMismatch("s3store", expected)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return errors.NewTransportError(op, "s3store", err)
		}
		return errors.NewTransportError(op, "s3store", err).WithRetryable(false)
	}

	if ctxErr := contextError(err); ctxErr != nil {
		return errors.NewTransportError(op, "s3store", ctxErr)
	}
	return errors.NewTransportError(op, "s3store", err)
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

var _ possync.RemoteStore = (*Store)(nil)
