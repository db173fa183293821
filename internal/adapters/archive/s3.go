package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/okian/proctor/internal/domain/audit"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/codec"
)

// BundleContentType describes an uploaded bundle: deterministic CBOR, zstd compressed.
const BundleContentType = codec.ContentType

const bundleSuffix = ".cbor.zst"

// zstdEncoder and zstdDecoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket and credentials. Empty keys use the default chain.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 uploads one audit bundle per ended session.
type S3 struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Client builds an S3 client for cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewS3 uploads into bucket under prefix.
func NewS3(client PutObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Name identifies the target in metrics and logs.
func (s *S3) Name() string { return "s3" }

// Key is the object key of a session's bundle.
func (s *S3) Key(sessionID string) string {
	return path.Join(s.prefix, sessionID+bundleSuffix)
}

// Archive uploads the encoded bundle. The audit digest travels as object
// metadata so a bundle can be checked without a database lookup.
func (s *S3) Archive(ctx context.Context, rec model.ArchiveRecord) error {
	body, err := EncodeBundle(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.Key(rec.Report.SessionID)),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String(BundleContentType),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"audit-digest":   rec.Report.AuditDigest,
			"recommendation": string(rec.Report.Recommendation),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.Key(rec.Report.SessionID), err)
	}
	return nil
}

// EncodeBundle serializes rec as zstd-compressed deterministic CBOR.
func EncodeBundle(rec model.ArchiveRecord) ([]byte, error) {
	raw, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrBundle, rec.Report.SessionID, err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeBundle reverses EncodeBundle and checks the violation log against
// the report's audit digest.
func DecodeBundle(data []byte) (model.ArchiveRecord, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return model.ArchiveRecord{}, fmt.Errorf("%w: decompress: %w", ErrBundle, err)
	}
	var rec model.ArchiveRecord
	if err := codec.Unmarshal(raw, &rec); err != nil {
		return model.ArchiveRecord{}, fmt.Errorf("%w: decode: %w", ErrBundle, err)
	}
	if err := audit.Verify(rec.Report.SessionID, rec.Violations, rec.Report.AuditDigest); err != nil {
		return model.ArchiveRecord{}, fmt.Errorf("%w: %w", ErrBundle, err)
	}
	return rec, nil
}
