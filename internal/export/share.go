package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mcp-food-lens/internal/config"
)

// Sharer hands a rendered document to a destination and returns where it
// can be fetched: a file path or a URL.
type Sharer interface {
	Share(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type exportFile interface {
	io.WriteCloser
	Name() string
}

// FileSharer writes documents as transient files under a directory.
type FileSharer struct {
	dir        string
	createTemp func(dir, pattern string) (exportFile, error)
}

// NewFileSharer uses dir, or a food-lens directory under the system temp dir
// when dir is empty.
func NewFileSharer(dir string) *FileSharer {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "food-lens-exports")
	}
	return &FileSharer{
		dir: dir,
		createTemp: func(dir, pattern string) (exportFile, error) {
			f, err := os.CreateTemp(dir, pattern)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
}

func (f *FileSharer) Share(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	ext := filepath.Ext(name)
	pattern := strings.TrimSuffix(filepath.Base(name), ext) + "-*" + ext
	file, err := f.createTemp(f.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write export file: %w", err)
	}
	// Close reports delayed write failures.
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close export file: %w", err)
	}
	return file.Name(), nil
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Sharer uploads documents to a bucket and returns a presigned GET URL.
type S3Sharer struct {
	client    objectPutter
	presigner objectPresigner
	bucket    string
	ttl       time.Duration
	now       func() time.Time
}

// NewS3Sharer builds an S3-compatible client with static credentials and a
// custom endpoint.
func NewS3Sharer(ctx context.Context, cfg config.S3Config) (*S3Sharer, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("S3 configuration incomplete: missing %s", strings.Join(cfg.MissingRequired(), ", "))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3Sharer{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

func (s *S3Sharer) Share(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("exports/%s/%s", s.now().UTC().Format("20060102T150405"), filepath.Base(name))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET: %w", err)
	}
	return presigned.URL, nil
}

// NewSharer picks the share destination for mode local|s3|auto. Auto uses S3
// only when it is fully configured and initializes cleanly.
func NewSharer(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (Sharer, string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = config.ExportModeLocal
	}

	switch mode {
	case config.ExportModeLocal:
		logger.Info("Export sharing", "mode", "local", "dir", cfg.Dir)
		return NewFileSharer(cfg.Dir), config.ExportModeLocal, nil

	case config.ExportModeAuto:
		if !cfg.S3.IsConfigured() {
			logger.Info("Export sharing", "mode", "local", "reason", "s3 not configured",
				"missing", cfg.S3.MissingRequired())
			return NewFileSharer(cfg.Dir), config.ExportModeLocal, nil
		}
		sharer, err := NewS3Sharer(ctx, cfg.S3)
		if err != nil {
			logger.Warn("S3 init failed, falling back to local export", "error", err)
			return NewFileSharer(cfg.Dir), config.ExportModeLocal, nil
		}
		logger.Info("Export sharing", "mode", "s3", "bucket", cfg.S3.Bucket)
		return sharer, config.ExportModeS3, nil

	case config.ExportModeS3:
		sharer, err := NewS3Sharer(ctx, cfg.S3)
		if err != nil {
			return nil, "", fmt.Errorf("EXPORT_MODE=s3 init failed: %w", err)
		}
		logger.Info("Export sharing", "mode", "s3", "bucket", cfg.S3.Bucket)
		return sharer, config.ExportModeS3, nil

	default:
		return nil, "", fmt.Errorf("unsupported export mode: %s", mode)
	}
}
