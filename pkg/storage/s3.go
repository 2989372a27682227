package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// MaxImageFileSize is the maximum allowed option image size (8MB, Discord's attachment limit).
const MaxImageFileSize = 8 * 1024 * 1024

// AllowedImageExtensions maps accepted image extensions to MIME types.
var AllowedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

// S3 stores option images for the poll's discussion thread.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the default chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// OptionImageKey returns the object key for option n: {prefix}/{n}.jpg.
func OptionImageKey(prefix string, n int) string {
	return path.Join(prefix, strconv.Itoa(n)+".jpg")
}

// ValidateImageType reports whether the upload looks like an accepted image.
func ValidateImageType(contentType, filename string) bool {
	for _, ct := range AllowedImageExtensions {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	_, ok := AllowedImageExtensions[strings.ToLower(path.Ext(filename))]
	return ok
}

// OptionImageURL returns the public URL of option n's image.
func (s *S3) OptionImageURL(n int) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, OptionImageKey(s.cfg.Prefix, n))
}

// HasOptionImage reports whether an image for option n exists.
func (s *S3) HasOptionImage(ctx context.Context, n int) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(OptionImageKey(s.cfg.Prefix, n)),
	})
	return err == nil
}

// UploadOptionImage streams an image for option n to the bucket with public read.
func (s *S3) UploadOptionImage(ctx context.Context, n int, contentType string, body io.Reader, contentLength int64) (string, error) {
	key := OptionImageKey(s.cfg.Prefix, n)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Info("option image uploaded", zap.Int("option", n), zap.String("key", key))
	return s.OptionImageURL(n), nil
}

// StaticImages serves option images from a fixed base URL ({base}/{n}.jpg).
type StaticImages struct {
	BaseURL string
}

// OptionImageURL returns {base}/{n}.jpg.
func (s StaticImages) OptionImageURL(n int) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strconv.Itoa(n) + ".jpg"
}
