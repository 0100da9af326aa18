package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/utils"
)

// PresignExpiry bounds how long an upload URL stays valid.
const PresignExpiry = 15 * time.Minute

// ErrObjectNotFound is returned by GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// Object is a downloaded S3 object.
type Object struct {
	Body        []byte
	ContentType string
}

// IS3Storage covers the object operations of chat and listing images.
type IS3Storage interface {
	GeneratePresignedPutURL(ctx context.Context, key, contentType string) (string, error)
	GetObject(ctx context.Context, key string) (*Object, error)
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Storage builds a client from the static credentials in cfg.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, key, contentType string) (string, error) {
	req, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", key, err)
	}
	log.Printf("Generated presigned upload URL for key: %s", key)
	return req.URL, nil
}

func (s *s3Storage) GetObject(ctx context.Context, key string) (*Object, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &Object{Body: body, ContentType: aws.ToString(out.ContentType)}, nil
}

func (s *s3Storage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename keeps the base name and replaces anything outside [a-zA-Z0-9._-].
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Trim(unsafeFilenameChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "upload"
	}
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	return name
}

// MessageImageKey is the object key of an image attached to a conversation.
func MessageImageKey(conversationID utils.SixID, filename string) string {
	return fmt.Sprintf("messages/%s/%s_%s", conversationID, uuid.NewString(), SanitizeFilename(filename))
}

// ListingImageKey is the object key of a listing gallery image.
func ListingImageKey(listingID utils.SixID, filename string) string {
	return fmt.Sprintf("listings/%s/%s_%s", listingID, uuid.NewString(), SanitizeFilename(filename))
}

// IsAllowedImageType reports whether uploads of contentType are accepted.
func IsAllowedImageType(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}
