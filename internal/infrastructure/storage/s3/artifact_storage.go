package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

const contentTypePNG = "image/png"

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeyPrefix       string
}

// ArtifactStorage хранит слоты артефактов в S3-совместимом хранилище.
// PutObject атомарен: читатель видит либо старый, либо новый объект целиком.
type ArtifactStorage struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

func NewArtifactStorage(ctx context.Context, cfg Config) (*ArtifactStorage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("s3 access key id and secret are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ru-central1"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://storage.yandexcloud.net"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
		options.UsePathStyle = cfg.UsePathStyle
		// S3-совместимые хранилища не всегда поддерживают новые checksum-заголовки
		options.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		options.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &ArtifactStorage{
		client:    client,
		bucket:    strings.TrimSpace(cfg.Bucket),
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *ArtifactStorage) Put(ctx context.Context, testID string, slot valueobject.ArtifactSlot, data []byte) error {
	key, err := s.key(testID, slot)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentTypePNG),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put object %s failed: %w", key, err)
	}
	return nil
}

func (s *ArtifactStorage) Get(ctx context.Context, testID string, slot valueobject.ArtifactSlot) ([]byte, error) {
	key, err := s.key(testID, slot)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, port.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get object %s failed: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s failed: %w", key, err)
	}
	return data, nil
}

func (s *ArtifactStorage) Exists(ctx context.Context, testID string, slot valueobject.ArtifactSlot) (bool, error) {
	key, err := s.key(testID, slot)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s failed: %w", key, err)
	}
	return true, nil
}

// Delete идемпотентен: S3 DeleteObject не возвращает ошибку для отсутствующего ключа
func (s *ArtifactStorage) Delete(ctx context.Context, testID string, slot valueobject.ArtifactSlot) error {
	key, err := s.key(testID, slot)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object %s failed: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность бакета (readiness)
func (s *ArtifactStorage) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket failed: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) key(testID string, slot valueobject.ArtifactSlot) (string, error) {
	if strings.TrimSpace(testID) == "" {
		return "", fmt.Errorf("test id is required")
	}
	if err := slot.Validate(); err != nil {
		return "", err
	}
	return port.ArtifactKey(s.keyPrefix, testID, slot), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
