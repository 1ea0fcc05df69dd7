package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"time"

	"collie-procedures-backend/pkg/adapters/awsconfig"
	"collie-procedures-backend/pkg/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// presignExpiry es la vigencia de las URLs prefirmadas.
const presignExpiry = 5 * time.Minute

type s3FileStorage struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string
}

// NewS3FileStorage crea una nueva instancia de S3FileStorage
func NewS3FileStorage(ctx context.Context, bucketName string) (ports.FileStorage, error) {
	cfg, err := awsconfig.Load(ctx)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack no resuelve buckets como subdominio
		o.UsePathStyle = os.Getenv("AWS_SAM_LOCAL") == "true"
	})

	return &s3FileStorage{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucketName: bucketName,
	}, nil
}

// GeneratePresignedUploadURL implementa ports.FileStorage.
func (s *s3FileStorage) GeneratePresignedUploadURL(ctx context.Context, key, contentType string) (string, error) {
	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpiry)) // URL válida por 5 minutos
	if err != nil {
		return "", fmt.Errorf("failed to presign put object: %w", err)
	}
	return request.URL, nil
}

// GeneratePresignedDownloadURL implementa ports.FileStorage.
func (s *s3FileStorage) GeneratePresignedDownloadURL(ctx context.Context, key, fileName string) (string, error) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucketName),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(disposition),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return request.URL, nil
}

// Open implementa ports.FileStorage. El llamador debe cerrar el cuerpo.
func (s *s3FileStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

// Asegurarse de que s3FileStorage implementa ports.FileStorage
var _ ports.FileStorage = (*s3FileStorage)(nil)
