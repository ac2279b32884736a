package storage

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/tracing"
	"github.com/triagebox/mailsync/services/storage/aws_client"
)

const rawKeyPrefix = "raw/"

// RawEmailArchive stores the original RFC822 bytes of indexed messages in
// object storage, keyed by the document identity key. The archive is a side
// channel: the index never reads from it.
type RawEmailArchive struct {
	client     aws_client.S3Client
	bucketName string
}

func NewRawEmailArchive(client aws_client.S3Client, bucketName string) interfaces.StorageService {
	return &RawEmailArchive{
		client:     client,
		bucketName: bucketName,
	}
}

func (s *RawEmailArchive) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEmailArchive.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	uploadInput := s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	return s.client.Upload(ctx, uploadInput)
}

func (s *RawEmailArchive) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEmailArchive.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Download(ctx, s.bucketName, objectKey(key))
}

func (s *RawEmailArchive) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEmailArchive.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Delete(ctx, s.bucketName, objectKey(key))
}

func objectKey(identityKey string) string {
	return rawKeyPrefix + identityKey + ".eml"
}
