package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"threshold_bot/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // пусто — обычный AWS; иначе S3-совместимое хранилище (MinIO, R2)
	AccessKey string
	SecretKey string
	Prefix    string
}

// ObjectPutter — часть s3.Client, которая нужна архиву.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive после каждой сделки заливает текущий CSV целиком в bucket.
type S3Archive struct {
	client ObjectPutter
	bucket string
	key    string
	src    string
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewS3Archive: ключ объекта <prefix>/<pair>/<имя файла журнала>.
func NewS3Archive(client ObjectPutter, bucket, prefix, pair, src string) *S3Archive {
	key := path.Join(strings.Trim(prefix, "/"), strings.ToLower(pair), path.Base(src))
	return &S3Archive{client: client, bucket: bucket, key: key, src: src}
}

func (a *S3Archive) Key() string { return a.key }

func (a *S3Archive) Append(ctx context.Context, _ models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("S3Archive.Append: %w", err)
		}
	}()

	b, err := os.ReadFile(a.src)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("text/csv"),
	})
	return err
}
