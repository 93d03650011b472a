// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// S3Client abstracts the S3 API operations used by S3Store.
// The s3.Client type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3 or S3-compatible client
type S3Options struct {
	Region          string
	Endpoint        string // empty for AWS; set for MinIO, R2 and friends
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an s3.Client with static credentials
func NewS3Client(o S3Options) (*s3.Client, error) {
	if o.Region == "" {
		return nil, errors.New("storage: s3 region is required")
	}
	if o.AccessKeyID == "" || o.SecretAccessKey == "" {
		return nil, errors.New("storage: s3 credentials are required")
	}
	opts := s3.Options{
		Region:       o.Region,
		UsePathStyle: o.UsePathStyle,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     o.AccessKeyID,
				SecretAccessKey: o.SecretAccessKey,
				SessionToken:    o.SessionToken,
				Source:          "callbridge",
			}, nil
		}),
	}
	if o.Endpoint != "" {
		opts.BaseEndpoint = aws.String(o.Endpoint)
	}
	return s3.New(opts), nil
}

// S3Store uploads recordings as objects under an optional key prefix
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed Store. Prefix is prepended to all object keys;
// pass "" for no prefix.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	key := s.key(name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("audio/wav"),
	})
	if err != nil {
		if code, ok := apiErrorCode(err); ok {
			return fmt.Errorf("storage: put s3://%s/%s (%s): %w", s.bucket, key, code, err)
		}
		return fmt.Errorf("storage: put s3://%s/%s: %w", s.bucket, key, err)
	}
	log.Debug().Str("module", "storage").Str("bucket", s.bucket).Str("key", key).Int("bytes", len(data)).Msg("recording uploaded")
	return nil
}

// apiErrorCode extracts the service error code, e.g. "NoSuchBucket"
func apiErrorCode(err error) (string, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode(), true
	}
	return "", false
}

var _ Store = (*S3Store)(nil)
