// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

// UploadInput describes one object to store.
type UploadInput struct {
	Bucket      string
	Region      string
	Key         string
	Body        []byte
	ContentType string
}

// DownloadInput identifies one stored object.
type DownloadInput struct {
	Bucket string
	Region string
	Key    string
}

// ObjectStore is a credentialed blob store.
type ObjectStore interface {
	Upload(ctx context.Context, cred *entities.MediaCredential, input UploadInput) (string, error)
	Download(ctx context.Context, cred *entities.MediaCredential, input DownloadInput) ([]byte, error)
}

// S3Store talks to S3 or any S3 compatible service.
type S3Store struct {
	// Endpoint overrides the regional AWS endpoint, e.g. for MinIO.
	Endpoint string
	// Insecure disables TLS towards Endpoint.
	Insecure bool
}

var _ ObjectStore = (*S3Store)(nil)

func (s *S3Store) endpoint(region string) string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	if region == "" {
		return "s3.amazonaws.com"
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", region)
}

func (s *S3Store) client(cred *entities.MediaCredential, region string) (*minio.Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("missing media credential")
	}
	return minio.New(s.endpoint(region), &minio.Options{
		Creds:  credentials.NewStaticV4(cred.AccessKeyID, cred.SecretAccessKey, cred.SessionToken),
		Secure: !s.Insecure,
		Region: region,
	})
}

// objectKey scopes key under the credential's prefix, which is the only part
// of the bucket the credential grants access to.
func objectKey(cred *entities.MediaCredential, key string) string {
	if cred.KeyPrefix == "" || strings.HasPrefix(key, cred.KeyPrefix) {
		return key
	}
	return cred.KeyPrefix + key
}

// Upload stores the body and returns the full object key. A Content-MD5
// header is sent so the service verifies the body on the wire.
func (s *S3Store) Upload(ctx context.Context, cred *entities.MediaCredential, input UploadInput) (string, error) {
	cli, err := s.client(cred, input.Region)
	if err != nil {
		return "", fmt.Errorf("failed to create storage client: %w", err)
	}
	key := objectKey(cred, input.Key)
	contentType := input.ContentType
	if contentType == "" {
		contentType = DetectMimeType(input.Body)
	}
	_, err = cli.PutObject(ctx, input.Bucket, key, bytes.NewReader(input.Body), int64(len(input.Body)), minio.PutObjectOptions{
		ContentType:    contentType,
		SendContentMd5: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}

func (s *S3Store) Download(ctx context.Context, cred *entities.MediaCredential, input DownloadInput) ([]byte, error) {
	cli, err := s.client(cred, input.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	key := objectKey(cred, input.Key)
	obj, err := cli.GetObject(ctx, input.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}
