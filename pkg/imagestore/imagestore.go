// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imagestore uploads reject photos to S3 compatible object storage.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cristalhq/base64"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/config"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

const (
	// ContentType is used for every upload, whatever the source format.
	ContentType = "image/jpeg"

	// SuffixDirect names photos uploaded at submission time.
	SuffixDirect = ".jpg"
	// SuffixOfflineSync names photos uploaded while draining the queue.
	SuffixOfflineSync = "_offline_sync.jpg"
)

var (
	// ErrObjectExists is returned instead of overwriting an object. The URL of
	// the existing object is returned alongside it.
	ErrObjectExists = errors.New("object already exists")
	// ErrInvalidDataURL is returned for images that cannot be decoded.
	ErrInvalidDataURL = errors.New("invalid image data url")
)

// ObjectClient is the part of *minio.Client used here.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader stores images and hands out their public URLs.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

type Store struct {
	client    ObjectClient
	bucket    string
	publicURL string
	log       *zap.SugaredLogger
}

var _ Uploader = (*Store)(nil)

// NewMinioClient connects to the configured endpoint.
func NewMinioClient(cfg config.Minio) (*minio.Client, error) {
	if !cfg.Secure {
		zap.S().Warnf("Minio is not running in secure mode !")
	}

	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
}

// New builds a store. publicURL is the base the bucket is served under; when
// empty the endpoint itself is used.
func New(client ObjectClient, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		log:       logger.For(logger.ComponentImageStore),
	}
}

// EnsureBucket creates the bucket when it is missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("bucket exists", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{ObjectLocking: false}); err != nil {
		s.log.Errorf("Bucket '%s' does not exist and failed to create !", s.bucket)

		return classify("make bucket", err)
	}

	return nil
}

// PublicURL returns the URL an object is served under.
func (s *Store) PublicURL(key string) string {
	return s.publicURL + "/" + s.bucket + "/" + (&url.URL{Path: key}).EscapedPath()
}

// Upload writes data under key without overwriting. When key is taken it
// returns the existing object's URL together with ErrObjectExists.
func (s *Store) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return s.PublicURL(key), ErrObjectExists
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", classify("stat object", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ContentType})
	if err != nil {
		return "", classify("put object", err)
	}
	s.log.Debugw("Uploaded reject image", "key", key, "bytes", len(data))

	return s.PublicURL(key), nil
}

// classify decides from the HTTP status of an S3 error. Errors without a
// status never reached the server.
func classify(op string, err error) error {
	status := minio.ToErrorResponse(err).StatusCode
	switch {
	case status == 0:
		return remote.Wrap(op, err)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return remote.NewError(remote.KindConnectivity, op, err)
	case status >= 400:
		return remote.NewError(remote.KindValidation, op, err)
	default:
		return remote.NewError(remote.KindUnknown, op, err)
	}
}

// RejectKey builds the object key for a reject photo, e.g.
// rejects/P100_2024-05-06T07-08-09-123Z.jpg.
func RejectKey(partNo string, at time.Time, suffix string) string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)

	return fmt.Sprintf("rejects/%s_%s%s", partNo, ts, suffix)
}

// DecodeDataURL extracts the payload of data:image/<fmt>;base64,<payload>.
// A bare base64 string is accepted as well.
func DecodeDataURL(dataURL string) ([]byte, error) {
	payload := strings.TrimSpace(dataURL)
	if strings.HasPrefix(payload, "data:") {
		header, body, found := strings.Cut(payload, ",")
		if !found || !strings.HasSuffix(header, ";base64") || !strings.HasPrefix(header, "data:image/") {
			return nil, fmt.Errorf("%w: unsupported header %q", ErrInvalidDataURL, header)
		}
		payload = body
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}

	return data, nil
}
