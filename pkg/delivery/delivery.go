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

// Package delivery writes one inspection record to the hosted backend: reject
// photo first, then the factory id, then the sorting_logs row. The submission
// coordinator and the sync engine both go through it.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/imagestore"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

// DefaultTimeout bounds every single backend call.
const DefaultTimeout = 15 * time.Second

// FactoryResolver is satisfied by *remote.FactoryResolver.
type FactoryResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Attempt describes how one record is written.
type Attempt struct {
	// ImageSuffix ends the object key of the reject photo.
	ImageSuffix string
	// ImageTime is the time stamped into the object key.
	ImageTime time.Time
	// LoggedAt overrides the server assigned logged_at when set.
	LoggedAt *time.Time
	// ClientRef is written when the backend deduplicates on it.
	ClientRef string
}

type Writer struct {
	images    imagestore.Uploader
	factories FactoryResolver
	logs      remote.LogWriter
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// NewWriter builds a writer. A timeout <= 0 selects DefaultTimeout.
func NewWriter(images imagestore.Uploader, factories FactoryResolver, logs remote.LogWriter, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Writer{
		images:    images,
		factories: factories,
		logs:      logs,
		timeout:   timeout,
		log:       logger.For(logger.ComponentDelivery),
	}
}

// DecodeImage returns the photo attached to rec, nil when there is none.
// A malformed photo is a validation error.
func DecodeImage(rec models.InspectionRecord) ([]byte, error) {
	if !rec.HasImage() {
		return nil, nil
	}
	data, err := imagestore.DecodeDataURL(*rec.RejectImage)
	if err != nil {
		return nil, remote.NewError(remote.KindValidation, "decode image", err)
	}

	return data, nil
}

// Write uploads the photo, resolves the factory and inserts the row. Every
// returned error carries a remote.ErrorKind. rec itself is never modified.
func (w *Writer) Write(ctx context.Context, rec models.InspectionRecord, a Attempt) error {
	image, err := DecodeImage(rec)
	if err != nil {
		return err
	}

	var imageURL *string
	if image != nil {
		url, err := w.upload(ctx, imagestore.RejectKey(rec.PartNo, a.ImageTime, a.ImageSuffix), image)
		if err != nil {
			return err
		}
		imageURL = &url
	}

	factoryID := rec.FactoryID
	if !rec.HasFactory() && strings.TrimSpace(rec.FactoryName) != "" {
		var id string
		err := w.call(ctx, func(ctx context.Context) (err error) {
			id, err = w.factories.Resolve(ctx, rec.FactoryName)

			return err
		})
		if err != nil {
			return remote.Wrap("resolve factory", err)
		}
		factoryID = &id
	}

	row := models.NewSortingLog{
		PartNo:             rec.PartNo,
		QuantityAllSorting: rec.QuantityAllSorting,
		QuantityNg:         rec.QuantityNg,
		OperatorName:       rec.OperatorName,
		FactoryID:          factoryID,
		RejectImageURL:     imageURL,
		NgType:             rec.NgType,
		LoggedAt:           a.LoggedAt,
	}
	if a.ClientRef != "" {
		row.ClientRef = models.StringPtr(a.ClientRef)
	}

	err = w.call(ctx, func(ctx context.Context) error {
		return w.logs.InsertSortingLog(ctx, row)
	})

	return remote.Wrap("insert sorting log", err)
}

func (w *Writer) upload(ctx context.Context, key string, image []byte) (string, error) {
	var url string
	err := w.call(ctx, func(ctx context.Context) (err error) {
		url, err = w.images.Upload(ctx, key, image)

		return err
	})
	if errors.Is(err, imagestore.ErrObjectExists) {
		// Left behind by an earlier attempt whose insert failed.
		w.log.Infow("Reusing uploaded reject image", "key", key)

		return url, nil
	}
	if err != nil {
		return "", remote.Wrap("upload image", err)
	}

	return url, nil
}

func (w *Writer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return fn(ctx)
}
