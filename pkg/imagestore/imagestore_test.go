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

package imagestore_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/qualitylog/pkg/imagestore"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

type fakeObjects struct {
	objects     map[string][]byte
	contentType map[string]string
	buckets     map[string]bool
	putErr      error
	statErr     error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, contentType: map[string]string{}, buckets: map[string]bool{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true

	return nil
}

func (f *fakeObjects) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	if _, ok := f.objects[key]; !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	}

	return minio.ObjectInfo{Key: key}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, _, key string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	f.contentType[key] = opts.ContentType

	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

var _ = Describe("Store", func() {
	var (
		ctx     context.Context
		objects *fakeObjects
		store   *imagestore.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		objects = newFakeObjects()
		store = imagestore.New(objects, "reject-images", "https://cdn.example.com/")
	})

	It("creates a missing bucket", func() {
		Expect(store.EnsureBucket(ctx)).To(Succeed())
		Expect(objects.buckets).To(HaveKeyWithValue("reject-images", true))
	})

	It("uploads as jpeg and returns the public URL", func() {
		url, err := store.Upload(ctx, "rejects/P100_x.jpg", []byte{0xff, 0xd8})
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://cdn.example.com/reject-images/rejects/P100_x.jpg"))
		Expect(objects.objects["rejects/P100_x.jpg"]).To(Equal([]byte{0xff, 0xd8}))
		Expect(objects.contentType["rejects/P100_x.jpg"]).To(Equal(imagestore.ContentType))
	})

	It("never overwrites an existing object", func() {
		_, err := store.Upload(ctx, "rejects/a.jpg", []byte("first"))
		Expect(err).NotTo(HaveOccurred())

		url, err := store.Upload(ctx, "rejects/a.jpg", []byte("second"))
		Expect(err).To(MatchError(imagestore.ErrObjectExists))
		Expect(url).To(HaveSuffix("/reject-images/rejects/a.jpg"))
		Expect(string(objects.objects["rejects/a.jpg"])).To(Equal("first"))
	})

	DescribeTable("classifies upload failures",
		func(err error, kind remote.ErrorKind) {
			objects.putErr = err
			_, got := store.Upload(ctx, "rejects/b.jpg", []byte("x"))
			Expect(remote.KindOf(got)).To(Equal(kind))
		},
		Entry("network", &net.OpError{Op: "dial", Err: errors.New("no route to host")}, remote.KindConnectivity),
		Entry("server error", minio.ErrorResponse{Code: "InternalError", StatusCode: 503}, remote.KindConnectivity),
		Entry("throttled", minio.ErrorResponse{Code: "SlowDown", StatusCode: 429}, remote.KindConnectivity),
		Entry("access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, remote.KindValidation),
		Entry("too large", minio.ErrorResponse{Code: "EntityTooLarge", StatusCode: 400}, remote.KindValidation),
	)

	It("classifies stat failures other than a missing key", func() {
		objects.statErr = minio.ErrorResponse{Code: "InternalError", StatusCode: 500}
		_, err := store.Upload(ctx, "rejects/c.jpg", []byte("x"))
		Expect(remote.KindOf(err)).To(Equal(remote.KindConnectivity))
	})
})

var _ = Describe("RejectKey", func() {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)

	It("replaces colons and dots in the timestamp", func() {
		Expect(imagestore.RejectKey("P100", at, imagestore.SuffixDirect)).To(Equal("rejects/P100_2024-05-06T07-08-09-123Z.jpg"))
	})

	It("marks photos uploaded by the sync engine", func() {
		Expect(imagestore.RejectKey("P100", at, imagestore.SuffixOfflineSync)).To(Equal("rejects/P100_2024-05-06T07-08-09-123Z_offline_sync.jpg"))
	})

	It("normalises to UTC", func() {
		local := at.In(time.FixedZone("CET", 3600))
		Expect(imagestore.RejectKey("P100", local, imagestore.SuffixDirect)).To(Equal("rejects/P100_2024-05-06T07-08-09-123Z.jpg"))
	})
})

var _ = Describe("DecodeDataURL", func() {
	It("decodes a data URL", func() {
		data, err := imagestore.DecodeDataURL("data:image/jpeg;base64,/9j/4A==")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0xff, 0xd8, 0xff, 0xe0}))
	})

	It("accepts other image formats and bare payloads", func() {
		_, err := imagestore.DecodeDataURL("data:image/png;base64,iVBORw==")
		Expect(err).NotTo(HaveOccurred())
		_, err = imagestore.DecodeDataURL("/9j/4A==")
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("rejects malformed input",
		func(in string) {
			_, err := imagestore.DecodeDataURL(in)
			Expect(err).To(MatchError(imagestore.ErrInvalidDataURL))
		},
		Entry("not an image", "data:text/plain;base64,aGk="),
		Entry("not base64 encoded", "data:image/jpeg,raw"),
		Entry("missing comma", "data:image/jpeg;base64"),
		Entry("empty", ""),
		Entry("garbage payload", "data:image/jpeg;base64,***"),
	)
})
