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

package notice_test

import (
	"errors"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
)

type recorder struct {
	got []notice.Notice
	err error
}

func (r *recorder) Notify(n notice.Notice) error {
	r.got = append(r.got, n)

	return r.err
}

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	token   *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.payload = payload.([]byte)

	return p.token
}

var _ = Describe("Fanout", func() {
	It("delivers to every sink even when one fails", func() {
		failing := &recorder{err: errors.New("broker down")}
		healthy := &recorder{}
		fan := notice.Fanout{failing, nil, healthy, notice.NewLogSink()}

		err := fan.Notify(notice.New(notice.LevelOffline, "Saved Offline", "queued"))
		Expect(err).To(MatchError(ContainSubstring("broker down")))
		Expect(failing.got).To(HaveLen(1))
		Expect(healthy.got).To(HaveLen(1))
		Expect(healthy.got[0].Level).To(Equal(notice.LevelOffline))
	})

	It("accepts the discard sink", func() {
		Expect(notice.Discard.Notify(notice.New(notice.LevelSuccess, "ok", ""))).To(Succeed())
	})
})

var _ = Describe("Feed", func() {
	var feed *notice.Feed

	BeforeEach(func() {
		var err error
		feed, err = notice.OpenFeed(filepath.Join(GinkgoT().TempDir(), "notices"), 3)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(feed.Close()).To(Succeed())
		})
	})

	It("drains notices oldest first", func() {
		Expect(feed.Notify(notice.New(notice.LevelSuccess, "Sync Complete", "Successfully uploaded 2 logs."))).To(Succeed())
		Expect(feed.Notify(notice.New(notice.LevelError, "Sync Issues", "Failed to upload 1 logs. Please try again."))).To(Succeed())

		got, err := feed.Drain(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Title).To(Equal("Sync Complete"))
		Expect(got[1].Level).To(Equal(notice.LevelError))
		Expect(feed.Len()).To(BeZero())
	})

	It("honours the drain limit", func() {
		for i := 0; i < 3; i++ {
			Expect(feed.Notify(notice.New(notice.LevelSuccess, "Success", ""))).To(Succeed())
		}

		got, err := feed.Drain(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(feed.Len()).To(BeEquivalentTo(1))
	})

	It("drops the oldest notice when full", func() {
		for _, title := range []string{"a", "b", "c", "d"} {
			Expect(feed.Notify(notice.New(notice.LevelSuccess, title, ""))).To(Succeed())
		}

		got, err := feed.Drain(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(3))
		Expect(got[0].Title).To(Equal("b"))
	})

	It("returns an empty slice when nothing is queued", func() {
		got, err := feed.Drain(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())
		Expect(got).To(BeEmpty())
	})
})

var _ = Describe("MQTTSink", func() {
	It("publishes the notice as JSON", func() {
		pub := &fakePublisher{token: &fakeToken{}}
		sink := notice.NewMQTTSink(pub, "qualitylog/notices")

		Expect(sink.Notify(notice.New(notice.LevelOffline, "Saved Offline", "Will sync when online"))).To(Succeed())
		Expect(pub.topic).To(Equal("qualitylog/notices"))
		Expect(pub.qos).To(BeEquivalentTo(1))

		var got notice.Notice
		Expect(json.Unmarshal(pub.payload, &got)).To(Succeed())
		Expect(got.Title).To(Equal("Saved Offline"))
		Expect(got.Level).To(Equal(notice.LevelOffline))
	})

	It("reports publish failures", func() {
		sink := notice.NewMQTTSink(&fakePublisher{token: &fakeToken{err: errors.New("not connected")}}, "t")
		Expect(sink.Notify(notice.New(notice.LevelError, "x", ""))).To(MatchError(ContainSubstring("not connected")))
	})

	It("reports timeouts", func() {
		sink := notice.NewMQTTSink(&fakePublisher{token: &fakeToken{timedOut: true}}, "t")
		Expect(sink.Notify(notice.New(notice.LevelError, "x", ""))).To(MatchError(ContainSubstring("timed out")))
	})
})
