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

package slot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/qualitylog/pkg/config"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue/slot"
)

func slotContract(open func() slot.Slot) {
	var (
		s   slot.Slot
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = open()
		DeferCleanup(func() {
			Expect(s.Close()).To(Succeed())
		})
	})

	It("returns ErrNotFound for a key never written", func() {
		_, err := s.Get(ctx, "offline_sorting_logs")
		Expect(err).To(MatchError(slot.ErrNotFound))
	})

	It("returns the last value written", func() {
		Expect(s.Put(ctx, "offline_sorting_logs", []byte(`[1]`))).To(Succeed())
		Expect(s.Put(ctx, "offline_sorting_logs", []byte(`[1,2]`))).To(Succeed())

		v, err := s.Get(ctx, "offline_sorting_logs")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal(`[1,2]`))
	})

	It("keeps keys independent", func() {
		Expect(s.Put(ctx, "a", []byte("1"))).To(Succeed())
		Expect(s.Put(ctx, "b", []byte("2"))).To(Succeed())

		v, err := s.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal("1"))
	})

	It("forgets deleted keys and tolerates deleting twice", func() {
		Expect(s.Put(ctx, "a", []byte("1"))).To(Succeed())
		Expect(s.Delete(ctx, "a")).To(Succeed())
		Expect(s.Delete(ctx, "a")).To(Succeed())

		_, err := s.Get(ctx, "a")
		Expect(err).To(MatchError(slot.ErrNotFound))
	})
}

var _ = Describe("Memory", func() {
	slotContract(func() slot.Slot { return slot.NewMemory() })

	It("fails writes on demand and recovers", func() {
		ctx := context.Background()
		m := slot.NewMemory()
		boom := errors.New("quota exceeded")

		m.FailWrites(boom)
		Expect(m.Put(ctx, "k", []byte("v"))).To(MatchError(boom))
		_, err := m.Get(ctx, "k")
		Expect(err).To(MatchError(slot.ErrNotFound))

		m.FailWrites(nil)
		Expect(m.Put(ctx, "k", []byte("v"))).To(Succeed())
		Expect(m.PutCalls()).To(Equal(2))
	})

	It("does not alias the caller's buffer", func() {
		ctx := context.Background()
		m := slot.NewMemory()
		buf := []byte("abc")
		Expect(m.Put(ctx, "k", buf)).To(Succeed())
		buf[0] = 'x'

		v, err := m.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal("abc"))
	})

	It("rejects use after close", func() {
		m := slot.NewMemory()
		Expect(m.Close()).To(Succeed())
		_, err := m.Get(context.Background(), "k")
		Expect(err).To(MatchError(slot.ErrClosed))
	})
})

var _ = Describe("SQLite", func() {
	slotContract(func() slot.Slot {
		s, err := slot.NewSQLite(filepath.Join(GinkgoT().TempDir(), "queue.db"))
		Expect(err).NotTo(HaveOccurred())

		return s
	})

	It("survives a reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "queue.db")

		s, err := slot.NewSQLite(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Put(ctx, "k", []byte("persisted"))).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s, err = slot.NewSQLite(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		v, err := s.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal("persisted"))
	})
})

var _ = Describe("LevelDB", func() {
	slotContract(func() slot.Slot {
		s, err := slot.NewLevelDB(filepath.Join(GinkgoT().TempDir(), "leveldb"))
		Expect(err).NotTo(HaveOccurred())

		return s
	})
})

var _ = Describe("Badger", func() {
	slotContract(func() slot.Slot {
		s, err := slot.NewBadger("")
		Expect(err).NotTo(HaveOccurred())

		return s
	})
})

var _ = Describe("Redis", func() {
	BeforeEach(func() {
		if os.Getenv("TEST_REDIS_URI") == "" {
			Skip("TEST_REDIS_URI not set")
		}
	})

	slotContract(func() slot.Slot {
		s, err := slot.NewRedis(&redis.Options{Addr: os.Getenv("TEST_REDIS_URI")})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Delete(context.Background(), "offline_sorting_logs")).To(Succeed())
		Expect(s.Delete(context.Background(), "a")).To(Succeed())

		return s
	})
})

var _ = Describe("Open", func() {
	It("builds the configured backend", func() {
		s, err := slot.Open(config.Queue{Backend: config.BackendSQLite, Path: GinkgoT().TempDir()})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&slot.SQLite{}))
		Expect(s.Close()).To(Succeed())

		s, err = slot.Open(config.Queue{Backend: config.BackendMemory})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&slot.Memory{}))
	})

	It("rejects unknown backends", func() {
		_, err := slot.Open(config.Queue{Backend: "tape"})
		Expect(err).To(HaveOccurred())
	})
})
