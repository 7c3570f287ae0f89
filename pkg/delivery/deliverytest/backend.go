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

// Package deliverytest provides an in-memory backend for exercising delivery
// writers in tests.
package deliverytest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/united-manufacturing-hub/qualitylog/pkg/imagestore"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
)

// Backend is an in-memory image store, factory resolver and log writer.
type Backend struct {
	mu sync.Mutex

	rows      []models.NewSortingLog
	objects   map[string][]byte
	factories map[string]string

	insertFailure func(row models.NewSortingLog) error
	uploadErr     error
	resolveErr    error

	calls int
}

func NewBackend() *Backend {
	return &Backend{
		objects:   map[string][]byte{},
		factories: map[string]string{},
	}
}

// FailInserts makes InsertSortingLog return fn(row) whenever fn returns non-nil.
// A nil fn clears the failure.
func (m *Backend) FailInserts(fn func(row models.NewSortingLog) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertFailure = fn
}

func (m *Backend) FailUploads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

func (m *Backend) FailResolves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveErr = err
}

func (m *Backend) Upload(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	url := "mock://reject-images/" + key
	if _, ok := m.objects[key]; ok {
		return url, imagestore.ErrObjectExists
	}
	m.objects[key] = data

	return url, nil
}

func (m *Backend) Resolve(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := m.factories[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("factory-%d", len(m.factories)+1)
	m.factories[key] = id

	return id, nil
}

func (m *Backend) InsertSortingLog(_ context.Context, row models.NewSortingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.insertFailure != nil {
		if err := m.insertFailure(row); err != nil {
			return err
		}
	}
	m.rows = append(m.rows, row)

	return nil
}

// Rows returns a copy of every inserted row.
func (m *Backend) Rows() []models.NewSortingLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.NewSortingLog(nil), m.rows...)
}

// Objects returns the keys of every uploaded image.
func (m *Backend) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}

	return keys
}

// Calls counts every call into the backend, failed ones included.
func (m *Backend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}
