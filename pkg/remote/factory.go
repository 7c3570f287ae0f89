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

package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/EagleChen/mapmutex"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
)

// ErrFactoryBusy is returned when another resolution of the same name holds the lock too long.
var ErrFactoryBusy = errors.New("factory resolution for this name is already in progress")

// FactoryResolver turns a factory name into its id, creating the factory when
// no case-insensitive match exists. Lookup and create are not transactional,
// so two devices can still create duplicates; inside this process a per-name
// lock and a cache prevent it.
type FactoryResolver struct {
	store    FactoryStore
	location string
	cache    *lru.ARCCache
	locks    *mapmutex.Mutex
	log      *zap.SugaredLogger
}

func NewFactoryResolver(store FactoryStore, cacheSize int, defaultLocation string) (*FactoryResolver, error) {
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}

	return &FactoryResolver{
		store:    store,
		location: defaultLocation,
		cache:    cache,
		locks:    mapmutex.NewCustomizedMapMutex(800, 100000000, 10, 1.1, 0.2),
		log:      logger.For(logger.ComponentRemote),
	}, nil
}

func cacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve returns the id of the factory called name.
func (r *FactoryResolver) Resolve(ctx context.Context, name string) (string, error) {
	key := cacheKey(name)
	if key == "" {
		return "", NewError(KindValidation, "resolve factory", errors.New("factory name is empty"))
	}

	if id, ok := r.cache.Get(key); ok {
		return id.(string), nil
	}

	if !r.locks.TryLock(key) {
		return "", NewError(KindUnknown, "resolve factory", ErrFactoryBusy)
	}
	defer r.locks.Unlock(key)

	// Another caller may have filled the cache while we waited.
	if id, ok := r.cache.Get(key); ok {
		return id.(string), nil
	}

	id, found, err := r.store.FindFactoryByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", Wrap("find factory", err)
	}
	if !found {
		id, err = r.store.CreateFactory(ctx, strings.TrimSpace(name), r.location)
		if err != nil {
			return "", Wrap("create factory", err)
		}
		r.log.Infow("Created factory", "name", name, "id", id)
	}

	r.cache.Add(key, id)

	return id, nil
}

// Forget drops a cached id, e.g. after the factory row was deleted.
func (r *FactoryResolver) Forget(name string) {
	r.cache.Remove(cacheKey(name))
}
