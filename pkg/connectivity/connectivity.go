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

// Package connectivity answers whether the remote backend is probably reachable.
// Every answer is advisory: callers must stay correct when it is wrong.
package connectivity

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
)

type Oracle interface {
	IsOnline() bool
}

// Switch is a connectivity signal set by the host, e.g. the device shell
// forwarding its online/offline events.
type Switch struct {
	online atomic.Bool
}

func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)

	return s
}

func (s *Switch) Set(online bool) {
	s.online.Store(online)
}

func (s *Switch) IsOnline() bool {
	return s.online.Load()
}

// InterfaceLister returns the host's network interfaces.
type InterfaceLister func() (psnet.InterfaceStatList, error)

// Interfaces reports online when a non-loopback interface is up and has an address.
type Interfaces struct {
	list InterfaceLister
	log  *zap.SugaredLogger
}

func NewInterfaces(list InterfaceLister) *Interfaces {
	if list == nil {
		list = psnet.Interfaces
	}

	return &Interfaces{list: list, log: logger.For(logger.ComponentConnectivity)}
}

func (i *Interfaces) IsOnline() bool {
	ifaces, err := i.list()
	if err != nil {
		i.log.Warnw("Failed to list network interfaces, assuming offline", "error", err)

		return false
	}

	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return true
		}
	}

	return false
}

// Override lets an operator force the answer. While nothing is forced the
// fallback oracle decides.
type Override struct {
	mu       sync.RWMutex
	forced   *bool
	fallback Oracle
}

func NewOverride(fallback Oracle) *Override {
	return &Override{fallback: fallback}
}

func (o *Override) Set(online bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forced = &online
}

// Reset hands the decision back to the fallback.
func (o *Override) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forced = nil
}

// Forced returns the forced value, or nil when the fallback decides.
func (o *Override) Forced() *bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.forced == nil {
		return nil
	}
	v := *o.forced

	return &v
}

func (o *Override) IsOnline() bool {
	if forced := o.Forced(); forced != nil {
		return *forced
	}
	if o.fallback == nil {
		return true
	}

	return o.fallback.IsOnline()
}

// Transitions polls oracle every interval and sends the new state whenever it
// changes. The channel is closed when ctx is done.
func Transitions(ctx context.Context, oracle Oracle, interval time.Duration) <-chan bool {
	out := make(chan bool, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := oracle.IsOnline()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := oracle.IsOnline()
				if now == last {
					continue
				}
				last = now
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
