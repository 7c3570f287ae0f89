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

// Package config reads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

// Queue backends accepted in QUEUE_BACKEND.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// DefaultQueueMaxBytes mirrors the 5 MiB browser storage quota the queue was sized for.
const DefaultQueueMaxBytes = 5 * 1024 * 1024

type Postgres struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	LRUCacheSize int
}

// ConnString returns a libpq style connection string usable by pgx and lib/pq.
func (p Postgres) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type Minio struct {
	URL       string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	PublicURL string
}

type Queue struct {
	Backend  string
	Path     string
	MaxBytes int
	// Redis is only used by the redis backend.
	RedisURI      string
	RedisPassword string
	RedisDB       int
}

type Notice struct {
	QueuePath     string
	MQTTBrokerURL string
	MQTTTopic     string
}

type Config struct {
	Postgres               Postgres
	Minio                  Minio
	Queue                  Queue
	Notice                 Notice
	MonitorInterval        time.Duration
	RemoteTimeout          time.Duration
	AutoSync               bool
	IdempotencyKeys        bool
	FactoryDefaultLocation string
	APIPort                int
	SentryDSN              string
	Version                string
}

// Load reads every setting. All lookup errors are returned joined so a
// misconfigured deployment reports everything at once.
func Load() (Config, error) {
	var c Config
	var errs []error

	str := func(key string, required bool, fallback string) string {
		v, err := env.GetAsString(key, required, fallback)
		if err != nil {
			errs = append(errs, err)
		}

		return v
	}
	integer := func(key string, fallback int) int {
		v, err := env.GetAsInt(key, false, fallback)
		if err != nil {
			errs = append(errs, err)
		}

		return v
	}
	boolean := func(key string, fallback bool) bool {
		v, err := env.GetAsBool(key, false, fallback)
		if err != nil {
			errs = append(errs, err)
		}

		return v
	}

	c.Postgres = Postgres{
		Host:         str("POSTGRES_HOST", false, "db"),
		Port:         integer("POSTGRES_PORT", 5432),
		User:         str("POSTGRES_USER", true, ""),
		Password:     str("POSTGRES_PASSWORD", true, ""),
		Database:     str("POSTGRES_DATABASE", true, ""),
		SSLMode:      str("POSTGRES_SSL_MODE", false, "require"),
		LRUCacheSize: integer("POSTGRES_LRU_CACHE_SIZE", 1000),
	}

	c.Minio = Minio{
		URL:       str("MINIO_URL", true, ""),
		AccessKey: str("MINIO_ACCESS_KEY", true, ""),
		SecretKey: str("MINIO_SECRET_KEY", true, ""),
		Secure:    boolean("MINIO_SECURE", true),
		Bucket:    str("BUCKET_NAME", false, "reject-images"),
		PublicURL: str("MINIO_PUBLIC_URL", false, ""),
	}

	c.Queue = Queue{
		Backend:       str("QUEUE_BACKEND", false, BackendSQLite),
		Path:          str("QUEUE_PATH", false, "/data/queue"),
		MaxBytes:      integer("QUEUE_MAX_BYTES", DefaultQueueMaxBytes),
		RedisURI:      str("REDIS_URI", false, "redis:6379"),
		RedisPassword: str("REDIS_PASSWORD", false, ""),
		RedisDB:       integer("REDIS_DB", 0),
	}

	c.Notice = Notice{
		QueuePath:     str("NOTICE_QUEUE_PATH", false, "/data/notices"),
		MQTTBrokerURL: str("MQTT_BROKER_URL", false, ""),
		MQTTTopic:     str("MQTT_TOPIC", false, "qualitylog/notices"),
	}

	c.MonitorInterval = time.Duration(integer("MONITOR_INTERVAL_SECONDS", 5)) * time.Second
	c.RemoteTimeout = time.Duration(integer("REMOTE_TIMEOUT_SECONDS", 15)) * time.Second
	c.AutoSync = boolean("AUTO_SYNC", true)
	c.IdempotencyKeys = boolean("SYNC_IDEMPOTENCY_KEYS", false)
	c.FactoryDefaultLocation = str("FACTORY_DEFAULT_LOCATION", false, "Unknown")
	c.APIPort = integer("API_PORT", 8080)
	c.SentryDSN = str("SENTRY_DSN", false, "")
	c.Version = str("VERSION", false, "0.0.0-dev")

	if err := c.validate(); err != nil {
		errs = append(errs, err)
	}

	return c, errors.Join(errs...)
}

func (c Config) validate() error {
	switch c.Queue.Backend {
	case BackendSQLite, BackendLevelDB, BackendBadger, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend)
	}
	if c.Queue.MaxBytes <= 0 {
		return fmt.Errorf("QUEUE_MAX_BYTES must be positive, got %d", c.Queue.MaxBytes)
	}
	if c.MonitorInterval <= 0 {
		return errors.New("MONITOR_INTERVAL_SECONDS must be positive")
	}
	if c.RemoteTimeout <= 0 {
		return errors.New("REMOTE_TIMEOUT_SECONDS must be positive")
	}

	return nil
}
