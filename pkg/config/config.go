package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Remote      RemoteConfig
	Catalog     CatalogConfig
	Snapshot    SnapshotConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Metrics     MetricsConfig
	Maintenance MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Snapshot.validate(); err != nil {
		return nil, err
	}
	if cfg.Snapshot.Backend == SnapshotBackendSQL {
		if err := cfg.DB.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Snapshot.Backend == SnapshotBackendRedis && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("%s or %s is required for the redis snapshot backend", EnvRedisURL, EnvRedisAddr)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTSYNC_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RemoteConfig struct {
	CartBaseURL    string        `envconfig:"CARTSYNC_REMOTE_CART_URL" required:"true"`
	CatalogBaseURL string        `envconfig:"CARTSYNC_REMOTE_CATALOG_URL"`
	Timeout        time.Duration `envconfig:"CARTSYNC_REMOTE_TIMEOUT" default:"10s"`

	BreakerMaxFailures uint32        `envconfig:"CARTSYNC_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"CARTSYNC_BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerInterval    time.Duration `envconfig:"CARTSYNC_BREAKER_INTERVAL" default:"1m"`
}

// CatalogURL falls back to the cart service host when no catalog url is configured.
func (r RemoteConfig) CatalogURL() string {
	if strings.TrimSpace(r.CatalogBaseURL) != "" {
		return r.CatalogBaseURL
	}
	return r.CartBaseURL
}

func (r RemoteConfig) validate() error {
	for env, raw := range map[string]string{EnvRemoteCartURL: r.CartBaseURL, EnvRemoteCatalogURL: r.CatalogBaseURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", env, raw)
		}
	}
	return nil
}

type CatalogConfig struct {
	CacheTTL time.Duration `envconfig:"CARTSYNC_CATALOG_CACHE_TTL" default:"30s"`
}

type SnapshotConfig struct {
	Backend string        `envconfig:"CARTSYNC_SNAPSHOT_BACKEND" default:"sql"`
	TTL     time.Duration `envconfig:"CARTSYNC_SNAPSHOT_TTL" default:"720h"`
}

func (s SnapshotConfig) validate() error {
	switch s.Backend {
	case SnapshotBackendSQL, SnapshotBackendRedis, SnapshotBackendMemory:
		return nil
	default:
		return fmt.Errorf("%s must be one of sql, redis, memory; got %q", EnvSnapshotBackend, s.Backend)
	}
}

type MaintenanceConfig struct {
	Interval time.Duration `envconfig:"CARTSYNC_MAINTENANCE_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"CARTSYNC_MAINTENANCE_LOCK_TTL" default:"55m"`
}

type DBConfig struct {
	Driver      string `envconfig:"CARTSYNC_DB_DRIVER" default:"sqlite"`
	DSN         string `envconfig:"CARTSYNC_DB_DSN" default:"file:cartsync.db?cache=shared"`
	AutoMigrate bool   `envconfig:"CARTSYNC_DB_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"CARTSYNC_DB_MAX_OPEN_CONNS" default:"4"`
	MaxIdleConns    int           `envconfig:"CARTSYNC_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"CARTSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
}

func (d DBConfig) validate() error {
	switch d.Driver {
	case DBDriverSQLite, DBDriverPostgres:
	default:
		return fmt.Errorf("%s must be sqlite or postgres; got %q", EnvDBDriver, d.Driver)
	}
	if strings.TrimSpace(d.DSN) == "" {
		return fmt.Errorf("%s is required for the sql snapshot backend", EnvDBDSN)
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address      string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"4"`
	DialTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	// Secret is optional on the client; without it tokens are decoded but not verified.
	Secret string `envconfig:"CARTSYNC_JWT_SECRET"`
	Issuer string `envconfig:"CARTSYNC_JWT_ISSUER"`
}

type MetricsConfig struct {
	Addr string `envconfig:"CARTSYNC_METRICS_ADDR"`
}
