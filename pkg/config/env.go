package config

const EnvPrefix = "CARTSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	SnapshotBackendSQL    = "sql"
	SnapshotBackendRedis  = "redis"
	SnapshotBackendMemory = "memory"
)

const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
)

const (
	EnvAppEnv           = "CARTSYNC_APP_ENV"
	EnvLogLevel         = "CARTSYNC_LOG_LEVEL"
	EnvRemoteCartURL    = "CARTSYNC_REMOTE_CART_URL"
	EnvRemoteCatalogURL = "CARTSYNC_REMOTE_CATALOG_URL"
	EnvRemoteTimeout    = "CARTSYNC_REMOTE_TIMEOUT"
	EnvCatalogCacheTTL  = "CARTSYNC_CATALOG_CACHE_TTL"
	EnvSnapshotBackend  = "CARTSYNC_SNAPSHOT_BACKEND"
	EnvSnapshotTTL      = "CARTSYNC_SNAPSHOT_TTL"
	EnvDBDriver         = "CARTSYNC_DB_DRIVER"
	EnvDBDSN            = "CARTSYNC_DB_DSN"
	EnvRedisURL         = "CARTSYNC_REDIS_URL"
	EnvRedisAddr        = "CARTSYNC_REDIS_ADDR"
	EnvJWTSecret        = "CARTSYNC_JWT_SECRET"
	EnvJWTIssuer        = "CARTSYNC_JWT_ISSUER"
	EnvMetricsAddr      = "CARTSYNC_METRICS_ADDR"
	EnvMaintenanceEvery = "CARTSYNC_MAINTENANCE_INTERVAL"
	EnvSessionToken     = "CARTSYNC_SESSION_TOKEN"
	EnvAnonSessionID    = "CARTSYNC_ANON_SESSION_ID"
)
