package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/catalog"
	"github.com/angelmondragon/cartsync/internal/cron"
	"github.com/angelmondragon/cartsync/internal/notifications"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/internal/session"
	"github.com/angelmondragon/cartsync/internal/snapshot"
	"github.com/angelmondragon/cartsync/internal/stock"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/migrate"
	"github.com/angelmondragon/cartsync/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

// Pinger reports whether a backing connection is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired cart components for one process.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.CartMetrics

	Engine   *cart.Engine
	Session  *session.Boundary
	Products *catalog.Cache
	Ledger   *stock.Ledger
	Store    cart.SnapshotStore
	Events   *notifications.Recorder
	// Maintenance purges expired snapshots and cache entries. Run it from
	// long-lived processes only.
	Maintenance *cron.Service
	// Pingers holds the snapshot backend connections by name.
	Pingers map[string]Pinger

	lock    cron.Lock
	closers []func() error
}

type options struct {
	httpClient  *http.Client
	anonymousID string
	token       string
}

// Option customizes New.
type Option func(*options)

// WithHTTPClient overrides the client used for the cart and catalog services.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithAnonymousID continues an existing anonymous session.
func WithAnonymousID(id string) Option {
	return func(o *options) { o.anonymousID = strings.TrimSpace(id) }
}

// WithToken starts the process signed in with a stored access token.
func WithToken(token string) Option {
	return func(o *options) { o.token = strings.TrimSpace(token) }
}

// New wires the engine and its collaborators from cfg. Call Start to load
// the cart and Close to release connections.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Logger:   logg,
		Registry: prometheus.NewRegistry(),
		Events:   notifications.NewRecorder(),
		Pingers:  map[string]Pinger{},
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewCartMetrics(a.Registry)

	clientOpts := []remote.ClientOption{remote.WithLogger(logg), remote.WithHTTPClient(o.httpClient)}
	cartClient, err := remote.NewCartClient(cfg.Remote, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("cart client: %w", err)
	}
	catalogClient, err := remote.NewCatalogClient(cfg.Remote, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}

	a.Products, err = catalog.NewCache(catalogClient,
		catalog.WithTTL(cfg.Catalog.CacheTTL),
		catalog.WithFetchTimeout(cfg.Remote.Timeout),
		catalog.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, err
	}
	a.Ledger = stock.NewLedger(stock.WithChangeHook(a.Products.Invalidate))

	a.Store, err = a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Engine, err = cart.NewEngine(cart.EngineParams{
		Remote:   cartClient,
		Products: a.Products,
		Ledger:   a.Ledger,
		Store:    a.Store,
		Notifier: notifications.Multi{notifications.NewLogNotifier(logg), a.Events},
		Logger:   logg,
		Metrics:  a.Metrics,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	sessionOpts := []session.Option{session.WithLogger(logg)}
	if o.anonymousID != "" {
		sessionOpts = append(sessionOpts, session.WithAnonymousID(o.anonymousID))
	}
	a.Session = session.NewBoundary(session.JWTParser(cfg.JWT), sessionOpts...)
	if o.token != "" {
		if _, err := a.Session.Resume(o.token); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("resume session: %w", err)
		}
	}
	a.Session.Subscribe(a.Engine)

	a.Maintenance, err = a.maintenance()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) maintenance() (*cron.Service, error) {
	registry := cron.NewRegistry()
	evict, err := cron.NewCacheEvictJob(a.Products, a.Logger)
	if err != nil {
		return nil, err
	}
	registry.Register(evict)
	if purger, ok := a.Store.(cron.SnapshotPurger); ok {
		purge, err := cron.NewSnapshotPurgeJob(purger, a.Logger)
		if err != nil {
			return nil, err
		}
		registry.Register(purge)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   a.Logger,
		Registry: registry,
		Lock:     a.lock,
		Metrics:  metrics.NewJobMetrics(a.Registry),
		Interval: a.Config.Maintenance.Interval,
	})
}

func (a *App) openStore(ctx context.Context) (cart.SnapshotStore, error) {
	cfg := a.Config
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendMemory:
		return snapshot.NewMemoryStore(), nil

	case config.SnapshotBackendRedis:
		client, err := redis.New(ctx, cfg.Redis, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Pingers["redis"] = client
		a.lock, err = cron.NewRedisLock(client, client.LockKey("maintenance"), cfg.Maintenance.LockTTL)
		if err != nil {
			return nil, err
		}
		return snapshot.NewRedisStore(client, cfg.Snapshot.TTL)

	case config.SnapshotBackendSQL, "":
		client, err := db.New(ctx, cfg.DB, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Pingers["db"] = client
		migrate.SetLogger(a.Logger)
		if err := migrate.MaybeRun(ctx, cfg.DB, a.Logger, client); err != nil {
			return nil, err
		}
		return snapshot.NewSQLStore(client, cfg.Snapshot.TTL)

	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}

// Start loads the cart of the current session.
func (a *App) Start(ctx context.Context) error {
	id := a.Session.Current()
	ctx = a.Logger.WithFields(ctx, map[string]any{
		"session_id":    id.SessionID,
		"authenticated": id.Authenticated,
		"backend":       a.Config.Snapshot.Backend,
	})
	a.Logger.Info(ctx, "loading cart")
	return a.Engine.Initialize(ctx, id)
}

// Close releases the snapshot backend connections.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
