// Package app wires the kiosk daemon together: state store, device session, bridge,
// configuration hot reload and the metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/arloliu/go-kiosk/bridge"
	"github.com/arloliu/go-kiosk/config"
	"github.com/arloliu/go-kiosk/kiosk"
	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/metrics"
	"github.com/arloliu/go-kiosk/state"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReloadDebounce  = time.Second
	metricsShutdownTimeout = 5 * time.Second
)

// Option configures an App.
type Option func(*App)

// WithConfigPath enables hot reload of the configuration file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogger sets the logger shared by all components.
func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithStore uses store instead of the store configured in the configuration.
// The App does not close a store passed this way.
func WithStore(store state.Store) Option {
	return func(a *App) { a.store = store }
}

// WithSessionOptions appends options to every session the App creates.
func WithSessionOptions(opts ...kiosk.SessionOption) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// WithConfigOverride sets a function applied to every configuration before it is
// validated, including reloaded ones.
func WithConfigOverride(override func(cfg *config.Config)) Option {
	return func(a *App) { a.override = override }
}

// WithReloadDebounce sets how long the App waits for further file events before it
// reloads the configuration.
func WithReloadDebounce(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.reloadDebounce = d
		}
	}
}

// App runs one kiosk session bridged to a state store.
type App struct {
	configPath     string
	logger         logger.Logger
	store          state.Store
	ownStore       bool
	sessionOpts    []kiosk.SessionOption
	reloadDebounce time.Duration
	override       func(cfg *config.Config)
	registry       *prom.Registry
	collector      *metrics.Collector

	mu          sync.Mutex // protects the fields below
	cfg         *config.Config
	session     *kiosk.Session
	unsubscribe func()
}

// New creates an App for cfg.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:            cfg,
		logger:         logger.GetLogger(),
		reloadDebounce: defaultReloadDebounce,
		registry:       prom.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cfg
}

// Session returns the active session.
func (a *App) Session() *kiosk.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.session
}

// Metrics returns the metrics of the active session, or nil before Run.
func (a *App) Metrics() *kiosk.ConnectionMetrics {
	if s := a.Session(); s != nil {
		return s.GetMetrics()
	}

	return nil
}

// Registry returns the Prometheus registry holding the session metrics.
func (a *App) Registry() *prom.Registry { return a.registry }

// Run starts the session and blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	if a.override != nil {
		a.override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.applyLogLevel(cfg)

	if err := a.openStore(ctx, cfg); err != nil {
		return err
	}
	defer a.closeStore()

	a.collector = metrics.NewCollector(prom.Labels{"instance_namespace": cfg.Namespace})
	if err := a.collector.Register(a.registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var watcher *configWatcher
	if a.configPath != "" {
		var err error
		if watcher, err = newConfigWatcher(a.configPath, a.reloadDebounce, a.logger); err != nil {
			return err
		}
	}

	if err := a.start(ctx, cfg); err != nil {
		if watcher != nil {
			watcher.close()
		}
		return err
	}
	defer a.stop()

	g, gctx := errgroup.WithContext(ctx)

	if watcher != nil {
		g.Go(func() error {
			return watcher.run(gctx, a.Reload)
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx, cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.logger.Info("kiosk daemon stopped")

	return err
}

// Reload replaces the active session with one built from cfg. An invalid cfg is
// rejected and the active session keeps running.
//
// The state store is not reopened: changes of the namespace or store section
// take effect on restart only.
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	if a.override != nil {
		a.override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	prev := a.Config()
	if prev != nil && (prev.Namespace != cfg.Namespace || prev.Store != cfg.Store) {
		a.logger.Warn("state store settings changed, restart to apply")
	}

	a.applyLogLevel(cfg)
	a.stop()

	if err := a.start(ctx, cfg); err != nil {
		return err
	}
	a.logger.Info("configuration reloaded", "host", cfg.Host, "port", cfg.Port, "pages", len(cfg.Pages))

	return nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	if a.store != nil {
		return nil
	}

	switch cfg.Store.Driver {
	case config.StoreNATS:
		store, err := state.NewNATSStore(ctx, state.NATSConfig{
			URL:       cfg.Store.NATSURL,
			Bucket:    cfg.Store.Bucket,
			Namespace: cfg.Namespace,
		}, a.logger)
		if err != nil {
			return err
		}
		a.store = store
	default:
		a.store = state.NewMemoryStore(cfg.Namespace)
	}
	a.ownStore = true

	return nil
}

func (a *App) closeStore() {
	if !a.ownStore {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Debug("failed to close state store", "error", err)
	}
}

// start creates, bridges and opens a session for cfg.
func (a *App) start(ctx context.Context, cfg *config.Config) error {
	opts := append(cfg.SessionOptions(), kiosk.WithLogger(a.logger))
	opts = append(opts, a.sessionOpts...)

	sessionCfg, err := kiosk.NewSessionConfig(cfg.Host, cfg.Port, opts...)
	if err != nil {
		return err
	}

	session := kiosk.NewSession(ctx, sessionCfg)
	b := bridge.New(session, a.store, cfg.SpeakTexts(), bridge.WithLogger(a.logger))

	unsubscribe, err := b.Attach(ctx, session)
	if err != nil {
		session.Destroy()
		return fmt.Errorf("failed to attach bridge: %w", err)
	}

	if err := session.Open(); err != nil {
		unsubscribe()
		session.Destroy()

		return err
	}

	a.mu.Lock()
	a.cfg = cfg
	a.session = session
	a.unsubscribe = unsubscribe
	a.mu.Unlock()

	if a.collector != nil {
		a.collector.Attach(session.GetMetrics())
	}

	a.logger.Info("kiosk session started", "session_id", session.ID(), "address", sessionCfg.Address())

	return nil
}

// stop destroys the active session.
func (a *App) stop() {
	a.mu.Lock()
	session, unsubscribe := a.session, a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if session == nil {
		return
	}

	// the disconnect is still reported to the store while the bridge is attached
	session.Destroy()
	if unsubscribe != nil {
		unsubscribe()
	}
	if a.collector != nil {
		a.collector.Attach(nil)
	}
}

func (a *App) applyLogLevel(cfg *config.Config) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return
	}
	a.logger.SetLevel(level)
}

func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(a.registry))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}
