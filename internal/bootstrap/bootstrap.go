package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	domainauth "tuya-ble-cloud/internal/domain/auth"
	"tuya-ble-cloud/internal/domain/cloud"
	"tuya-ble-cloud/internal/domain/credential"
	"tuya-ble-cloud/internal/domain/credential/cache"
	"tuya-ble-cloud/internal/domain/credential/model"
	"tuya-ble-cloud/internal/domain/entry"
	"tuya-ble-cloud/internal/domain/eventbus"
	platformconfig "tuya-ble-cloud/internal/platform/config"
	platformerrors "tuya-ble-cloud/internal/platform/errors"
	platformlogging "tuya-ble-cloud/internal/platform/logging"
	platformobservability "tuya-ble-cloud/internal/platform/observability"
	platformstorage "tuya-ble-cloud/internal/platform/storage"
	httptransport "tuya-ble-cloud/internal/transport/http"
	httpcredentials "tuya-ble-cloud/internal/transport/http/credentials"
)

// Options tunes Run.
type Options struct {
	// ConfigPath pins the config file; empty searches the default locations.
	ConfigPath string
	// DisableDotEnv skips loading .env.
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	entries               entry.Store
	bus                   *eventbus.AsyncEventBus
	journal               *eventbus.Journal
	cache                 *cache.Cache
	resolver              *credential.Resolver
	issuer                *domainauth.TokenIssuer
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}

	steps := InitGraph()
	err := executeInitSteps(ctx, steps, state)
	defer state.close()
	if err != nil {
		return err
	}

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

// close releases everything the init steps opened, in reverse order.
func (s *appState) close() {
	logger := s.logger
	warn := func(format string, args ...any) {
		if logger != nil {
			logger.WarnTag("引导", format, args...)
		}
	}

	if s.bus != nil {
		s.bus.Stop()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			warn("缓存未正常关闭: %v", err)
		}
	}
	if s.entries != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.entries.Close(ctx); err != nil {
			warn("配置条目存储未正常关闭: %v", err)
		}
		cancel()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			warn("数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(ctx); err != nil {
			warn("可观测性未正常关闭: %v", err)
		}
		cancel()
	}
	if logger != nil {
		logger.InfoTag("引导", "资源已释放")
		_ = logger.Close()
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.DebugTag("引导", "%s: %s", step.ID, step.Title)
			continue
		}
		logger.DebugTag("引导", "%s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindConfig,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Configure observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:open-database",
			Title:     "Open SQLite database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openDatabaseStep,
		},
		{
			ID:        "entries:init-store",
			Title:     "Initialise config entry registry",
			DependsOn: []string{"storage:open-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initEntryStoreStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Start credential event bus",
			DependsOn: []string{"storage:open-database"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "credential:init-resolver",
			Title:     "Initialise credential resolver",
			DependsOn: []string{"events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initResolverStep,
		},
		{
			ID:        "auth:init-issuer",
			Title:     "Initialise operator token issuer",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindConfig,
			Execute:   initAuthStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().
		WithDotEnv(!state.opts.DisableDotEnv).
		WithPath(state.opts.ConfigPath)
	result, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return err
	}
	state.logger = logger

	if state.configPath != "" {
		logger.InfoTag("引导", "配置文件: %s", state.configPath)
	} else {
		logger.InfoTag("引导", "未找到配置文件，使用默认配置")
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: state.config.Obs.Enabled,
	}, state.logger.Slog())
	if err != nil {
		return err
	}
	state.observabilityShutdown = shutdown
	return nil
}

func openDatabaseStep(ctx context.Context, state *appState) error {
	if !strings.EqualFold(state.config.Entries.Driver, entry.DriverSQLite) {
		return nil
	}
	db, err := platformstorage.Open(ctx, platformstorage.Config{DSN: state.config.Entries.SQLite.DSN})
	if err != nil {
		return err
	}
	state.db = db
	state.logger.InfoTag("存储", "SQLite 数据库已打开: %s", state.config.Entries.SQLite.DSN)
	return nil
}

func initEntryStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.Entries
	storeCfg := entry.Config{Driver: strings.ToLower(cfg.Driver)}
	if storeCfg.Driver == entry.DriverRedis {
		storeCfg.Redis = &entry.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	store, err := entry.New(storeCfg, entry.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return err
	}
	state.entries = store
	state.logger.InfoTag("存储", "配置条目存储驱动: %s", storeCfg.Driver)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	busLogger := state.logger.Tagged("事件")
	bus := eventbus.NewAsyncEventBus(state.config.Events.Workers, busLogger)
	if err := eventbus.SubscribeLogging(bus, busLogger); err != nil {
		return err
	}
	if state.db != nil {
		journal := eventbus.NewJournal(state.db, busLogger)
		if err := journal.Subscribe(bus); err != nil {
			return err
		}
		state.journal = journal
	}
	bus.Start()
	state.bus = bus
	return nil
}

func initResolverStep(_ context.Context, state *appState) error {
	cacheOpts := []cache.Option{cache.WithLogger(state.logger.Tagged("Cache"))}
	if ttl := state.config.Cloud.CacheTTL; ttl > 0 {
		cacheOpts = append(cacheOpts, cache.WithExpiryPolicy(cache.TTL(ttl)))
	}
	state.cache = cache.New(cacheOpts...)

	resolver, err := credential.NewResolver(credential.Options{
		Cache:     state.cache,
		NewClient: clientFactory(state.config.Cloud, state.logger),
		Events:    state.bus,
		Logger:    state.logger.Tagged("Resolver"),
	})
	if err != nil {
		return err
	}
	state.resolver = resolver
	return nil
}

// clientFactory builds one signing client per login, tuned by the cloud config.
func clientFactory(cfg platformconfig.CloudConfig, logger *platformlogging.Logger) credential.ClientFactory {
	cloudLogger := logger.Tagged("Cloud")
	return func(login model.LoginIdentity) credential.LoginClient {
		region := login.Region
		if region == "" {
			region = cfg.DefaultRegion
		}
		return cloud.NewClient(cloud.Config{
			Region:          region,
			AccessID:        login.AccessID,
			AccessSecret:    login.AccessSecret,
			AccountDeviceID: login.AccountDeviceID,
			Timeout:         cfg.RequestTimeout,
			RateLimit:       cfg.RateLimit,
			Burst:           cfg.Burst,
			MaxIdleConns:    cfg.MaxIdleConns,
			Logger:          cloudLogger,
		})
	}
}

func initAuthStep(_ context.Context, state *appState) error {
	if !state.config.Auth.Enabled {
		state.logger.InfoTag("认证", "未启用操作员认证")
		return nil
	}
	issuer, err := domainauth.NewTokenIssuer(state.config.Auth.Secret, state.config.Auth.TokenTTL)
	if err != nil {
		return err
	}
	state.issuer = issuer
	state.logger.InfoTag("认证", "操作员令牌有效期: %s", issuer.TTL())
	return nil
}

func buildRouter(state *appState) (*httptransport.Router, error) {
	opts := httptransport.Options{
		Config: state.config,
		Logger: state.logger,
	}
	if state.issuer != nil {
		opts.AuthMiddleware = httptransport.BearerAuth(state.issuer, state.logger)
	}
	router, err := httptransport.Build(opts)
	if err != nil {
		return nil, err
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "api Not found", gin.H{})
	})

	svcOpts := httpcredentials.Options{
		Resolver:      state.resolver,
		Entries:       state.entries,
		Logger:        state.logger,
		DefaultRegion: state.config.Cloud.DefaultRegion,
	}
	if state.issuer != nil {
		svcOpts.Issuer = state.issuer
		svcOpts.Secret = state.config.Auth.Secret
	}
	if state.journal != nil {
		svcOpts.Journal = state.journal
	}
	svc, err := httpcredentials.NewService(svcOpts)
	if err != nil {
		return nil, err
	}
	svc.Register(router)
	return router, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	router, err := buildRouter(state)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	logger := state.logger
	addr := net.JoinHostPort(state.config.Server.IP, strconv.Itoa(state.config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to listen on "+addr, err)
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", listener.Addr())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务运行失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

// waitForShutdown blocks until a signal arrives or a service fails, then
// waits for the group to drain.
func waitForShutdown(
	signalCtx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-signalCtx.Done():
		logger.InfoTag("引导", "收到退出信号，正在进行资源清理")
	case <-groupCtx.Done():
		logger.WarnTag("引导", "服务异常退出，正在进行资源清理")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
