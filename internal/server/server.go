package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/internal/jobs"
	"github.com/skovale/briefgen/internal/memory"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/runtime"
	"github.com/skovale/briefgen/internal/store"
	"github.com/skovale/briefgen/internal/telemetry"
)

// Run wires the stores, the research engine and the HTTP API together and
// serves until the listener stops.
func Run(cfgPath string, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	cfg := config.LoadConfig(cfgPath)
	ctx := context.Background()

	// Postgres is optional. Without it briefs live in process memory only and
	// the auth and topics surfaces stay unregistered.
	var st *store.Store
	if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Printf("warn: migrations: %v", err)
		}
		s, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		st = s
	} else {
		log.Printf("postgres not configured; briefs are kept in memory only")
	}

	var rdb *redis.Client
	var ctxStore memory.ContextStore
	if cfg.Memory.Backend == "redis" {
		rc := cfg.Storage.Redis
		client, err := memory.Conn(ctx, rc.Host, rc.Port, rc.Password, rc.DB, rc.Timeout)
		if err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
		}
		rdb = client
		ctxStore = memory.NewRedisStore(rdb, cfg.Memory.TTL)
	} else {
		ctxStore = memory.NewInMemoryStore()
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)

	llm, err := research.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	search, err := research.NewSearchProvider(cfg.Sources)
	if err != nil {
		return err
	}
	fetcher, err := research.NewFetcher(cfg.Sources, cfg.Research.FetchContent)
	if err != nil {
		return err
	}
	engineLogger := log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	engine := research.NewEngine(cfg.Research, llm, telemetry.WrapSearch(search, tele), fetcher, engineLogger)

	var storeAPI jobs.StoreAPI
	if st != nil {
		storeAPI = st
	}
	jobsLogger := log.New(log.Writer(), "[JOBS] ", log.LstdFlags)
	manager := jobs.NewManager(jobsLogger, cfg.Research, engine, storeAPI, ctxStore, tele, cfg.Memory.HistoryLimit)

	secret, secretErr := runtime.LoadJWTSecret(cfg)
	if cfg.Server.AuthEnabled && secretErr != nil {
		return secretErr
	}
	authEnabled := cfg.Server.AuthEnabled && st != nil

	api := e.Group("/api")
	if st != nil && secretErr == nil {
		ah := &AuthHandler{Store: st, Secret: secret}
		ah.Register(api.Group("/auth"))

		// protected group example
		me := api.Group("/me")
		me.Use(runtime.EchoAuthMiddleware(secret))
		me.GET("", func(c echo.Context) error {
			return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
		})
	}

	v1 := api.Group("/v1")
	bh := &BriefsHandler{Manager: manager, Store: st, AuthEnabled: authEnabled}
	bh.Register(v1.Group(""), secret)
	if st != nil {
		th := &TopicsHandler{Store: st, Manager: manager, AuthEnabled: authEnabled}
		th.Register(v1.Group("/topics"), secret)
	}
	oh := &OpsHandler{Tel: tele, Manager: manager}
	var opsSecret []byte
	if cfg.Server.AuthEnabled {
		opsSecret = secret
	}
	oh.Register(api.Group("/ops"), opsSecret)

	if cfg.Scheduler.Enabled && st != nil {
		sched := &Scheduler{
			Store:    st,
			Manager:  manager,
			Rdb:      rdb,
			Interval: cfg.Scheduler.Interval,
			LockTTL:  cfg.Scheduler.LockTTL,
			Stop:     make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
