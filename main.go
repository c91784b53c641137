package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"prism-board/api"
	"prism-board/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var (
		store api.Storage = base
		seq   api.Sequencer
		pub   api.Publisher
	)
	if cfg.redisConn != "" {
		rc := redis.NewClient(redisOptions(cfg.redisConn))
		defer rc.Close()
		store = storage.NewCache(base, rc, cfg.cacheTTL)
		seq = api.NewRedisSequencer(rc, cfg.sequenceTTL)
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; task cache and reorder sequencing disabled")
	}
	if cfg.connStr != "" && cfg.eventsQueue != "" {
		notifier, nerr := storage.NewNotifier(cfg.connStr, cfg.eventsQueue)
		if nerr != nil {
			log.Fatalf("notifier: %v", nerr)
		}
		pub = notifier
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddleware("prism_board"))
	if cfg.rateLimitRPS > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.rateLimitRPS))))
	}
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, store, auth, seq, pub, logger)

	go func() {
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	api.Shutdown()
}

// openBackend selects the order store from STORAGE_BACKEND.
func openBackend(ctx context.Context, cfg config) (storage.Backend, func(), error) {
	switch cfg.backend {
	case "sqlite":
		s, err := storage.OpenSQLite(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			// The store keeps serving; reorders degrade to no-ops until the
			// ordering column exists.
			log.WithError(err).Warn("sqlite migration failed")
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("close sqlite")
			}
		}, nil
	default:
		t, err := storage.NewTables(cfg.connStr, cfg.tasksTable)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.localAuth {
		log.Warn("LOCAL_AUTH_MODE=hs256: accepting locally signed tokens")
		return api.NewAuth(api.AuthConfig{
			Audience:     cfg.authAudience,
			SharedSecret: []byte(cfg.sharedSecret),
		})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.authDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.authAudience,
		Issuer:      "https://" + cfg.authDomain + "/",
		KeyCacheTTL: cfg.jwksCacheTTL,
	})
}
