package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type config struct {
	backend      string
	connStr      string
	tasksTable   string
	eventsQueue  string
	sqlitePath   string
	redisConn    string
	cacheTTL     time.Duration
	sequenceTTL  time.Duration
	authDomain   string
	authAudience string
	localAuth    bool
	sharedSecret string
	jwksCacheTTL time.Duration
	rateLimitRPS float64
	listenAddr   string
	debug        bool
}

func loadConfig() (config, error) {
	cfg := config{
		backend:      strings.ToLower(os.Getenv("STORAGE_BACKEND")),
		connStr:      os.Getenv("STORAGE_CONNECTION_STRING"),
		tasksTable:   os.Getenv("TASKS_TABLE"),
		eventsQueue:  os.Getenv("BOARD_EVENTS_QUEUE"),
		sqlitePath:   os.Getenv("SQLITE_PATH"),
		redisConn:    os.Getenv("REDIS_CONNECTION_STRING"),
		authDomain:   os.Getenv("AUTH0_DOMAIN"),
		authAudience: os.Getenv("AUTH0_AUDIENCE"),
		localAuth:    strings.EqualFold(os.Getenv("LOCAL_AUTH_MODE"), "hs256"),
		sharedSecret: os.Getenv("LOCAL_AUTH_SHARED_SECRET"),
		listenAddr:   ":8080",
	}
	if cfg.backend == "" {
		cfg.backend = "tables"
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.debug = dbg
	}
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.listenAddr = ":" + val
	}

	switch cfg.backend {
	case "tables":
		if cfg.connStr == "" || cfg.tasksTable == "" {
			return cfg, errors.New("missing storage config")
		}
	case "sqlite":
		if cfg.sqlitePath == "" {
			cfg.sqlitePath = "data/prism-board.db"
		}
	default:
		return cfg, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.backend)
	}

	if cfg.localAuth {
		if cfg.sharedSecret == "" {
			return cfg, errors.New("LOCAL_AUTH_SHARED_SECRET is required in local auth mode")
		}
	} else if cfg.authDomain == "" || cfg.authAudience == "" {
		return cfg, errors.New("missing Auth0 config")
	}

	var err error
	if cfg.cacheTTL, err = durationEnv("TASKS_CACHE_TTL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.sequenceTTL, err = durationEnv("SEQUENCE_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.jwksCacheTTL, err = durationEnv("JWKS_CACHE_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, perr := strconv.ParseFloat(v, 64)
		if perr != nil || rps < 0 {
			return cfg, fmt.Errorf("invalid RATE_LIMIT_RPS: %q", v)
		}
		cfg.rateLimitRPS = rps
	}
	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

// redisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
