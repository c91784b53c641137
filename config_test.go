package main

import (
	"testing"
	"time"
)

func TestLoadConfigSQLiteLocalAuth(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("LOCAL_AUTH_MODE", "hs256")
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "secret")
	t.Setenv("SEQUENCE_TTL", "1h")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "9090")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.sqlitePath == "" {
		t.Fatal("expected default sqlite path")
	}
	if cfg.sequenceTTL != time.Hour {
		t.Fatalf("unexpected sequence ttl %v", cfg.sequenceTTL)
	}
	if cfg.listenAddr != ":9090" {
		t.Fatalf("unexpected listen addr %q", cfg.listenAddr)
	}
	if cfg.cacheTTL != time.Minute {
		t.Fatalf("expected default cache ttl, got %v", cfg.cacheTTL)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown backend": {"STORAGE_BACKEND": "mongo"},
		"tables missing":  {"STORAGE_BACKEND": "tables", "STORAGE_CONNECTION_STRING": ""},
		"local no secret": {"STORAGE_BACKEND": "sqlite", "LOCAL_AUTH_MODE": "hs256", "LOCAL_AUTH_SHARED_SECRET": ""},
		"no auth0":        {"STORAGE_BACKEND": "sqlite", "LOCAL_AUTH_MODE": "", "AUTH0_DOMAIN": ""},
		"bad ttl": {
			"STORAGE_BACKEND": "sqlite", "LOCAL_AUTH_MODE": "hs256",
			"LOCAL_AUTH_SHARED_SECRET": "s", "TASKS_CACHE_TTL": "soon",
		},
		"bad rps": {
			"STORAGE_BACKEND": "sqlite", "LOCAL_AUTH_MODE": "hs256",
			"LOCAL_AUTH_SHARED_SECRET": "s", "RATE_LIMIT_RPS": "-1",
		},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions("redis://:pw@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts = redisOptions("cache.example.net:6380,password=secret,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options %+v", opts)
	}
}
