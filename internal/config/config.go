package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SQLitePath            string
	TenantID              string
	AuthSecret            string
	AccessTokenTTLMinutes int
	SyncTimeoutSeconds    int
	ProbeIntervalSeconds  int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	syncTimeout, err := strconv.Atoi(getEnv("SYNC_TIMEOUT_SECONDS", "30"))
	if err != nil || syncTimeout < 1 {
		syncTimeout = 30
	}
	probeInterval, err := strconv.Atoi(getEnv("PROBE_INTERVAL_SECONDS", "15"))
	if err != nil || probeInterval < 1 {
		probeInterval = 15
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SQLitePath:            getEnv("SQLITE_PATH", "warungsync.db"),
		TenantID:              getEnv("TENANT_ID", "main-tenant"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		SyncTimeoutSeconds:    syncTimeout,
		ProbeIntervalSeconds:  probeInterval,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
