package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// History backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

type Config struct {
	ListenAddr      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	APIEnabled      bool          // false => no HTTP control surface during `run`

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	DataDir       string        // holds config.yaml, node_history.json and the badger dir
	ConfigFile    string        // task file (default: <DataDir>/config.yaml)
	Backend       string        // "file" | "redis" | "badger"
	HistoryFile   string        // file backend path (default: <DataDir>/node_history.json)
	BadgerDir     string        // badger backend dir (default: <DataDir>/badger)
	PruneInterval time.Duration // interval between history prunes (default: 24h)
	ProbeTimeout  time.Duration // timeout of a single service probe (default: 30s)

	// Redis
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisKey            string        // key holding the history document
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)

	AllowedCIDRS []string // optional, restrict API access to specific IP ranges
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	dataDir := getenv("RELAYSWITCH_DATA_DIR", DataDir())

	cfg := &Config{
		// Server settings
		ListenAddr:      getenv("RELAYSWITCH_LISTEN_ADDR", "127.0.0.1:9180"),
		ShutdownTimeout: mustDuration("RELAYSWITCH_SHUTDOWN_TIMEOUT", 5*time.Second),
		APIEnabled:      mustBool("RELAYSWITCH_API_ENABLED", true),

		// Logging
		LogLevel:  getenv("RELAYSWITCH_LOG_LEVEL", "info"),
		PrettyLog: mustBool("RELAYSWITCH_PRETTY_LOG", true),

		// Storage
		DataDir:       dataDir,
		ConfigFile:    getenv("RELAYSWITCH_CONFIG_FILE", filepath.Join(dataDir, ConfigFileName)),
		Backend:       strings.ToLower(getenv("RELAYSWITCH_HISTORY_BACKEND", BackendFile)),
		HistoryFile:   getenv("RELAYSWITCH_HISTORY_FILE", filepath.Join(dataDir, "node_history.json")),
		BadgerDir:     getenv("RELAYSWITCH_BADGER_DIR", filepath.Join(dataDir, "badger")),
		PruneInterval: mustDuration("RELAYSWITCH_PRUNE_INTERVAL", 24*time.Hour),
		ProbeTimeout:  mustDuration("RELAYSWITCH_PROBE_TIMEOUT", 30*time.Second),

		// Redis settings
		RedisAddr:           getenv("RELAYSWITCH_REDIS_ADDR", "localhost:6379"),
		RedisUser:           getenv("RELAYSWITCH_REDIS_USERNAME", ""),
		RedisPassword:       getenv("RELAYSWITCH_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("RELAYSWITCH_REDIS_DB", 0),
		RedisKey:            getenv("RELAYSWITCH_REDIS_KEY", "relayswitch:history"),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("RELAYSWITCH_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("RELAYSWITCH_TRUST_PROXY", false),
	}

	switch cfg.Backend {
	case BackendFile, BackendRedis, BackendBadger:
	default:
		panic(fmt.Sprintf("❌ FATAL: RELAYSWITCH_HISTORY_BACKEND must be file, redis or badger, got %q", cfg.Backend))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfg.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
