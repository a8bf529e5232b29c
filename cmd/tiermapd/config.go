package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// config is read from flags; every flag falls back to a TIERMAP_* variable.
type config struct {
	Listen    string
	Namespace string
	Durable   string // memory | redis | cassandra
	Cache     string // none | memory | redis | ristretto | bigcache
	CacheTTL  time.Duration
	LogLevel  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CassandraHosts    []string
	CassandraKeyspace string
}

func loadConfig(args []string, getenv func(string) string) (config, error) {
	env := func(name, def string) string {
		if v := getenv("TIERMAP_" + name); v != "" {
			return v
		}
		return def
	}
	envInt := func(name string, def int) (int, error) {
		v := getenv("TIERMAP_" + name)
		if v == "" {
			return def, nil
		}
		return strconv.Atoi(v)
	}
	envDur := func(name string, def time.Duration) (time.Duration, error) {
		v := getenv("TIERMAP_" + name)
		if v == "" {
			return def, nil
		}
		return time.ParseDuration(v)
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return config{}, fmt.Errorf("TIERMAP_REDIS_DB: %w", err)
	}
	ttl, err := envDur("CACHE_TTL", 10*time.Minute)
	if err != nil {
		return config{}, fmt.Errorf("TIERMAP_CACHE_TTL: %w", err)
	}

	var cfg config
	var hosts string
	fs := flag.NewFlagSet("tiermapd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Listen, "listen", env("LISTEN", ":8080"), "HTTP listen address.")
	fs.StringVar(&cfg.Namespace, "namespace", env("NAMESPACE", "default"), "Namespace of the served map.")
	fs.StringVar(&cfg.Durable, "durable", env("DURABLE", "memory"), "Durable backend: memory, redis or cassandra.")
	fs.StringVar(&cfg.Cache, "cache", env("CACHE", "memory"), "Cache backend: none, memory, redis, ristretto or bigcache.")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", ttl, "TTL of cache entries; negative disables expiry.")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "Log level.")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", "localhost:6379"), "Redis address.")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env("REDIS_PASSWORD", ""), "Redis password.")
	fs.IntVar(&cfg.RedisDB, "redis-db", redisDB, "Redis database.")
	fs.StringVar(&hosts, "cassandra-hosts", env("CASSANDRA_HOSTS", "localhost"), "Cassandra contact points (comma-separated).")
	fs.StringVar(&cfg.CassandraKeyspace, "cassandra-keyspace", env("CASSANDRA_KEYSPACE", "tiermap"), "Cassandra keyspace.")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.CassandraHosts = append(cfg.CassandraHosts, h)
		}
	}
	switch cfg.Durable {
	case "memory", "redis", "cassandra":
	default:
		return config{}, fmt.Errorf("unknown durable backend %q", cfg.Durable)
	}
	switch cfg.Cache {
	case "none", "memory", "redis", "ristretto", "bigcache":
	default:
		return config{}, fmt.Errorf("unknown cache backend %q", cfg.Cache)
	}
	if cfg.Namespace == "" {
		return config{}, fmt.Errorf("namespace is required")
	}
	return cfg, nil
}
