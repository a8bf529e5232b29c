package main

import (
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, envMap(nil))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Durable != "memory" || cfg.Cache != "memory" || cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("defaults: %+v", cfg)
	}
	if len(cfg.CassandraHosts) != 1 || cfg.CassandraHosts[0] != "localhost" {
		t.Fatalf("hosts: %v", cfg.CassandraHosts)
	}
}

func TestConfigEnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		"TIERMAP_DURABLE":         "redis",
		"TIERMAP_CACHE":           "ristretto",
		"TIERMAP_REDIS_DB":        "3",
		"TIERMAP_CACHE_TTL":       "1m",
		"TIERMAP_CASSANDRA_HOSTS": "a, b,,c",
	})
	cfg, err := loadConfig([]string{"-cache", "bigcache", "-listen", ":9000"}, env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Durable != "redis" || cfg.RedisDB != 3 || cfg.CacheTTL != time.Minute {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Cache != "bigcache" || cfg.Listen != ":9000" {
		t.Fatalf("flags must override env: %+v", cfg)
	}
	if len(cfg.CassandraHosts) != 3 {
		t.Fatalf("hosts: %v", cfg.CassandraHosts)
	}
}

func TestConfigRejectsUnknownBackends(t *testing.T) {
	cases := [][]string{
		{"-durable", "sqlite"},
		{"-cache", "memcached"},
		{"-namespace", ""},
		{"-nope"},
	}
	for _, args := range cases {
		if _, err := loadConfig(args, envMap(nil)); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
	if _, err := loadConfig(nil, envMap(map[string]string{"TIERMAP_REDIS_DB": "x"})); err == nil {
		t.Fatalf("expected error for a bad TIERMAP_REDIS_DB")
	}
}
