// Command tiermapd serves one tiermap namespace over HTTP.
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

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/tiermap"
	"github.com/unkn0wn-root/tiermap/cachestore"
	bigcachestore "github.com/unkn0wn-root/tiermap/cachestore/bigcache"
	rediscache "github.com/unkn0wn-root/tiermap/cachestore/redis"
	ristrettostore "github.com/unkn0wn-root/tiermap/cachestore/ristretto"
	"github.com/unkn0wn-root/tiermap/codec"
	"github.com/unkn0wn-root/tiermap/durable"
	"github.com/unkn0wn-root/tiermap/durable/cassandra"
	redisdurable "github.com/unkn0wn-root/tiermap/durable/redis"
	"github.com/unkn0wn-root/tiermap/internal/httpapi"
	zaplog "github.com/unkn0wn-root/tiermap/log/zap"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tiermapd:", err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tiermapd:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("tiermapd stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb goredis.UniversalClient
	if cfg.Durable == "redis" || cfg.Cache == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	db, err := openDurable(cfg, rdb)
	if err != nil {
		return err
	}
	cb, err := openCache(ctx, cfg, rdb)
	if err != nil {
		_ = db.Close(ctx)
		return err
	}

	m, err := tiermap.New[[]byte](tiermap.Options[[]byte]{
		Namespace: cfg.Namespace,
		Durable:   db,
		Cache:     cb,
		Codec:     codec.Bytes{},
		Logger:    zaplog.ZapLogger{L: log},
		CacheTTL:  cfg.CacheTTL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			log.Warn("closing backends", zap.Error(err))
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: cfg.Listen, Handler: httpapi.NewRouter(m.Store(), log)}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("tiermapd listening",
		zap.String("addr", cfg.Listen),
		zap.String("namespace", cfg.Namespace),
		zap.String("durable", cfg.Durable),
		zap.String("cache", cfg.Cache))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func openDurable(cfg config, rdb goredis.UniversalClient) (durable.Backend, error) {
	switch cfg.Durable {
	case "redis":
		return redisdurable.New(redisdurable.Config{Client: rdb})
	case "cassandra":
		return cassandra.Open(cassandra.Config{
			ClusterHosts:      cfg.CassandraHosts,
			Keyspace:          cfg.CassandraKeyspace,
			ConnectionTimeout: 10 * time.Second,
		})
	default:
		return durable.NewMemoryBackend(), nil
	}
}

// openCache returns a nil Backend for "none"; the map then runs durable-only.
func openCache(ctx context.Context, cfg config, rdb goredis.UniversalClient) (cachestore.Backend, error) {
	switch cfg.Cache {
	case "none":
		return nil, nil
	case "redis":
		return rediscache.New(rediscache.Config{Client: rdb})
	case "ristretto":
		return ristrettostore.New(ristrettostore.Config{})
	case "bigcache":
		life := cfg.CacheTTL
		if life < 0 {
			life = 0
		}
		return bigcachestore.New(ctx, bigcachestore.Config{LifeWindow: life})
	default:
		return cachestore.NewMemoryBackend(), nil
	}
}
