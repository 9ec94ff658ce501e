package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"

	"fogmask/engine"
	httpdelivery "fogmask/internal/delivery/http"
	"fogmask/internal/delivery/sse"
	"fogmask/internal/delivery/ws"
	"fogmask/internal/domain"
	"fogmask/internal/repository/datastore"
	"fogmask/internal/repository/memory"
	"fogmask/internal/usecase"
	"fogmask/migration"
	"fogmask/transport"
)

var logger = logging.Logger("fogmask/server")

// backend bundles the storage pieces selected by the config.
type backend struct {
	store   *transport.Store
	scenes  domain.SceneRepository
	closers []io.Closer
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
}

func openBackend(ctx context.Context, cfg Config) (*backend, error) {
	b := &backend{}
	var dstore ds.Datastore
	var notifier transport.Notifier

	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, client)

		rds, err := transport.NewRedisDatastore(ctx, client, transport.DefaultRedisOptions())
		if err != nil {
			b.Close()
			return nil, err
		}
		dstore = rds
		b.scenes = datastore.NewSceneRepository(ctx, rds, cfg.Namespace+"/meta")

		if cfg.GossipListen == "" {
			rn, err := transport.NewRedisNotifier(client, cfg.RedisChannel)
			if err != nil {
				b.Close()
				return nil, err
			}
			notifier = rn
		}
	case "badger":
		bd, err := transport.NewBadgerDatastore(transport.BadgerOptions{Path: cfg.DataDir, GCInterval: 5 * time.Minute})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, bd)
		dstore = bd
		b.scenes = datastore.NewSceneRepository(ctx, bd, cfg.Namespace+"/meta")
		if cfg.GossipListen == "" {
			notifier = transport.NewMemoryNotifier()
		}
	case "mongo":
		mopts := transport.DefaultMongoOptions()
		mopts.URI = cfg.MongoURI
		mopts.Database = cfg.MongoDatabase
		md, err := transport.NewMongoDatastore(ctx, mopts)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, md)
		dstore = md
		b.scenes = datastore.NewSceneRepository(ctx, md, cfg.Namespace+"/meta")
		if cfg.GossipListen == "" {
			// Servers sharing one database propagate changes with -gossip.
			notifier = transport.NewMemoryNotifier()
		}
	default:
		dstore = dssync.MutexWrap(ds.NewMapDatastore())
		b.scenes = memory.NewSceneRepository()
		if cfg.GossipListen == "" {
			notifier = transport.NewMemoryNotifier()
		}
	}

	if cfg.GossipListen != "" {
		h, err := transport.NewHost(cfg.GossipListen)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, hostCloser{h})
		if cfg.BootstrapPeers != "" {
			n := transport.ConnectPeers(ctx, h, cfg.BootstrapPeers)
			logger.Infof("connected to %d bootstrap peers", n)
		}
		gn, err := transport.NewGossipNotifier(ctx, h, cfg.GossipTopic)
		if err != nil {
			b.Close()
			return nil, err
		}
		notifier = gn
	}

	opts := transport.NewOptions()
	opts.Namespace = cfg.Namespace
	store, err := transport.NewStore(dstore, notifier, opts)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.store = store
	b.closers = append(b.closers, store)
	return b, nil
}

type hostCloser struct{ h host.Host }

func (c hostCloser) Close() error { return c.h.Close() }

func run(ctx context.Context, cfg Config) error {
	if cfg.Debug {
		logging.SetLogLevel("*", "debug")
	} else {
		logging.SetLogLevel("*", "info")
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	defer b.Close()

	version, err := migration.Run(ctx, b.store)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Infof("schema version %d", version)

	engineOpts := []engine.Option{
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithRetryDelay(cfg.RetryDelay),
	}
	if cfg.OptimisticCommit {
		engineOpts = append(engineOpts, engine.WithOptimisticCommit())
	}

	fogUC := usecase.NewFogUseCase(ctx, b.store, b.scenes, memory.NewPlaceableRepository(), engineOpts...)
	defer fogUC.Close()

	sseRouter := sse.NewRouter(fogUC)
	hub := ws.NewHub(ctx, fogUC, logger.Desugar())
	fogUC.AddPublisher(sseRouter)
	fogUC.AddPublisher(hub)

	router := httpdelivery.NewRouter(httpdelivery.NewHandler(fogUC), sseRouter, hub, cfg.ClientDir)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.Setup(),
		// Streaming connections end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s (backend %s)", cfg.HTTPAddr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("server error: %v", err)
		os.Exit(1)
	}
}
