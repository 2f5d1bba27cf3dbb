package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/infra/buildinfo"
	"github.com/kitedb/kitesync/internal/infra/confloader"
	"github.com/kitedb/kitesync/internal/infra/shutdown"
	"github.com/kitedb/kitesync/internal/infra/tlsroots"
	"github.com/kitedb/kitesync/internal/server/config"
	"github.com/kitedb/kitesync/internal/server/httpserver"
	"github.com/kitedb/kitesync/internal/server/localserver"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/storage/memory"
	"github.com/kitedb/kitesync/internal/storage/snapshot"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
	"github.com/kitedb/kitesync/internal/transport"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

const saltFilename = "encryption.salt"

func main() {
	app := &cli.App{
		Name:    "kitesync-server",
		Usage:   "KiteSync replication node (primary or replica)",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "override replication role (primary or replica)",
			},
			&cli.StringFlag{
				Name:  "node-id",
				Usage: "override the node identifier",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "override the storage data directory",
			},
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "override the HTTP listen address",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the log level (debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	nodeID := cfg.Replication.NodeID
	if nodeID == "" {
		nodeID = "node-" + strings.ToLower(ulid.Make().String())
	}

	log.Info("starting kitesync-server",
		"version", buildinfo.Get().Version,
		"node_id", nodeID,
		"role", cfg.Replication.Role,
		"listen", cfg.Server.HTTP.Addr)

	metrics := metric.NewMetrics()

	cipher, err := loadCipher(cfg)
	if err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	store, err := initStore(cfg, metrics)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	gate, err := service.NewAdminGate(service.AdminGateConfig{
		Mode:             service.AuthMode(cfg.Security.AdminAuthMode),
		Token:            cfg.Security.AdminToken,
		ClientCertHeader: cfg.Security.ClientCertHeader,
		SubjectPattern:   cfg.Security.SubjectPattern,
	})
	if err != nil {
		return fmt.Errorf("init admin gate: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()

	routerCfg := &httpserver.RouterConfig{
		NodeID:         nodeID,
		Gate:           gate,
		Metrics:        metrics,
		Logger:         log,
		AdminAllowList: cfg.Security.AdminAllowList,
		RateLimit:      cfg.Security.RateLimit,
	}

	switch cfg.Replication.Role {
	case "primary":
		primary, err := service.NewPrimary(service.PrimaryConfig{
			NodeID:            nodeID,
			DataDir:           cfg.Storage.DataDir,
			Store:             store,
			Cipher:            cipher,
			MaxSegmentBytes:   cfg.Replication.SegmentMaxBytes,
			MaxSegmentEntries: cfg.Replication.SegmentMaxEntries,
			MinRetainEntries:  int(cfg.Replication.MinRetainEntries),
			RetentionFloor:    cfg.Replication.RetentionFloor,
			SnapshotRetention: cfg.Replication.SnapshotKeep,
			Metrics:           metrics,
			Logger:            log,
		})
		if err != nil {
			return fmt.Errorf("init primary: %w", err)
		}
		routerCfg.Primary = primary

		go checkpointLoop(loopCtx, primary, cfg.Replication.CheckpointInterval, log)
		go retentionLoop(loopCtx, primary, cfg.Replication.RetentionInterval, log)

		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("closing primary coordinator")
			cancelLoops()
			return primary.Close()
		})

	case "replica":
		source, err := newSource(cfg)
		if err != nil {
			return fmt.Errorf("init transport source: %w", err)
		}
		replica, err := service.NewReplica(service.ReplicaConfig{
			NodeID:  nodeID,
			DataDir: cfg.Storage.DataDir,
			Store:   store,
			Source:  source,
			Metrics: metrics,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("init replica: %w", err)
		}
		routerCfg.Replica = replica

		go pullLoop(loopCtx, replica, cfg.Replication, log)
		go progressLoop(loopCtx, replica, source, nodeID, cfg.Replication.ProgressInterval, log)

		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("closing replica coordinator")
			cancelLoops()
			return replica.Close()
		})

	default:
		return fmt.Errorf("unknown role %q", cfg.Replication.Role)
	}

	httpServer := httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg))

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})

	if sock := cfg.Server.Local.SocketPath; sock != "" {
		// The local socket bypasses the admin gate and network ACL;
		// filesystem permissions on the socket restrict access instead.
		localCfg := routerCfg
		localCfg.Gate = nil
		localCfg.AdminAllowList = nil
		localSrv := localserver.New(sock, httpserver.NewRouter(localCfg))
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down local admin socket", "path", sock)
			return localSrv.Shutdown(ctx)
		})
		go func() {
			if err := localSrv.ListenAndServe(); err != nil {
				log.Error("local admin socket failed", "path", sock, "error", err)
			}
		}()
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing record store")
		return store.Close()
	})

	go serveHTTP(httpServer, cfg, log)

	log.Info("server started")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file, environment and flags.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	// Flags override file and environment.
	if v := c.String("role"); v != "" {
		cfg.Replication.Role = v
	}
	if v := c.String("node-id"); v != "" {
		cfg.Replication.NodeID = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := c.String("listen"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// loadCipher builds the at-rest cipher from the configured passphrase.
// The derivation salt is persisted next to the data so the same key
// comes back after a restart.
func loadCipher(cfg *config.ServerConfig) (adaptive.Cipher, error) {
	if cfg.Security.EncryptionKey == "" {
		return nil, nil
	}

	saltPath := filepath.Join(cfg.Storage.DataDir, saltFilename)
	var salt []byte
	if data, err := os.ReadFile(saltPath); err == nil {
		salt = data
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cipher, newSalt, err := snapshot.NewCipherFromConfig(snapshot.EncryptionConfig{
		Passphrase: []byte(cfg.Security.EncryptionKey),
		Salt:       salt,
	})
	if err != nil {
		return nil, err
	}
	if salt == nil && len(newSalt) > 0 {
		if err := os.WriteFile(saltPath, newSalt, 0600); err != nil {
			return nil, err
		}
	}
	return cipher, nil
}

func initStore(cfg *config.ServerConfig, metrics *metric.Metrics) (storage.RecordStore, error) {
	switch cfg.Storage.Engine {
	case "badger":
		badgerCfg := storage.DefaultBadgerConfig(filepath.Join(cfg.Storage.DataDir, "store"))
		if cfg.Storage.BadgerCacheMB > 0 {
			badgerCfg.CacheSize = int64(cfg.Storage.BadgerCacheMB) << 20
		}
		if cfg.Storage.BadgerGCInterval > 0 {
			badgerCfg.GCInterval = cfg.Storage.BadgerGCInterval
		}
		store, err := storage.NewBadgerStore(badgerCfg, slog.Default())
		if err != nil {
			return nil, err
		}
		store.RegisterMetrics(metrics.Registry())
		return store, nil
	default:
		return memory.New(), nil
	}
}

// newSource builds the replica's HTTP client for the primary,
// trusting any configured extra CA roots.
func newSource(cfg *config.ServerConfig) (*transport.HTTPSource, error) {
	opts := []transport.HTTPSourceOption{}
	if cfg.Security.AdminToken != "" {
		opts = append(opts, transport.WithAdminToken(cfg.Security.AdminToken))
	}

	if cfg.Security.TLSCAFile != "" {
		pool, err := tlsroots.NewPool()
		if err != nil {
			return nil, err
		}
		if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: pool.TLSConfig(),
			},
		}))
	}

	return transport.NewHTTPSource(cfg.Replication.PrimaryURL, opts...), nil
}

func serveHTTP(srv *httpserver.Server, cfg *config.ServerConfig, log logger.Logger) {
	var err error
	if cfg.Server.HTTP.TLSCertFile != "" {
		err = serveTLS(srv, cfg, log)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("HTTP server error", "error", err)
	}
}

// serveTLS starts the HTTPS listener with certificate hot-reload. In
// the mtls admin modes the listener also requests client certificates
// so the gate can read the peer subject.
func serveTLS(srv *httpserver.Server, cfg *config.ServerConfig, log logger.Logger) error {
	watcher, err := tlsroots.NewWatcher(
		cfg.Server.HTTP.TLSCertFile,
		cfg.Server.HTTP.TLSKeyFile,
		tlsroots.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}
	watcher.StartAsync()
	defer watcher.Stop()

	tlsCfg := &tls.Config{
		GetCertificate: watcher.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if wantsClientCerts(cfg.Security.AdminAuthMode) {
		tlsCfg.ClientAuth = tls.RequestClientCert
		if cfg.Security.TLSCAFile != "" {
			pool, err := tlsroots.NewPool()
			if err != nil {
				return err
			}
			if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
				return err
			}
			tlsCfg.ClientCAs = pool.Pool()
			tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	srv.SetTLSConfig(tlsCfg)
	return srv.ListenAndServeTLS("", "")
}

func wantsClientCerts(mode string) bool {
	switch service.AuthMode(strings.ToLower(strings.TrimSpace(mode))) {
	case service.AuthModeMTLS, service.AuthModeTokenOrMTLS, service.AuthModeTokenAndMTLS:
		return true
	}
	return false
}

// checkpointLoop persists snapshot checkpoints on the primary.
func checkpointLoop(ctx context.Context, p *service.Primary, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Checkpoint(ctx); err != nil {
				log.Error("checkpoint failed", "error", err)
			}
		}
	}
}

// retentionLoop trims the commit log on the primary.
func retentionLoop(ctx context.Context, p *service.Primary, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := p.RunRetention(ctx)
			if err != nil {
				log.Error("retention failed", "error", err)
				continue
			}
			if outcome.PrunedSegments > 0 {
				log.Info("retention pruned segments",
					"pruned_segments", outcome.PrunedSegments,
					"retained_from", outcome.RetainedFrom)
			}
		}
	}
}

// pullLoop drives the replica: bootstrap when uninitialized, reseed
// when the log window moved past us, otherwise tail the log.
func pullLoop(ctx context.Context, r *service.Replica, cfg config.ReplicationSection, log logger.Logger) {
	ticker := time.NewTicker(cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := r.Status(ctx)
		switch {
		case status.State == domain.ReplicaUninitialized:
			if err := r.BootstrapFromSnapshot(ctx); err != nil {
				log.Error("bootstrap failed", "error", err)
				continue
			}
			log.Info("bootstrapped from snapshot", "applied", r.AppliedToken().String())

		case status.NeedsReseed:
			if err := r.ReseedFromSnapshot(ctx); err != nil {
				log.Error("reseed failed", "error", err)
				continue
			}
			log.Info("reseeded from snapshot", "applied", r.AppliedToken().String())

		default:
			n, err := r.CatchUpOnce(ctx, cfg.PullMaxFrames)
			if err != nil {
				if errors.Is(err, domain.ErrReseedRequired) {
					log.Warn("fell behind retained log window, reseed scheduled")
				} else {
					log.Error("catch-up failed", "error", err)
				}
				continue
			}
			if n > 0 {
				log.Debug("applied log frames", "frames", n, "applied", r.AppliedToken().String())
			}
		}
	}
}

// progressLoop reports the replica's applied position to the primary.
func progressLoop(ctx context.Context, r *service.Replica, source *transport.HTTPSource, nodeID string, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			applied := r.AppliedToken()
			if applied.IsZero() {
				continue
			}
			if err := source.ReportProgress(ctx, nodeID, applied.String()); err != nil {
				log.Warn("progress report failed", "error", err)
			}
		}
	}
}
