// Command spax-server is the SPAX archive process: it serves the
// DICOMweb/admin HTTP surface (spec.md §6), runs the ingest consumer
// pool (spec.md §4.8), and drives the lifecycle engine, disk monitor,
// and partition pre-creation job as background goroutines.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/config"
	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/diskmonitor"
	"github.com/spax-archive/spax/pkg/handlers"
	"github.com/spax-archive/spax/pkg/ingest"
	"github.com/spax-archive/spax/pkg/lifecycle"
	"github.com/spax-archive/spax/pkg/partitions"
	"github.com/spax-archive/spax/pkg/pathtemplate"
	"github.com/spax-archive/spax/pkg/queue"
	"github.com/spax-archive/spax/pkg/registry"
	"github.com/spax-archive/spax/pkg/tenant"
	"github.com/spax-archive/spax/pkg/volume"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file overlaying SPAX_* environment variables")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		klog.ErrorS(err, "spax-server: load config failed")
		os.Exit(1)
	}

	if err := run(); err != nil {
		klog.ErrorS(err, "spax-server: fatal error")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := config.GetDatabaseConfig()
	db, err := sqlx.Connect("postgres", dbCfg.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)

	reg := registry.New(db)
	resolver := tenant.NewResolver(db)

	volumes := volume.NewManager(reg.LoadVolumes)
	if err := volumes.Reload(ctx); err != nil {
		return fmt.Errorf("load volume registry: %w", err)
	}

	store, err := buildCacheStore(ctx)
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}

	q, err := buildQueue(ctx)
	if err != nil {
		return fmt.Errorf("build queue: %w", err)
	}

	dbclientFor := func(ctx context.Context, tenantCode string) (*dbclient.Client, error) {
		conn, err := resolver.Conn(ctx, tenantCode)
		if err != nil {
			return nil, err
		}
		return dbclient.New(conn), nil
	}

	handlersRepoFor := func(ctx context.Context, tenantCode string) (handlers.Repository, error) {
		return dbclientFor(ctx, tenantCode)
	}
	ingestClientFor := func(ctx context.Context, tenantCode string) (ingest.Repository, error) {
		return dbclientFor(ctx, tenantCode)
	}
	lifecycleRepoFor := func(ctx context.Context, tenantCode string) (lifecycle.Repository, error) {
		return dbclientFor(ctx, tenantCode)
	}
	partitionsConnFor := func(ctx context.Context, tenantCode string) (*sqlx.Conn, error) {
		return resolver.Conn(ctx, tenantCode)
	}

	templateFor := func(vol volume.Volume) (*pathtemplate.Template, error) {
		tmpl := vol.PathTemplateOverride
		if tmpl == "" {
			tmpl = config.DefaultPathTemplate()
		}
		return pathtemplate.Compile(tmpl)
	}

	ingestCfg := config.GetIngestConfig()
	consumer := ingest.New(q, volumes, store, ingest.ClientFor(ingestClientFor), ingest.TemplateFor(templateFor))
	consumer.BatchSize = int64(ingestCfg.BatchSize)

	activeTenants := reg.CachedActiveTenantCodes(store)
	pool := ingest.NewPool(consumer, activeTenants, ingestCfg.ConsumerThreads)

	lifecycleCfg := config.GetLifecycleConfig()
	evaluator := lifecycle.NewEvaluator(reg, lifecycleRepoFor, volumes)
	evaluator.MaxTasksPerPass = lifecycleCfg.MigrationTaskCap
	migrationWorker := lifecycle.NewMigrationWorker(reg, lifecycleRepoFor, volumes)
	migrationWorker.BatchSize = lifecycleCfg.WorkerBatchSize
	compressionWorker := lifecycle.NewCompressionWorker(lifecycleRepoFor, volumes, nil)
	engine := lifecycle.NewEngine(evaluator, migrationWorker, compressionWorker, reg)
	if err := engine.Start(ctx, lifecycleCfg.EvaluateCron, lifecycleCfg.WorkerCron); err != nil {
		return fmt.Errorf("start lifecycle engine: %w", err)
	}
	defer engine.Stop()

	diskCfg := config.GetDiskConfig()
	monitor := diskmonitor.New(volumes, diskCfg.PollInterval, diskCfg.ThresholdMB*1024*1024)
	go monitor.Run(ctx)

	partitionsCfg := config.GetPartitionsConfig()
	partitionsCreator := partitions.New(reg, partitionsConnFor, partitionsCfg.MonthsAhead)
	partitionsCron := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := partitionsCron.AddFunc("0 1 * * *", func() {
		if err := partitionsCreator.RunOnce(context.Background()); err != nil {
			klog.ErrorS(err, "spax-server: partitions job failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule partitions job: %w", err)
	}
	partitionsCron.Start()
	defer func() { <-partitionsCron.Stop().Done() }()
	// Run once at startup so a fresh tenant has partitions before its
	// first ingest, rather than waiting for the first 01:00 tick.
	if err := partitionsCreator.RunOnce(ctx); err != nil {
		klog.ErrorS(err, "spax-server: initial partitions run failed")
	}

	go pool.Run(ctx)

	api := &handlers.API{
		Repo:             handlersRepoFor,
		Volumes:          volumes,
		Cache:            store,
		Queue:            q,
		TemplateFor:      handlers.TemplateFor(templateFor),
		IngestLandingDir: ingestCfg.ErrorDir,
		IngestBlocked:    monitor.Blocked,
		Lifecycle:        engine,
		Migrations:       engine,
	}

	engineGin := gin.New()
	engineGin.Use(gin.Recovery())
	api.Router(engineGin, config.GetAdminConfig().Token)

	serverCfg := config.GetServerConfig()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", serverCfg.Port),
		Handler:      engineGin,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		klog.InfoS("spax-server: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		klog.InfoS("spax-server: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildCacheStore(ctx context.Context) (*cache.Store, error) {
	cacheCfg := config.GetCacheConfig()
	switch cacheCfg.Backend {
	case "shared":
		client := redis.NewClient(&redis.Options{Addr: cacheCfg.RedisDSN})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis cache backend: %w", err)
		}
		return cache.NewStore(cache.NewRedisBackend(client)), nil
	default:
		return cache.NewStore(cache.NewLocalBackend(10 * time.Minute)), nil
	}
}

func buildQueue(ctx context.Context) (*queue.Queue, error) {
	queueCfg := config.GetQueueConfig()
	client := redis.NewClient(&redis.Options{Addr: queueCfg.RedisDSN})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis queue backend: %w", err)
	}
	return queue.New(client), nil
}
