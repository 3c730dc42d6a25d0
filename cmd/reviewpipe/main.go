// Command reviewpipe is the review-pipeline worker process: it loads
// rules from Postgres, keeps them in sync, and matches every incoming
// content event from its Redis streams against the rules scoped to that
// event's fid, dispatching matches onto the downstream action stream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bittoy/reviewpipe/internal/builtinfuncs"
	"github.com/bittoy/reviewpipe/internal/config"
	"github.com/bittoy/reviewpipe/internal/dispatch"
	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/logging"
	"github.com/bittoy/reviewpipe/internal/pgxstore"
	"github.com/bittoy/reviewpipe/internal/redisbroker"
	"github.com/bittoy/reviewpipe/internal/repository"
	"github.com/bittoy/reviewpipe/internal/rpcfunc"
	"github.com/bittoy/reviewpipe/internal/types"
	"github.com/bittoy/reviewpipe/internal/worker"
)

func main() {
	logger, flush, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reviewpipe: bootstrap logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(logger); err != nil {
		logger.Fatalf("reviewpipe: %v", err)
	}
}

func run(logger types.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBootstrap, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: connect postgres: %v", types.ErrBootstrap, err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()

	store := pgxstore.New(pool)
	subscriber := redisbroker.NewRuleSubscriber(redisClient, cfg.RedisRulesChannel)
	repo := repository.New(store, subscriber, cfg.RuleSyncInterval, logger)

	if err := repo.LoadInitial(ctx); err != nil {
		return fmt.Errorf("%w: load rules: %v", types.ErrStoreMissing, err)
	}
	repo.StartSync(ctx)
	defer repo.StopSync()

	registry := engine.NewFunctionRegistry()
	if err := builtinfuncs.RegisterExpr(registry); err != nil {
		return fmt.Errorf("%w: register expr function: %v", types.ErrBootstrap, err)
	}
	if err := builtinfuncs.RegisterScript(registry); err != nil {
		return fmt.Errorf("%w: register script function: %v", types.ErrBootstrap, err)
	}

	provider, closeProvider, err := buildProvider(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("%w: build function provider: %v", types.ErrBootstrap, err)
	}
	defer closeProvider()

	eng := engine.New(engine.WithFunctionProvider(provider))

	actionBroker := redisbroker.NewActionBroker(redisClient, cfg.RedisActionStreamKey)
	dispatcher := dispatch.New(actionBroker, logger)

	streamFactory := func(fid int64) worker.Stream {
		streamKey := fmt.Sprintf("%s:%d", cfg.RedisStreamKey, fid)
		return redisbroker.NewEventStream(redisClient, streamKey, cfg.RedisConsumerGroup, cfg.RedisConsumerName)
	}
	workerCfg := worker.Config{
		BatchSize:       cfg.BatchSize,
		Concurrency:     cfg.WorkerConcurrency,
		RecoveryEnabled: cfg.EnableStreamRecovery,
		RecoveryEvery:   cfg.StreamRecoveryInterval,
		MinIdleTime:     cfg.StreamMinIdleTime,
	}
	manager := worker.NewManager(repo, streamFactory, repo, eng, dispatcher, workerCfg, 5*time.Second, logger)
	manager.Start(ctx)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("reviewpipe: metrics server: %v", err)
		}
	}()

	logger.Infof("reviewpipe: running")
	<-ctx.Done()
	logger.Infof("reviewpipe: shutting down")

	manager.Stop()
	_ = metricsServer.Shutdown(context.Background())
	return nil
}

// buildProvider wires the engine's FunctionProvider: a local-only provider
// when RPC is disabled, or a hybrid provider that falls back to the
// configured gRPC review-function service otherwise.
func buildProvider(cfg *config.Config, registry *engine.FunctionRegistry, logger types.Logger) (engine.FunctionProvider, func(), error) {
	if !cfg.RPCEnabled {
		return engine.NewLocalProvider(registry), func() {}, nil
	}

	conn, err := grpc.NewClient(cfg.RPCURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, func() {}, fmt.Errorf("dial rpc function service at %s: %w", cfg.RPCURL, err)
	}
	remote := rpcfunc.NewProvider(conn, cfg.RPCTimeout, logger)
	provider := engine.NewHybridProvider(registry, remote)
	return provider, func() { _ = conn.Close() }, nil
}
