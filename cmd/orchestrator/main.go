// Command orchestrator runs the commerce orchestration service until it
// receives a termination signal, then shuts it down gracefully.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/meridian-commerce/orchestrator/config"
	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/lock"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules/memory"
	"github.com/meridian-commerce/orchestrator/orchestrator"
	"github.com/meridian-commerce/orchestrator/pool"
	"github.com/meridian-commerce/orchestrator/saga"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Cross-module commerce orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())

	return root
}

func serveCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration service until SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration")

	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger := log.NewZeroLogger(os.Stderr, level)
	defer func() { _ = logger.Sync(context.Background()) }()

	broker, err := buildBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close(context.Background()) }()

	table, err := cfg.DestinationTable()
	if err != nil {
		return err
	}

	publisher := events.NewPublisher(broker, logger, events.WithDestinationTable(table))

	users := memory.NewUserStore()
	catalog := memory.NewCatalogStore()
	orders := memory.NewOrderStore()
	notifications := memory.NewNotifier()

	coordinatorOpts := []saga.CoordinatorOption{
		saga.WithLogger(logger),
		saga.WithJoinTimeout(cfg.JoinTimeout),
	}

	if cfg.RedisURL != "" {
		locker, lockErr := buildLocker(cfg.RedisURL, logger)
		if lockErr != nil {
			return lockErr
		}

		coordinatorOpts = append(coordinatorOpts, saga.WithLocker(locker))
	}

	coordinator, err := saga.NewCoordinator(users, catalog, orders, notifications, publisher, coordinatorOpts...)
	if err != nil {
		return err
	}

	tasks := pool.New(logger,
		pool.WithWorkers(cfg.Pool.Workers),
		pool.WithQueueSize(cfg.Pool.QueueSize))

	service, err := orchestrator.NewService(coordinator, users, catalog, orders, notifications, publisher,
		orchestrator.WithLogger(logger),
		orchestrator.WithBreakerConfig(cfg.BreakerSettings()),
		orchestrator.WithShutdownGrace(cfg.ShutdownGrace),
		orchestrator.WithTaskPool(tasks))
	if err != nil {
		return err
	}

	logger.Log(ctx, log.LevelInfo, "orchestrator started",
		log.String("log_level", cfg.LogLevel),
		log.Bool("amqp", cfg.AMQPURL != ""),
		log.Bool("redis_lock", cfg.RedisURL != ""))

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-signalCtx.Done()
	stop()

	logger.Log(ctx, log.LevelInfo, "termination signal received")

	result := service.InitiateGracefulShutdown(context.Background())

	logger.Log(ctx, log.LevelInfo, "orchestrator stopped", log.String("result", result.Message))

	return nil
}

func buildBroker(cfg config.Config, logger log.Logger) (events.Broker, error) {
	if cfg.AMQPURL == "" {
		logger.Log(context.Background(), log.LevelWarn, "no amqp url configured, events will only be logged")

		return events.NewLogBroker(logger), nil
	}

	return events.NewAMQPBroker(cfg.AMQPURL, logger)
}

func buildLocker(redisURL string, logger log.Logger) (*lock.Manager, error) {
	redisOpts, err := goredislib.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return lock.NewManager(goredislib.NewClient(redisOpts), logger)
}
