package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/istrom/siteinv/internal/adapter/handler"
	"github.com/istrom/siteinv/internal/adapter/storage"
	"github.com/istrom/siteinv/internal/core/service"
)

func main() {
	cmd := &cli.Command{
		Name:  "siteinv",
		Usage: "Construction site inventory and request approval service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "http-addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("SITEINV_HTTP_ADDR")},
			&cli.StringFlag{Name: "mysql-dsn", Value: "root:root@tcp(localhost:3306)/siteinv?parseTime=true", Usage: "MySQL DSN", Sources: cli.EnvVars("SITEINV_MYSQL_DSN")},
			&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", Usage: "Redis address", Sources: cli.EnvVars("SITEINV_REDIS_ADDR")},
			&cli.IntFlag{Name: "notify-workers", Value: 4, Usage: "notification dispatch workers"},
			&cli.IntFlag{Name: "notify-queue", Value: 1024, Usage: "notification queue size"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c.String("http-addr"), c.String("mysql-dsn"), c.String("redis-addr"),
				int(c.Int("notify-workers")), int(c.Int("notify-queue")))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, httpAddr, mysqlDSN, redisAddr string, notifyWorkers, notifyQueue int) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	if err := storage.RunMigrations(ctx, db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	notifier := service.NewNotificationService(mysqlAdapter, mysqlAdapter, notifyQueue, logger)
	requests := service.NewRequestService(mysqlAdapter, redisAdapter, mysqlAdapter, notifier, logger)

	var wg sync.WaitGroup
	for i := 0; i < notifyWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			notifier.Worker(id)
		}(i)
	}
	logger.Info("started notification workers", zap.Int("count", notifyWorkers))

	httpHandler := handler.NewHTTPHandler(requests, notifier)
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	notifier.Close()
	wg.Wait()
	logger.Info("notification workers stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
	return nil
}
