package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/api"
	"gitlab.com/Refeed/Worker/capabilities"
	"gitlab.com/Refeed/Worker/feed"
	"gitlab.com/Refeed/Worker/metrics"
	"gitlab.com/Refeed/Worker/pkg/errortracking"
	"gitlab.com/Refeed/Worker/pkg/logging"
	"gitlab.com/Refeed/Worker/pkg/scheduler"
	"gitlab.com/Refeed/Worker/publisher"
	"gitlab.com/Refeed/Worker/refresh"
)

const (
	// ServiceName is the name of the service
	ServiceName = "worker"
)

func main() {
	// init config
	var config config
	err := envconfig.Process("", &config)
	if err != nil {
		panic(errors.Wrap(err, "unable to load configuration"))
	}
	config.ErrorTracking.Version = config.Hash
	config.ErrorTracking.Environment = config.ClusterEnvironment

	// init logger
	logger, err := logging.NewLogger(
		config.Environment,
		ServiceName,
	)
	if err != nil {
		panic(errors.Wrap(err, "unable to initialise logger"))
	}
	defer logger.Sync() // nolint: errcheck

	// init raven
	err = errortracking.Init(&config.ErrorTracking)
	if err != nil {
		logger.Error("unable to initialise errortracking",
			zap.Error(err),
		)
	}

	// init redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
	})
	_, err = redisClient.Ping().Result()
	if err != nil {
		logger.Fatal("unable to connect to Redis",
			zap.Error(err),
		)
	}

	// init GORM
	gormDB, err := gorm.Open("postgres", config.DBDSN)
	if err != nil {
		logger.Fatal("unable to initialise GORM session",
			zap.Error(err),
		)
	}
	defer gormDB.Close()

	err = feed.AutoMigrate(gormDB)
	if err != nil {
		logger.Fatal("unable to migrate database",
			zap.Error(err),
		)
	}

	// start metrics
	metrics.Init()

	store := feed.NewStore(gormDB)

	httpClient := &http.Client{
		Timeout: time.Second * 60,
	}

	// init capabilities
	registry := capabilities.DefaultRegistry(httpClient)

	// init refresh pipeline
	postPublisher := publisher.New(
		logger.With(zap.String("feature", "publisher")),
		store,
		httpClient,
		config.FreeFeedAPIBase,
	)

	workflow := refresh.NewWorkflow(
		logger.With(zap.String("feature", "refresh")),
		registry,
		store,
		store,
		store,
		store,
		postPublisher,
	)

	guard := refresh.NewGuard(
		logger.With(zap.String("feature", "guard")),
		redisClient,
	)

	// init scheduler
	sched := scheduler.NewScheduler(
		logger.With(zap.String("feature", "scheduler")),
		store,
		store,
		guard,
		workflow,
		config.SchedulerInterval,
		config.WorkerCount,
	)
	sched.Start()

	// init http server
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: api.New(sched),
	}

	go func() {
		err := httpServer.ListenAndServe()
		if err != http.ErrServerClosed {
			logger.Fatal("http server error",
				zap.Error(err),
				zap.String("feature", "http-server"),
			)
		}
	}()

	logger.Info("service is running",
		zap.Int("port", config.Port),
	)

	// wait for CTRL+C to stop the service
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-quitChannel

	// shutdown features

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	sched.Stop()

	err = httpServer.Shutdown(ctx)
	if err != nil {
		logger.Error("unable to shutdown HTTP Server",
			zap.Error(err),
		)
	}
}
