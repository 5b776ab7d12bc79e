package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mperrin/festipos/internal/config"
	"github.com/mperrin/festipos/internal/logger"
	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/parser"
	"github.com/mperrin/festipos/internal/repo"
	"github.com/mperrin/festipos/internal/service"
	httptransport "github.com/mperrin/festipos/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Event{}, &model.SellingPoint{}, &model.EPT{},
		&model.Transaction{}, &model.OutboxEvent{}, &model.ImportRun{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	importer := service.NewImportService(repository, parser.Default(), log)
	reports := service.NewReportService(repository, cfg.Cache.SummaryTTL(), log)

	// 7. gin router
	h := httptransport.NewHandler(repository, importer, reports)
	router := httptransport.NewRouter(h, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("festipos-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
