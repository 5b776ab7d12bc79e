package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mperrin/festipos/internal/config"
	"github.com/mperrin/festipos/internal/logger"
	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/repo"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Seeds a sample event with two selling points and three terminals so the
// import and reporting endpoints have something to work against.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Event{}, &model.SellingPoint{}, &model.EPT{},
		&model.Transaction{}, &model.OutboxEvent{}, &model.ImportRun{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	r := repo.NewRepository(gdb, nil, nil, log)
	ctx := context.Background()

	now := time.Now().UTC()
	event := &model.Event{Name: "Sample Event", StartAt: now, EndAt: now.Add(time.Hour)}
	if err := r.CreateEvent(ctx, event); err != nil {
		log.Fatalf("create event: %v", err)
	}

	bar := &model.SellingPoint{EventID: event.ID, Name: "Bar", Latitude: 46.52, Longitude: 6.57}
	merch := &model.SellingPoint{EventID: event.ID, Name: "Merch", Latitude: 46.53, Longitude: 6.58}
	for _, sp := range []*model.SellingPoint{bar, merch} {
		if err := r.CreateSellingPoint(ctx, sp); err != nil {
			log.Fatalf("create selling point %s: %v", sp.Name, err)
		}
	}

	epts := []*model.EPT{
		{SellingPointID: bar.ID, Provider: model.ProviderWorldline, Label: "WL-1"},
		{SellingPointID: bar.ID, Provider: model.ProviderSumup, Label: "SU-1"},
		{SellingPointID: merch.ID, Provider: model.ProviderOther, Label: "OT-1"},
	}
	for _, ept := range epts {
		if err := r.CreateEPT(ctx, ept); err != nil {
			log.Fatalf("create ept %s: %v", ept.Label, err)
		}
	}

	log.Infof("seeded event %s with %d selling points and %d terminals", event.ID, 2, len(epts))
}
