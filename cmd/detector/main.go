package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/bilbopass/internal/adapters/nats"
	"github.com/samirrijal/bilbopass/internal/adapters/postgres"
	"github.com/samirrijal/bilbopass/internal/adapters/valkey"
	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/services/detector"
	"github.com/samirrijal/bilbopass/internal/core/services/readiness"
	"github.com/samirrijal/bilbopass/internal/core/services/statecache"
	"github.com/samirrijal/bilbopass/internal/core/services/writer"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("bilbopass-detector")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("info", "json")

	loc, err := time.LoadLocation(cfg.Detector.Timezone)
	if err != nil {
		log.Fatalf("timezone %q: %v", cfg.Detector.Timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	valkeyClient, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer valkeyClient.Close()

	if err := readiness.WaitUntilReady(ctx, valkeyClient, cfg.Readiness.PollInterval, cfg.Readiness.Timeout, nil); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	cache := statecache.New(valkeyClient)
	static := postgres.NewStaticStore(db)
	events := postgres.NewStopEventStore(db)

	w := writer.New(events, cfg.Writer.BatchSize, cfg.Writer.FlushInterval, nil)

	det, err := detector.New(detector.Config{
		Static:          static,
		Cache:           cache,
		Writer:          w,
		Location:        loc,
		StaticCacheSize: cfg.Detector.StaticCacheSize,
	})
	if err != nil {
		log.Fatalf("detector: %v", err)
	}

	log.Printf("BilboPass Detector — timezone %s", cfg.Detector.Timezone)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Printf("received signal %v, shutting down detector", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	err = sub.Subscribe(ctx, func(ctx context.Context, vp domain.VehiclePosition) error {
		return det.Process(ctx, vp)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("subscriber stopped: %v", err)
	}

	cancel()
	<-errCh
}
