package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/samirrijal/bilbopass/internal/adapters/nats"
	"github.com/samirrijal/bilbopass/internal/adapters/postgres"
	"github.com/samirrijal/bilbopass/internal/adapters/valkey"
	"github.com/samirrijal/bilbopass/internal/core/services/poller"
	"github.com/samirrijal/bilbopass/internal/core/services/publisher"
	"github.com/samirrijal/bilbopass/internal/core/services/readiness"
	"github.com/samirrijal/bilbopass/internal/core/services/statecache"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("bilbopass-poller")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("info", "json")

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

	natsPub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer natsPub.Close()

	cache := statecache.New(valkeyClient)
	static := postgres.NewStaticStore(db)

	pub, err := publisher.New(natsPub, cache, static, nil)
	if err != nil {
		log.Fatalf("publisher: %v", err)
	}

	var feeds []poller.AgencyFeed
	for _, a := range cfg.Agencies {
		feeds = append(feeds, poller.AgencyFeed{
			Slug:                a.Slug,
			VehiclePositionsURL: a.VehiclePositionsURL,
			TripUpdatesURL:      a.TripUpdatesURL,
		})
	}

	pl := poller.New(feeds, pub, cfg.Poll.HTTPTimeout, cfg.Poll.MinPayloadBytes, nil)

	log.Printf("BilboPass Realtime Poller — %d agencies, polling every %s", len(feeds), cfg.Poll.Interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Printf("received signal %v, shutting down poller", sig)
		cancel()
	}()

	if err := pl.Run(ctx, cfg.Poll.Interval); err != nil && ctx.Err() == nil {
		log.Printf("poller stopped: %v", err)
	}
}
