package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samirrijal/bilbopass/internal/adapters/postgres"
	"github.com/samirrijal/bilbopass/internal/adapters/valkey"
	"github.com/samirrijal/bilbopass/internal/core/services/importer"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("bilbopass-importer")
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

	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer cache.Close()

	var feeds []importer.AgencyFeed
	for _, a := range cfg.Agencies {
		feeds = append(feeds, importer.AgencyFeed{
			Slug:      a.Slug,
			Name:      a.Name,
			StaticURL: a.StaticURL,
		})
	}

	imp := importer.New(feeds, postgres.NewStaticStore(db), cache, cfg.Importer.HTTPTimeout, nil)

	log.Printf("BilboPass Static Importer — %d agencies, cycle every %s", len(feeds), cfg.Importer.Interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runCycle := func() {
		if err := imp.RunCycle(ctx); err != nil {
			log.Printf("import cycle: %v", err)
		}
	}

	runCycle()

	ticker := time.NewTicker(cfg.Importer.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle()
		case sig := <-quit:
			log.Printf("received signal %v, shutting down importer", sig)
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
