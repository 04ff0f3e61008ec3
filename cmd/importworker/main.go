package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/bilbopass/internal/adapters/postgres"
	"github.com/samirrijal/bilbopass/internal/adapters/valkey"
	"github.com/samirrijal/bilbopass/internal/core/services/importer"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/workflows"
)

// This worker exists for operators: replaying a single stuck agency's
// static import by hand, outside the hourly cycle, with Temporal's retry
// and observability instead of a one-off script.
func main() {
	cfg, err := config.Load("bilbopass-importworker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

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
		feeds = append(feeds, importer.AgencyFeed{Slug: a.Slug, Name: a.Name, StaticURL: a.StaticURL})
	}
	imp := importer.New(feeds, postgres.NewStaticStore(db), cache, cfg.Importer.HTTPTimeout, nil)

	c, err := client.Dial(client.Options{HostPort: "localhost:7233"})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, "import-recovery-queue", worker.Options{})
	w.RegisterWorkflow(workflows.ImportAgencyWorkflow)
	w.RegisterActivity(&workflows.ImportActivities{Importer: imp})

	log.Println("import recovery worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
