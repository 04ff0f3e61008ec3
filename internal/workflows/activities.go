package workflows

import (
	"context"
	"fmt"
	"log"

	"github.com/samirrijal/bilbopass/internal/core/services/importer"
)

// ImportActivities holds the activity implementations for the agency
// import recovery workflow. It wraps the same Importer service the
// regular hourly cycle uses, so a manually-triggered replay exercises
// the exact code path an operator is trying to unstick.
type ImportActivities struct {
	Importer *importer.Importer
}

// FetchAndImportAgency downloads one agency's static feed and replaces its
// static tables if the feed's hash changed since the last import.
func (a *ImportActivities) FetchAndImportAgency(ctx context.Context, agencySlug string) (imported bool, err error) {
	imported, err = a.Importer.ImportOne(ctx, agencySlug)
	if err != nil {
		return false, fmt.Errorf("import agency %s: %w", agencySlug, err)
	}
	return imported, nil
}

// RecordImportFailure is the compensation step: it leaves the agency's
// gtfs_meta hash untouched (so the next scheduled cycle retries from
// scratch) and only logs the outcome for the operator who triggered the
// replay.
func (a *ImportActivities) RecordImportFailure(ctx context.Context, agencySlug string, reason string) error {
	log.Printf("import replay for %s did not complete: %s", agencySlug, reason)
	return nil
}
