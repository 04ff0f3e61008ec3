package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ImportAgencyInput is the input for a manually-triggered re-import of one
// agency's static feed, used to recover from a failed scheduled cycle
// without waiting for the next hourly tick.
type ImportAgencyInput struct {
	AgencySlug string
}

// ImportAgencyWorkflow re-runs the static import for a single agency under
// Temporal's retry policy; the Importer itself makes a single attempt per
// call. If every attempt fails, the compensation activity records
// the failure for the operator; it does not touch gtfs_meta, so the next
// scheduled cycle still attempts a normal import.
func ImportAgencyWorkflow(ctx workflow.Context, input ImportAgencyInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("replaying static import", "agency", input.AgencySlug)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var imported bool
	err := workflow.ExecuteActivity(ctx, "FetchAndImportAgency", input.AgencySlug).Get(ctx, &imported)
	if err != nil {
		logger.Warn("import replay failed after retries", "agency", input.AgencySlug, "error", err)
		_ = workflow.ExecuteActivity(ctx, "RecordImportFailure", input.AgencySlug, err.Error()).Get(ctx, nil)
		return err
	}

	logger.Info("import replay complete", "agency", input.AgencySlug, "imported", imported)
	return nil
}
