package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	"rfm-segments/pkg/cluster"
	"rfm-segments/pkg/config"
	"rfm-segments/pkg/database"
	"rfm-segments/pkg/features"
	"rfm-segments/pkg/ingest"
	"rfm-segments/pkg/models"
)

// Pipeline sequences one segmentation run: claim → ingest → features →
// cluster → assemble → persist → release. No partial results are visible
// mid-run; the sink write is a single transaction.
type Pipeline struct {
	store *database.Store
	cfg   *config.Config
	log   *slog.Logger
}

func New(store *database.Store, cfg *config.Config, log *slog.Logger) *Pipeline {
	return &Pipeline{store: store, cfg: cfg, log: log}
}

// Run executes the pipeline to completion for one run id. Reruns with the
// same run id fully replace the previous output. Configuration and
// concurrency errors abort before anything is written; a non-converged fit
// completes normally with Converged false in the summary.
func (p *Pipeline) Run(ctx context.Context, params models.RunParams) (*models.RunSummary, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	if err := p.store.AcquireClaim(ctx, params.RunID, p.cfg.Claim.TTL()); err != nil {
		return nil, err
	}
	defer func() {
		// Release on every exit path; persistence is already committed or
		// rolled back by the time this runs.
		if err := p.store.ReleaseClaim(context.WithoutCancel(ctx), params.RunID); err != nil {
			p.log.Warn("claim release failed", "run_id", params.RunID, "error", err)
		}
	}()

	start := time.Now()
	p.log.Info("run started", "run_id", params.RunID, "as_of", params.AsOf, "k", params.K, "seed", params.Seed)

	// Ingestion & validation.
	rawOrders, err := p.store.ReadOrders(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.StageIngest, models.CodeStorageFailure, err)
	}
	rawCustomers, err := p.store.ReadCustomers(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.StageIngest, models.CodeStorageFailure, err)
	}
	orders, orderRejects := ingest.Orders(rawOrders, params.AsOf)
	customers, customerRejects := ingest.Customers(rawCustomers)
	rejects := append(orderRejects, customerRejects...)
	p.log.Info("ingested", "run_id", params.RunID,
		"orders", len(orders), "customers", len(customers), "rejected", len(rejects))

	// Feature engineering.
	vectors, err := features.Compute(ctx, orders, customers, features.Params{
		AsOf:            params.AsOf,
		RecencySentinel: p.cfg.Feature.RecencySentinelDays,
		Workers:         p.cfg.Feature.Workers,
	})
	if err != nil {
		return nil, models.NewPipelineError(models.StageFeature, models.CodeCancelled, err)
	}

	// Clustering.
	maxIters := params.MaxIterations
	if maxIters <= 0 {
		maxIters = p.cfg.Cluster.MaxIterations
	}
	var bar *progressbar.ProgressBar
	if params.Verbose {
		bar = progressbar.Default(int64(maxIters), "clustering")
	}
	model, assignments, err := cluster.Fit(ctx, vectors, cluster.Params{
		K:                  params.K,
		Seed:               params.Seed,
		MaxIterations:      maxIters,
		IncludeAOV:         p.cfg.Feature.IncludeAOV,
		EmptyClusterPolicy: p.cfg.Cluster.EmptyClusterPolicy,
		Workers:            p.cfg.Feature.Workers,
		Progress: func(int) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if !model.Converged {
		p.log.Warn("iteration cap reached before convergence",
			"run_id", params.RunID, "iterations", model.Iterations)
	}

	// Result assembly.
	segments, warnings := assemble(params, customers, vectors, assignments)
	for _, w := range warnings {
		p.log.Warn("assembly warning", "run_id", params.RunID, "customer_id", w)
	}

	// Persistence: whole-partition overwrite for this run id.
	if err := p.store.WriteRun(ctx, params.RunID, segments, rejects, p.cfg.Sink.AuditRejects); err != nil {
		return nil, models.NewPipelineError(models.StagePersist, models.CodeStorageFailure, err)
	}

	sizes := make([]int, model.K)
	for _, a := range assignments {
		sizes[a.Segment]++
	}
	summary := &models.RunSummary{
		RunID:              params.RunID,
		RowsIngested:       len(rawOrders) + len(rawCustomers),
		RowsRejected:       len(rejects),
		CustomersSegmented: len(segments),
		Converged:          model.Converged,
		Iterations:         model.Iterations,
		ClusterSizes:       sizes,
		AssemblyWarnings:   len(warnings),
	}
	p.log.Info("run completed", "run_id", params.RunID,
		"segmented", summary.CustomersSegmented, "converged", summary.Converged,
		"iterations", summary.Iterations, "elapsed", time.Since(start))
	return summary, nil
}

func validateParams(params models.RunParams) error {
	if params.RunID == "" {
		return models.Errf(models.StageConfig, models.CodeInvalidRunID, "empty run id")
	}
	if params.AsOf.IsZero() {
		return models.Errf(models.StageConfig, models.CodeInvalidAsOf, "as-of timestamp not set")
	}
	if params.K < 1 {
		return models.Errf(models.StageConfig, models.CodeInvalidK, "k=%d", params.K)
	}
	return nil
}

// assemble inner-joins assignments onto customer records. A customer without
// a feature vector should not occur; it is reported as a warning rather than
// silently dropped from the count.
func assemble(params models.RunParams, customers []models.CustomerRecord, vectors []models.FeatureVector, assignments []models.SegmentAssignment) ([]models.SegmentRow, []string) {
	vecByID := make(map[string]models.FeatureVector, len(vectors))
	for _, fv := range vectors {
		vecByID[fv.CustomerID] = fv
	}
	asgByID := make(map[string]models.SegmentAssignment, len(assignments))
	for _, a := range assignments {
		asgByID[a.CustomerID] = a
	}

	runTS := time.Now().UTC()
	rows := make([]models.SegmentRow, 0, len(customers))
	var warnings []string
	for _, c := range customers {
		fv, okV := vecByID[c.CustomerID]
		a, okA := asgByID[c.CustomerID]
		if !okV || !okA {
			warnings = append(warnings, c.CustomerID)
			continue
		}
		rows = append(rows, models.SegmentRow{
			RunID:         params.RunID,
			CustomerID:    c.CustomerID,
			Segment:       a.Segment,
			Recency:       fv.Recency,
			Frequency:     fv.Frequency,
			Monetary:      fv.Monetary,
			AvgOrderValue: fv.AvgOrderValue,
			Distance:      a.Distance,
			RunTimestamp:  runTS,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomerID < rows[j].CustomerID })
	return rows, warnings
}

// Describe renders a one-line human summary, used by the CLI.
func Describe(s *models.RunSummary) string {
	return fmt.Sprintf("run=%s ingested=%d rejected=%d segmented=%d converged=%t iterations=%d clusters=%v",
		s.RunID, s.RowsIngested, s.RowsRejected, s.CustomersSegmented, s.Converged, s.Iterations, s.ClusterSizes)
}
