package models

import (
	"database/sql"
	"time"
)

/*
LOAD → raw row types as they come off the storage layer, before validation.
Fields are nullable on purpose: validation decides what a bad row is.
*/

// RawOrderRow is one order row as read from the source, unvalidated.
type RawOrderRow struct {
	CustomerID sql.NullString
	OrderID    sql.NullString
	OrderTS    sql.NullString // kept as text so unparseable timestamps reach validation
	OrderTotal sql.NullFloat64
	LineItems  sql.NullInt64
}

// RawCustomerRow is one customer row as read from the source.
type RawCustomerRow struct {
	CustomerID sql.NullString
	Attributes sql.NullString // opaque JSON blob, carried through untouched
}

// RejectReason classifies why a raw row failed validation.
type RejectReason string

const (
	ReasonMissingField         RejectReason = "MISSING_FIELD"
	ReasonNegativeAmount       RejectReason = "NEGATIVE_AMOUNT"
	ReasonUnparseableTimestamp RejectReason = "UNPARSEABLE_TIMESTAMP"
	ReasonFutureTimestamp      RejectReason = "FUTURE_TIMESTAMP"
	ReasonDuplicateOrder       RejectReason = "DUPLICATE_ORDER"
)

// RejectedRow pairs a raw row (rendered back to text) with its reject reason.
type RejectedRow struct {
	Raw    string
	Reason RejectReason
}

/*
COMPUTE → validated records and the derived entities produced per run.
*/

// OrderRecord is a validated, immutable order. OrderID is unique within a run.
type OrderRecord struct {
	CustomerID string
	OrderID    string
	Timestamp  time.Time
	Total      float64
	LineItems  int
}

// CustomerRecord is one known customer. CustomerID is unique.
type CustomerRecord struct {
	CustomerID string
	Attributes string
}

// FeatureVector holds the RFM features for one customer, computed fresh each
// run against the run's as-of timestamp. Customers with no orders get
// Frequency 0, Monetary 0 and the configured recency sentinel so they stay
// clusterable. AvgOrderValue is 0 (not undefined) when Frequency is 0.
type FeatureVector struct {
	CustomerID    string
	Recency       int
	Frequency     int
	Monetary      float64
	AvgOrderValue float64
}

// FeatureScale records the standardization parameters of one feature
// dimension. Degenerate marks a zero-variance dimension whose z-scores are
// forced to 0.
type FeatureScale struct {
	Name       string
	Mean       float64
	StdDev     float64
	Degenerate bool
}

// ClusterModel is the fitted model for one run. Never shared across runs.
type ClusterModel struct {
	K          int
	Centroids  [][]float64
	Scaling    []FeatureScale
	Converged  bool
	Iterations int
}

// SegmentAssignment maps one customer to its cluster. Segment is a dense
// label in [0, K); Distance is the Euclidean distance to the centroid in
// standardized feature space.
type SegmentAssignment struct {
	CustomerID string
	Segment    int
	Distance   float64
}

// SegmentRow is one persisted output row, keyed by (run_id, customer_id).
type SegmentRow struct {
	RunID         string
	CustomerID    string
	Segment       int
	Recency       int
	Frequency     int
	Monetary      float64
	AvgOrderValue float64
	Distance      float64
	RunTimestamp  time.Time
}

/*
RUN → parameters in, summary out.
*/

// RunParams are the inputs of one pipeline invocation.
type RunParams struct {
	RunID         string
	AsOf          time.Time // reference point for recency, UTC
	K             int
	Seed          int64
	MaxIterations int
	Verbose       bool
}

// RunSummary is returned by every completed run, converged or not.
type RunSummary struct {
	RunID              string
	RowsIngested       int
	RowsRejected       int
	CustomersSegmented int
	Converged          bool
	Iterations         int
	ClusterSizes       []int
	AssemblyWarnings   int
}
